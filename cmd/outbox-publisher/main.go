package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-backend/internal/bootstrap"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
)

func main() {
	bootstrap.Main("outbox-publisher", run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	dbClient, err := rt.Database(ctx)
	if err != nil {
		return err
	}
	broker, err := rt.PubSub(ctx)
	if err != nil {
		return err
	}
	routes, err := registry.NewEventRegistry(rt.Config.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}

	publisher, err := NewService(ServiceParams{
		Config:     rt.Config,
		Logger:     rt.Logger,
		DB:         dbClient,
		PubSub:     broker,
		Repository: outbox.NewRepository(dbClient.DB()),
		Registry:   routes,
		DeadLetter: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}
	return publisher.Run(ctx)
}
