package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-backend/internal/bootstrap"
	"github.com/angelmondragon/marketplace-backend/internal/consumers/orderevents"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/internal/receipts"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/idempotency"
)

func main() {
	bootstrap.Main("worker", run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg, logg := rt.Config, rt.Logger

	dbClient, err := rt.Database(ctx)
	if err != nil {
		return err
	}
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		return err
	}
	broker, err := rt.PubSub(ctx)
	if err != nil {
		return err
	}
	gateway, err := rt.Stripe(ctx)
	if err != nil {
		return err
	}

	orderService, err := orders.Wire(orders.Dependencies{
		Config:  cfg,
		DB:      dbClient,
		Gateway: gateway,
		Metrics: metrics.NewOrderMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return fmt.Errorf("order service: %w", err)
	}
	receiptService, err := receipts.NewService(orderService, receipts.NewRepository(dbClient.DB()), logg)
	if err != nil {
		return fmt.Errorf("receipt service: %w", err)
	}

	dedupe, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return err
	}
	handler, err := orderevents.NewHandler(receiptService, orderService, logg)
	if err != nil {
		return err
	}
	orderConsumer, err := orderevents.NewService(broker.OrdersSubscription(), handler, dedupe, logg)
	if err != nil {
		return err
	}

	worker, err := NewService(ServiceParams{
		Logger: logg,
		Dependencies: map[string]pinger{
			"database": dbClient,
			"redis":    redisClient,
			"pubsub":   broker,
		},
		Consumers: map[string]consumer{
			"order-events": orderConsumer,
		},
	})
	if err != nil {
		return err
	}
	return worker.Run(ctx)
}
