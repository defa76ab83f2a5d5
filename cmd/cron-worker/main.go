package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-backend/internal/bootstrap"
	"github.com/angelmondragon/marketplace-backend/internal/cron"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

func main() {
	bootstrap.Main("cron-worker", run)
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

	expireJob, err := cron.NewOrderTTLJob(cron.OrderTTLJobParams{Logger: logg, Orders: orderService})
	if err != nil {
		return err
	}
	pruneJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return err
	}

	// one lock per environment so staging and prod never contend
	lockName := "cron-worker:" + cfg.App.Env
	if cfg.App.Env == "" {
		lockName = "cron-worker:local"
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Cron.LockTTL)
	if err != nil {
		return err
	}

	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expireJob, pruneJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}
	return scheduler.Run(ctx)
}
