package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-backend/api/controllers"
	"github.com/angelmondragon/marketplace-backend/api/routes"
	"github.com/angelmondragon/marketplace-backend/internal/bootstrap"
	"github.com/angelmondragon/marketplace-backend/internal/inventory"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/internal/receipts"
	stripewebhook "github.com/angelmondragon/marketplace-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

const shutdownTimeout = 15 * time.Second

func main() {
	bootstrap.Main("api", run)
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
	tokenKeys, err := auth.NewKeys(cfg.JWT)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orderService, err := orders.Wire(orders.Dependencies{
		Config:  cfg,
		DB:      dbClient,
		Gateway: gateway,
		Metrics: metrics.NewOrderMetrics(registry),
		Logger:  logg,
	})
	if err != nil {
		return fmt.Errorf("order service: %w", err)
	}
	receiptService, err := receipts.NewService(orderService, receipts.NewRepository(dbClient.DB()), logg)
	if err != nil {
		return fmt.Errorf("receipt service: %w", err)
	}
	inventoryService, err := inventory.NewService(
		inventory.NewLedger(dbClient.DB()),
		dbClient,
		outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		logg,
	)
	if err != nil {
		return fmt.Errorf("inventory service: %w", err)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		return err
	}
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:  orderService,
		Gateway: gateway,
		Guard:   webhookGuard,
		Logger:  logg,
	})
	if err != nil {
		return fmt.Errorf("webhook service: %w", err)
	}

	// platforms such as Heroku inject PORT
	port := cfg.App.Port
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	server := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(routes.Params{
			Config: cfg,
			Logger: logg,
			Tokens: tokenKeys,
			Readiness: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
			},
			Idempotency: redisClient,
			Orders:      orderService,
			AdminOrders: orderService,
			Receipts:    receiptService,
			Inventory:   inventoryService,
			Payments:    webhookService,
			Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(logg.WithField(ctx, "addr", server.Addr), rt, server)
}

// serve blocks until the listener fails or ctx is cancelled, then drains
// in-flight requests.
func serve(ctx context.Context, rt *bootstrap.Runtime, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		rt.Logger.Info(ctx, "http listener up")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
