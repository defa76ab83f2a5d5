// Package bootstrap is the startup and teardown sequence shared by the
// long-running binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/instance"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/migrate"
	"github.com/angelmondragon/marketplace-backend/pkg/pubsub"
	"github.com/angelmondragon/marketplace-backend/pkg/redis"
	"github.com/angelmondragon/marketplace-backend/pkg/stripe"
)

// Runtime carries the loaded configuration and every resource opened
// through it. Resources are closed in reverse order of opening.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger

	closers []closer
}

type closer struct {
	name  string
	close func() error
}

// RunFunc is a binary's body. ctx is cancelled on SIGINT or SIGTERM.
type RunFunc func(ctx context.Context, rt *Runtime) error

// Main runs fn for the given service kind and exits non-zero when it fails
// for any reason other than shutdown.
func Main(kind string, fn RunFunc) {
	rt, err := Load(kind)
	if err != nil {
		logger.New(logger.Options{ServiceName: kind}).Error(context.Background(), "startup failed", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = rt.Logger.WithFields(ctx, map[string]any{
		"env":          rt.Config.App.Env,
		"service_kind": kind,
		"instance":     instance.ID(),
	})
	rt.Logger.Info(ctx, "starting")

	err = fn(ctx, rt)
	stop()
	if cerr := rt.Close(); cerr != nil {
		rt.Logger.Error(ctx, "releasing resources", cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		rt.Logger.Error(ctx, "stopped unexpectedly", err)
		os.Exit(1)
	}
	rt.Logger.Info(ctx, "stopped")
}

// Load reads .env when present, then the environment, and builds the
// service logger.
func Load(kind string) (*Runtime, error) {
	dotenvErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind

	logg := logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	if dotenvErr != nil {
		logg.Debug(context.Background(), "no .env file, using process environment")
	}
	return &Runtime{Config: cfg, Logger: logg}, nil
}

func (rt *Runtime) onClose(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, close: fn})
}

// Close releases every opened resource and reports all failures together.
func (rt *Runtime) Close() error {
	var err error
	for _, c := range slices.Backward(rt.closers) {
		if cerr := c.close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", c.name, cerr))
		}
	}
	rt.closers = nil
	return err
}

// Database opens the pool and, in development, applies pending migrations.
func (rt *Runtime) Database(ctx context.Context) (*db.Client, error) {
	client, err := db.New(ctx, rt.Config.DB, rt.Config.FeatureFlags.UseSQLite, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	rt.onClose("database", client.Close)
	if err := migrate.MaybeRunDev(ctx, rt.Config, rt.Logger, client); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return client, nil
}

func (rt *Runtime) Redis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	rt.onClose("redis", client.Close)
	return client, nil
}

func (rt *Runtime) PubSub(ctx context.Context) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, rt.Config.GCP, rt.Config.PubSub, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	rt.onClose("pubsub", client.Close)
	return client, nil
}

func (rt *Runtime) Stripe(ctx context.Context) (*stripe.Client, error) {
	client, err := stripe.NewClient(ctx, rt.Config.Stripe, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("stripe: %w", err)
	}
	return client, nil
}
