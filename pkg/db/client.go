package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

// Client owns the process-wide connection pool.
type Client struct {
	conn *gorm.DB
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// TxRunner is what services depend on to get a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// New opens Postgres, or a SQLite file at cfg.DSN when useSQLite is set.
func New(ctx context.Context, cfg config.DBConfig, useSQLite bool, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	dialector := postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true})
	if useSQLite {
		dialector = sqlite.Open(cfg.DSN)
	}

	gcfg := GormConfig()
	if logg != nil {
		gcfg.Logger = newQueryLogger(logg, cfg.SlowQuery)
	}
	conn, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialector.Name(), err)
	}
	pool, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	setIfPositive(pool.SetMaxOpenConns, cfg.MaxOpenConns)
	setIfPositive(pool.SetMaxIdleConns, cfg.MaxIdleConns)
	setIfPositive(pool.SetConnMaxLifetime, cfg.ConnMaxLifetime)
	setIfPositive(pool.SetConnMaxIdleTime, cfg.ConnMaxIdleTime)

	if logg != nil {
		logg.Info(logg.WithField(ctx, "dialect", dialector.Name()), "database pool ready")
	}
	return &Client{conn: conn}, nil
}

func NewFromGorm(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

// GormConfig stamps timestamps in UTC and keeps gorm quiet. New swaps in a
// query logger when it has one.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		NowFunc:                func() time.Time { return time.Now().UTC() },
		Logger:                 newQueryLogger(nil, 0),
		SkipDefaultTransaction: true,
	}
}

func setIfPositive[T int | time.Duration](set func(T), v T) {
	if v > 0 {
		set(v)
	}
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (c *Client) Close() error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// WithTx commits when fn returns nil and rolls back on error or panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
