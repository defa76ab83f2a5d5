package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const defaultExpiryBatch = 200

// OrderExpirer cancels card orders whose payment never arrived.
type OrderExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

type OrderTTLJobParams struct {
	Logger    *logger.Logger
	Orders    OrderExpirer
	BatchSize int
}

// NewOrderTTLJob builds the job that times out unpaid card orders.
func NewOrderTTLJob(params OrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &orderTTLJob{logg: params.Logger, orders: params.Orders, batch: batch}, nil
}

type orderTTLJob struct {
	logg   *logger.Logger
	orders OrderExpirer
	batch  int
}

func (j *orderTTLJob) Name() string { return "order-ttl" }

// Run drains stale orders batch by batch until a short batch signals the
// backlog is clear.
func (j *orderTTLJob) Run(ctx context.Context) error {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		expired, err := j.orders.ExpireStale(ctx, j.batch)
		if err != nil {
			return fmt.Errorf("expire stale orders: %w", err)
		}
		total += expired
		if expired < j.batch {
			break
		}
	}
	j.logg.Info(j.logg.WithField(ctx, "orders_expired", total), "order ttl sweep complete")
	return nil
}
