package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxIdleBackoff     = 10 * time.Second
	maxJitter          = 250 * time.Millisecond
	dlqLookback        = 24 * time.Hour
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	Bury(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error
	CountByReason(ctx context.Context, since time.Time) (map[enums.OutboxDLQErrorReason]int64, error)
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository eventStore
	Registry   resolver
	DeadLetter deadLetters
	Metrics    *metrics.OutboxMetrics
	// Publishers overrides the per-topic publisher cache built from PubSub.
	Publishers func(topic string) publisher
}

// Service relays committed outbox rows to Pub/Sub. Rows are claimed, sent and
// settled inside one transaction so a crash leaves them pending.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	pubsub      pubSubClient
	store       eventStore
	registry    resolver
	dlq         deadLetters
	metrics     *metrics.OutboxMetrics
	publishers  publisherSource
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("config is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.DeadLetter == nil:
		return nil, errors.New("dlq repository is required")
	}

	var source publisherSource
	if p.Publishers != nil {
		source = funcSource(p.Publishers)
	} else {
		source = newTopicPublishers(p.PubSub)
	}

	cfg := p.Config.Outbox
	return &Service{
		logg:        p.Logger,
		db:          p.DB,
		pubsub:      p.PubSub,
		store:       p.Repository,
		registry:    p.Registry,
		dlq:         p.DeadLetter,
		metrics:     p.Metrics,
		publishers:  source,
		batchSize:   positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts: positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		poll:        time.Duration(positiveOr(cfg.PollIntervalMS, int(defaultPoll/time.Millisecond))) * time.Millisecond,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx ends. Empty polls and failed batches back off
// exponentially; a full batch is followed immediately by the next one.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": s.db.Ping, "pubsub": s.pubsub.Ping} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	defer s.publishers.stop()
	s.reportDeadLetters(ctx)

	wait := s.poll
	for {
		claimed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case claimed >= s.batchSize:
			wait = s.poll
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		case claimed > 0:
			wait = s.poll
		default:
			wait = min(wait*2, maxIdleBackoff)
		}

		timer := time.NewTimer(wait + rand.N(maxJitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) reportDeadLetters(ctx context.Context) {
	counts, err := s.dlq.CountByReason(ctx, time.Now().UTC().Add(-dlqLookback))
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "could not count dead letters")
		return
	}
	var total int64
	fields := map[string]any{}
	for reason, n := range counts {
		fields["dlq_"+string(reason)] = n
		total += n
	}
	if total > 0 {
		s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox events dead-lettered in the last 24h")
	}
}

// processBatch claims up to batchSize rows and settles each one. It returns
// the number of rows claimed.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	var claimed int
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.store.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed = len(events)
		if claimed == 0 {
			return nil
		}
		s.metrics.ObserveBatch(claimed)
		for _, event := range events {
			if err := s.settle(ctx, tx, event, s.dispatch(ctx, event)); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}
