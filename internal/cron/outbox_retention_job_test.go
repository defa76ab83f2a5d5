package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

type fakePruner struct {
	remaining int64
	cutoffs   []time.Time
	err       error
}

func (f *fakePruner) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil {
		return 0, f.err
	}
	n := min(f.remaining, int64(limit))
	f.remaining -= n
	return n, nil
}

type passthroughTx struct{ calls int }

func (p *passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	p.calls++
	return fn(nil)
}

func newRetentionJob(t *testing.T, repo *fakePruner, db *passthroughTx, retention time.Duration, batch int) *outboxRetentionJob {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		DB:         db,
		Repository: repo,
		Retention:  retention,
		BatchSize:  batch,
	})
	require.NoError(t, err)
	return job.(*outboxRetentionJob)
}

func TestOutboxRetentionDrainsInBatches(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakePruner{remaining: 25}
	db := &passthroughTx{}
	job := newRetentionJob(t, repo, db, 0, 10)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 3, db.calls, "10 + 10 + 5")
	assert.Zero(t, repo.remaining)
	for _, cutoff := range repo.cutoffs {
		assert.True(t, cutoff.Equal(now.Add(-outboxRetention)))
	}
}

func TestOutboxRetentionExactBatchMakesOneEmptyPass(t *testing.T) {
	repo := &fakePruner{remaining: 10}
	db := &passthroughTx{}
	require.NoError(t, newRetentionJob(t, repo, db, 48*time.Hour, 10).Run(context.Background()))
	assert.Equal(t, 2, db.calls)
}

func TestOutboxRetentionHonoursConfiguredWindow(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakePruner{}
	job := newRetentionJob(t, repo, &passthroughTx{}, 48*time.Hour, 0)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, repo.cutoffs, 1)
	assert.True(t, repo.cutoffs[0].Equal(now.Add(-48*time.Hour)))
	assert.Equal(t, outboxRetentionBatch, job.batch)
}

func TestOutboxRetentionPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := newRetentionJob(t, &fakePruner{err: boom}, &passthroughTx{}, 0, 0).Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestOutboxRetentionStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	db := &passthroughTx{}
	err := newRetentionJob(t, &fakePruner{remaining: 100}, db, 0, 10).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, db.calls)
}
