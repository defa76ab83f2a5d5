package cron

import (
	"context"
	"errors"
	"testing"
)

type namedJob string

func (n namedJob) Name() string              { return string(n) }
func (n namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	registry := NewRegistry(namedJob("order-ttl"), nil, namedJob("outbox-retention"))
	jobs := registry.Jobs()
	if len(jobs) != 2 || jobs[0].Name() != "order-ttl" || jobs[1].Name() != "outbox-retention" {
		t.Fatalf("unexpected jobs %v", jobs)
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("Jobs must return a copy")
	}
}

func TestRegistryRejectsDuplicateAndEmptyNames(t *testing.T) {
	registry := NewRegistry(namedJob("order-ttl"))
	if err := registry.Register(namedJob("order-ttl")); err == nil {
		t.Fatalf("expected duplicate name error")
	}
	if err := registry.Register(namedJob("")); err == nil {
		t.Fatalf("expected empty name error")
	}
	if err := registry.Register(nil); err == nil {
		t.Fatalf("expected nil job error")
	}
	if got := len(registry.Jobs()); got != 1 {
		t.Fatalf("expected 1 job, got %d", got)
	}
}

func TestNewRegistryPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewRegistry(namedJob("a"), namedJob("a"))
}

func TestJobFunc(t *testing.T) {
	boom := errors.New("boom")
	job := JobFunc("sweep", func(context.Context) error { return boom })
	if job.Name() != "sweep" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
