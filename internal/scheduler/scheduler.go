// Package scheduler drives periodic sync cycles: one immediately at start,
// one on every interval tick, and one whenever Notify is called.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	ratesync "github.com/eurofxref/rates-api/internal/sync"
)

// Syncer runs one sync cycle.
type Syncer interface {
	Sync(ctx context.Context) error
}

type Scheduler struct {
	cron     *cron.Cron
	syncer   Syncer
	interval time.Duration
	notify   chan struct{}
}

func New(syncer Syncer, interval time.Duration) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		syncer:   syncer,
		interval: interval,
		notify:   make(chan struct{}, 1),
	}
}

// Notify requests an out-of-band sync cycle. Non-blocking; requests landing
// while one is already queued coalesce.
func (s *Scheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run registers the interval tick, fires the initial cycle, and blocks until
// ctx is cancelled. On return the in-flight tick, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.runCycle(ctx) }); err != nil {
		return fmt.Errorf("register sync schedule: %w", err)
	}

	s.cron.Start()
	defer func() { <-s.cron.Stop().Done() }()

	slog.Info("scheduler started", "interval", s.interval.String())

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.notify:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := s.syncer.Sync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ratesync.ErrInProgress):
		// A tick landed during a running cycle; the guard makes overlap a
		// no-op rather than a queue.
		slog.Debug("sync tick skipped, cycle already running")
	default:
		slog.Error("sync cycle failed", "error", err)
	}
}
