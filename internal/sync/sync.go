// Package sync keeps the rate store complete against the upstream feed. One
// cycle fetches the latest record, computes the set of publication dates
// missing from the store, and repairs them. Cold start and steady state run
// the same cycle; they differ only in the size of the gap set.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eurofxref/rates-api/internal/feed"
	"github.com/eurofxref/rates-api/internal/rates"
)

// ErrInProgress reports a sync cycle requested while one is running.
var ErrInProgress = errors.New("sync cycle already in progress")

const (
	dateFormat = "2006-01-02"
	flushBatch = 500
)

// Service drives sync cycles. At most one cycle runs at a time; the fields
// below the guard are only touched by the running cycle.
type Service struct {
	feed    feed.Feed
	repo    rates.Repository
	cal     *Calendar
	workers int

	running atomic.Bool
	ready   atomic.Bool

	upstreamEarliest time.Time
	// unpublished holds calendar dates the upstream confirmed it has no
	// record for, so an imperfect closing-day calendar cannot force a full
	// archive download every cycle. Re-derived after restart.
	unpublished map[time.Time]bool
}

func NewService(f feed.Feed, repo rates.Repository, cal *Calendar, opts ...Option) *Service {
	s := &Service{
		feed:        f,
		repo:        repo,
		cal:         cal,
		workers:     5,
		unpublished: make(map[time.Time]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Service)

// WithWorkers sets the concurrency of targeted gap fetches.
func WithWorkers(n int) Option {
	return func(s *Service) { s.workers = n }
}

// Ready reports whether the store holds servable data: a cycle has completed
// in this process, or a cycle probe found records from a past cold start.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Sync runs one cycle: fetch and store the latest record, then repair every
// gap between the upstream's earliest date and that record. Returns
// ErrInProgress without side effects when a cycle is already running. Any
// other error means the cycle gave up early; the next tick retries.
func (s *Service) Sync(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrInProgress
	}
	defer s.running.Store(false)

	start := time.Now()

	_, hasData, err := s.repo.LatestDate(ctx)
	if err != nil {
		return fmt.Errorf("probe store: %w", err)
	}
	if hasData {
		// A populated store means a past cold start already completed.
		// Readiness must not wait on the feed: an outage at boot would
		// otherwise hide stale-but-valid data behind the gate.
		s.ready.Store(true)
	}

	latest, err := s.feed.Latest(ctx)
	if err != nil {
		return fmt.Errorf("fetch latest: %w", err)
	}

	var written int64
	if !hasData {
		written, err = s.coldStart(ctx, latest)
	} else {
		written, err = s.recheck(ctx, latest)
	}
	if err != nil {
		return err
	}

	s.ready.Store(true)
	slog.Info("sync cycle complete",
		"latest", latest.Date.Format(dateFormat),
		"written", written,
		"took", time.Since(start).Round(time.Millisecond))
	return nil
}

// coldStart loads the entire archive in one streaming pass. The pass also
// learns the upstream's earliest date, which is cached for the process
// lifetime. The latest record is written only after the archive: if the
// pass dies midway the store keeps an oldest-first prefix whose earliest
// date still stands in for the upstream bound on the next cycle.
func (s *Service) coldStart(ctx context.Context, latest rates.Record) (int64, error) {
	earliest, written, err := s.loadArchive(ctx, nil)
	if err != nil {
		return written, err
	}
	s.upstreamEarliest = earliest

	// The daily document can run ahead of the archive around publication
	// time, so the latest record is written directly to close the bounds.
	if err := s.repo.Put(ctx, latest); err != nil {
		return written, fmt.Errorf("put latest: %w", err)
	}

	slog.Info("cold start loaded full archive",
		"earliest", earliest.Format(dateFormat), "records", written)

	return written, s.confirmUnpublished(ctx, earliest, latest.Date)
}

// recheck computes the gap set over the known bounds and repairs it.
func (s *Service) recheck(ctx context.Context, latest rates.Record) (int64, error) {
	// Always written, before gap detection runs: yesterday's "latest" is
	// today's historical date and must not wait for a gap to be noticed.
	if err := s.repo.Put(ctx, latest); err != nil {
		return 0, fmt.Errorf("put latest: %w", err)
	}

	if s.upstreamEarliest.IsZero() {
		// Restarted over an existing store: its earliest date came from a
		// past archive load and stands in for the upstream bound.
		earliest, ok, err := s.repo.EarliestDate(ctx)
		if err != nil {
			return 0, fmt.Errorf("earliest date: %w", err)
		}
		if !ok {
			return 0, errors.New("store has a latest date but no earliest date")
		}
		s.upstreamEarliest = earliest
	}

	gaps, err := s.missingDates(ctx, s.upstreamEarliest, latest.Date)
	if err != nil {
		return 0, err
	}
	if len(gaps) == 0 {
		return 0, nil
	}

	slog.Info("repairing gaps", "count", len(gaps),
		"first", gaps[0].Format(dateFormat), "last", gaps[len(gaps)-1].Format(dateFormat))
	return s.repair(ctx, gaps)
}

// missingDates returns the publication dates in [from, to] that are neither
// stored nor confirmed unpublished, ascending.
func (s *Service) missingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	existing, err := s.repo.ExistingDates(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("existing dates: %w", err)
	}
	var gaps []time.Time
	for _, d := range s.cal.BusinessDays(from, to) {
		if !existing[d] && !s.unpublished[d] {
			gaps = append(gaps, d)
		}
	}
	return gaps, nil
}

// repair fills gap dates with parallel targeted fetches, falling back to one
// archive pass for dates the feed cannot address directly. Per-date fetch and
// write failures are logged and left for the next cycle.
func (s *Service) repair(ctx context.Context, gaps []time.Time) (int64, error) {
	type outcome struct {
		rec         *rates.Record
		outside     bool
		unpublished bool
	}
	outcomes := make([]outcome, len(gaps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, d := range gaps {
		g.Go(func() error {
			rec, err := s.feed.ByDate(gctx, d)
			switch {
			case err == nil:
				outcomes[i] = outcome{rec: &rec}
			case errors.Is(err, feed.ErrDateOutsideWindow):
				outcomes[i] = outcome{outside: true}
			case errors.Is(err, feed.ErrNotPublished):
				outcomes[i] = outcome{unpublished: true}
			default:
				slog.Error("targeted fetch failed", "date", d.Format(dateFormat), "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var written int64
	var leftover []time.Time
	for i, o := range outcomes {
		switch {
		case o.rec != nil:
			if err := s.repo.Put(ctx, *o.rec); err != nil {
				slog.Error("gap write failed", "date", gaps[i].Format(dateFormat), "error", err)
				continue
			}
			written++
		case o.unpublished:
			s.unpublished[gaps[i]] = true
		case o.outside:
			leftover = append(leftover, gaps[i])
		}
	}

	if len(leftover) == 0 {
		return written, nil
	}

	slog.Info("falling back to full archive for dates outside the feed window",
		"count", len(leftover))

	only := make(map[time.Time]bool, len(leftover))
	for _, d := range leftover {
		only[d] = true
	}
	_, n, err := s.loadArchive(ctx, only)
	if err != nil {
		return written, err
	}
	written += n

	// leftover is ascending, so its ends bound the confirmation scan.
	if err := s.confirmUnpublished(ctx, leftover[0], leftover[len(leftover)-1]); err != nil {
		return written, err
	}
	return written, nil
}

// loadArchive consumes one pass of the full history stream. A nil filter
// writes every record; otherwise only the filtered dates are written.
// Records are flushed in batches to keep the pass streaming. Returns the
// archive's earliest date and the number of records newly written.
func (s *Service) loadArchive(ctx context.Context, only map[time.Time]bool) (time.Time, int64, error) {
	var (
		earliest time.Time
		written  int64
		buf      []rates.Record
	)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		n, err := s.repo.PutAll(ctx, buf)
		if err != nil {
			return fmt.Errorf("write archive batch: %w", err)
		}
		written += n
		buf = buf[:0]
		return nil
	}

	for rec, err := range s.feed.History(ctx) {
		if err != nil {
			return time.Time{}, written, fmt.Errorf("archive pass: %w", err)
		}
		if earliest.IsZero() {
			earliest = rec.Date
		}
		if only != nil && !only[rec.Date] {
			continue
		}
		buf = append(buf, rec)
		if len(buf) >= flushBatch {
			if err := flush(); err != nil {
				return earliest, written, err
			}
		}
	}
	if err := flush(); err != nil {
		return earliest, written, err
	}
	return earliest, written, nil
}

// confirmUnpublished marks calendar dates in [from, to] that are still
// missing after a clean archive pass. The archive is authoritative: a date
// it does not carry was never published.
func (s *Service) confirmUnpublished(ctx context.Context, from, to time.Time) error {
	existing, err := s.repo.ExistingDates(ctx, from, to)
	if err != nil {
		return fmt.Errorf("confirm unpublished: %w", err)
	}
	n := 0
	for _, d := range s.cal.BusinessDays(from, to) {
		if !existing[d] && !s.unpublished[d] {
			s.unpublished[d] = true
			n++
		}
	}
	if n > 0 {
		slog.Info("confirmed unpublished dates", "count", n)
	}
	return nil
}
