package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eurofxref/rates-api/internal/apperror"
)

// Service answers rate queries from the store. All reads are pure functions
// of stored records and stay correct while a sync writes concurrently.
type Service struct {
	repo  Repository
	ready func() bool
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		ready: func() bool { return true },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Service)

// WithReadiness gates queries until fn reports true. Queries before that
// fail with a NO_DATA error even if the store already holds partial data.
func WithReadiness(fn func() bool) Option {
	return func(s *Service) { s.ready = fn }
}

// Latest returns the most recent stored record, rebased and filtered.
func (s *Service) Latest(ctx context.Context, base string, symbols []string) (Record, error) {
	if !s.ready() {
		return Record{}, errNoData()
	}
	latest, ok, err := s.repo.LatestDate(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("latest date: %w", err)
	}
	if !ok {
		return Record{}, errNoData()
	}
	rec, err := s.repo.Get(ctx, latest)
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	if rec == nil {
		return Record{}, errNoData()
	}
	return present(*rec, base, symbols)
}

// ByDate returns the record stored for the given date, rebased and filtered.
// A date missing from a non-empty store is DATE_NOT_FOUND, not NO_DATA, so
// callers can tell "check the bounds" apart from "nothing loaded".
func (s *Service) ByDate(ctx context.Context, date time.Time, base string, symbols []string) (Record, error) {
	if !s.ready() {
		return Record{}, errNoData()
	}
	date = Day(date)
	rec, err := s.repo.Get(ctx, date)
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	if rec != nil {
		return present(*rec, base, symbols)
	}

	latest, ok, err := s.repo.LatestDate(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("latest date: %w", err)
	}
	if !ok {
		return Record{}, errNoData()
	}
	earliest, _, err := s.repo.EarliestDate(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("earliest date: %w", err)
	}
	return Record{}, apperror.New(apperror.DateNotFound,
		fmt.Sprintf("no rates for %s; stored dates span %s to %s",
			date.Format(time.DateOnly), earliest.Format(time.DateOnly), latest.Format(time.DateOnly)))
}

// History returns every stored record in [from, to], ascending, rebased and
// filtered. An empty result for a valid range is not an error.
func (s *Service) History(ctx context.Context, from, to time.Time, base string, symbols []string) ([]Record, error) {
	if !s.ready() {
		return nil, errNoData()
	}
	from, to = Day(from), Day(to)
	if from.After(to) {
		return nil, apperror.New(apperror.InvalidRange, "start date is after end date")
	}
	if _, ok, err := s.repo.LatestDate(ctx); err != nil {
		return nil, fmt.Errorf("latest date: %w", err)
	} else if !ok {
		return nil, errNoData()
	}
	records, err := s.repo.GetRange(ctx, from, to)
	if err != nil {
		if errors.Is(err, ErrInvalidRange) {
			return nil, apperror.New(apperror.InvalidRange, err.Error())
		}
		return nil, fmt.Errorf("get range: %w", err)
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		p, err := present(rec, base, symbols)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func present(rec Record, base string, symbols []string) (Record, error) {
	if base != "" {
		var err error
		rec, err = rec.Rebase(base)
		if err != nil {
			return Record{}, err
		}
	}
	return rec.Filter(symbols)
}

func errNoData() error {
	return apperror.New(apperror.NoData, "no rate data available yet")
}
