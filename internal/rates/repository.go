package rates

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidRange reports a range query whose start date is after its end.
var ErrInvalidRange = errors.New("start date is after end date")

// Repository is an append-only store of daily rate records keyed by date.
// Writes for a date already present are no-ops, so every method is safe to
// call concurrently with a running sync.
type Repository interface {
	// Has reports whether a record is stored for the given date.
	Has(ctx context.Context, date time.Time) (bool, error)
	// Get returns the record for the given date, or nil when none is stored.
	Get(ctx context.Context, date time.Time) (*Record, error)
	// GetRange returns all stored records with from <= date <= to, ordered
	// by date ascending. Returns ErrInvalidRange when from is after to.
	GetRange(ctx context.Context, from, to time.Time) ([]Record, error)
	// Put stores one record unless its date already exists.
	Put(ctx context.Context, record Record) error
	// PutAll stores records in a single batch, skipping dates that already
	// exist, and reports how many were newly written.
	PutAll(ctx context.Context, records []Record) (int64, error)
	// ExistingDates returns the set of stored dates with from <= date <= to.
	ExistingDates(ctx context.Context, from, to time.Time) (map[time.Time]bool, error)
	// EarliestDate returns the oldest stored date, or false when the store
	// is empty.
	EarliestDate(ctx context.Context) (time.Time, bool, error)
	// LatestDate returns the newest stored date, or false when the store
	// is empty.
	LatestDate(ctx context.Context) (time.Time, bool, error)
}
