// Package feed defines the upstream rate feed contract consumed by the
// sync engine.
package feed

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/eurofxref/rates-api/internal/rates"
)

var (
	// ErrUnavailable reports a transport failure reaching the upstream feed.
	ErrUnavailable = errors.New("feed unavailable")
	// ErrParse reports a malformed or empty upstream document.
	ErrParse = errors.New("malformed feed document")
	// ErrDateOutsideWindow reports a targeted fetch for a date the feed
	// cannot address directly.
	ErrDateOutsideWindow = errors.New("date outside feed window")
	// ErrNotPublished reports a date the feed covers but has no record for,
	// meaning the upstream never published rates that day.
	ErrNotPublished = errors.New("no rates published for date")
)

// Feed provides daily reference rates from an upstream source. All calls are
// read-only against upstream state and safe to repeat.
type Feed interface {
	// Latest returns the most recently published record.
	Latest(ctx context.Context) (rates.Record, error)
	// History yields every published record in a single lazy pass, oldest
	// first. The sequence is not restartable; errors end the sequence.
	History(ctx context.Context) iter.Seq2[rates.Record, error]
	// ByDate returns the record published for one date.
	ByDate(ctx context.Context, date time.Time) (rates.Record, error)
}
