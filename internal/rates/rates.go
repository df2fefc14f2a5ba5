package rates

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eurofxref/rates-api/internal/apperror"
)

// BaseCurrency is the base all upstream reference rates are quoted against.
const BaseCurrency = "EUR"

// EarliestDate is the first publication date of the upstream feed.
var EarliestDate = time.Date(1999, 1, 4, 0, 0, 0, 0, time.UTC)

// Record holds all reference rates published for a single date. Rates maps
// quote currency to units per one unit of Base; Base itself never appears
// as a key.
type Record struct {
	Date  time.Time          `json:"date"`
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// Day normalizes t to midnight UTC so records compare by calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Rebase re-expresses the record against a new base currency. The old base
// joins the rate map and the new base leaves it, so rebasing back recovers
// the original values.
func (r Record) Rebase(base string) (Record, error) {
	base = strings.ToUpper(base)
	if base == r.Base {
		return r.clone(), nil
	}
	pivot, ok := r.Rates[base]
	if !ok {
		return Record{}, apperror.New(apperror.UnknownCurrency, fmt.Sprintf("base currency not available: %s", base))
	}
	rebased := make(map[string]float64, len(r.Rates))
	for currency, v := range r.Rates {
		if currency == base {
			continue
		}
		rebased[currency] = v / pivot
	}
	rebased[r.Base] = 1 / pivot
	return Record{Date: r.Date, Base: base, Rates: rebased}, nil
}

// Filter keeps only the requested quote currencies. An empty symbol list
// keeps everything; any symbol absent from the record is an error naming
// all the missing ones.
func (r Record) Filter(symbols []string) (Record, error) {
	if len(symbols) == 0 {
		return r.clone(), nil
	}
	filtered := make(map[string]float64, len(symbols))
	var missing []string
	for _, s := range symbols {
		s = strings.ToUpper(s)
		v, ok := r.Rates[s]
		if !ok {
			missing = append(missing, s)
			continue
		}
		filtered[s] = v
	}
	if len(missing) > 0 {
		return Record{}, apperror.New(apperror.UnknownCurrency, fmt.Sprintf("currencies not available: %s", strings.Join(missing, ", ")))
	}
	return Record{Date: r.Date, Base: r.Base, Rates: filtered}, nil
}

// Currencies returns the quote currencies of the record in sorted order.
func (r Record) Currencies() []string {
	out := make([]string, 0, len(r.Rates))
	for c := range r.Rates {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (r Record) clone() Record {
	rates := make(map[string]float64, len(r.Rates))
	for c, v := range r.Rates {
		rates[c] = v
	}
	return Record{Date: r.Date, Base: r.Base, Rates: rates}
}
