// Package ecb implements the rate feed against the European Central Bank's
// euro foreign exchange reference rate documents. The ECB publishes three
// XML documents sharing one schema: the latest day, the last ninety days,
// and the full archive back to 1999. There is no per-date endpoint, so
// targeted fetches are answered from a cached copy of the ninety-day
// document.
package ecb

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/eurofxref/rates-api/internal/feed"
	"github.com/eurofxref/rates-api/internal/rates"
)

const (
	defaultDailyURL     = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"
	defaultNinetyDayURL = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-hist-90d.xml"
	defaultHistoryURL   = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-hist.xml"
	dateFormat          = "2006-01-02"
	defaultWindowTTL    = 10 * time.Minute
)

// Client fetches and parses the ECB reference rate documents.
type Client struct {
	client       *http.Client
	limiter      *rate.Limiter
	dailyURL     string
	ninetyDayURL string
	historyURL   string
	windowTTL    time.Duration

	mu     sync.Mutex
	window *window
}

// window is a parsed ninety-day document kept briefly so the targeted
// fetches of one sync cycle share a single download.
type window struct {
	records  map[time.Time]rates.Record
	earliest time.Time
	latest   time.Time
	fetched  time.Time
}

// New creates a Client with the given options applied.
func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 30 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(2), 1),
		dailyURL:     defaultDailyURL,
		ninetyDayURL: defaultNinetyDayURL,
		historyURL:   defaultHistoryURL,
		windowTTL:    defaultWindowTTL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithClient sets the HTTP client.
func WithClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithEndpoints overrides the three document URLs. Empty values keep the
// defaults.
func WithEndpoints(daily, ninetyDay, history string) Option {
	return func(c *Client) {
		if daily != "" {
			c.dailyURL = daily
		}
		if ninetyDay != "" {
			c.ninetyDayURL = ninetyDay
		}
		if history != "" {
			c.historyURL = history
		}
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithWindowTTL sets how long a fetched ninety-day document is reused.
func WithWindowTTL(d time.Duration) Option {
	return func(c *Client) { c.windowTTL = d }
}

// Latest returns the single record of the daily document.
func (c *Client) Latest(ctx context.Context) (rates.Record, error) {
	records, err := c.fetchDocument(ctx, c.dailyURL)
	if err != nil {
		return rates.Record{}, err
	}
	return records[0], nil
}

// History yields the full archive oldest first. The document itself lists
// newest first, so records are buffered and reversed before yielding; the
// download does not start until the sequence is ranged over.
func (c *Client) History(ctx context.Context) iter.Seq2[rates.Record, error] {
	return func(yield func(rates.Record, error) bool) {
		records, err := c.fetchDocument(ctx, c.historyURL)
		if err != nil {
			yield(rates.Record{}, err)
			return
		}
		for i := len(records) - 1; i >= 0; i-- {
			if !yield(records[i], nil) {
				return
			}
		}
	}
}

// ByDate answers a targeted fetch from the ninety-day document. Dates the
// document does not span return ErrDateOutsideWindow so the caller can fall
// back to the full archive; dates it spans but does not list were never
// published.
func (c *Client) ByDate(ctx context.Context, date time.Time) (rates.Record, error) {
	date = rates.Day(date)

	w, err := c.currentWindow(ctx)
	if err != nil {
		return rates.Record{}, err
	}

	if rec, ok := w.records[date]; ok {
		return rec, nil
	}
	if date.Before(w.earliest) || date.After(w.latest) {
		return rates.Record{}, fmt.Errorf("%w: %s outside %s..%s", feed.ErrDateOutsideWindow,
			date.Format(dateFormat), w.earliest.Format(dateFormat), w.latest.Format(dateFormat))
	}
	return rates.Record{}, fmt.Errorf("%w: %s", feed.ErrNotPublished, date.Format(dateFormat))
}

// currentWindow returns the cached ninety-day document, fetching it when
// missing or stale. The lock is held across the fetch so concurrent targeted
// fetches share one download instead of racing.
func (c *Client) currentWindow(ctx context.Context) (*window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.window != nil && time.Since(c.window.fetched) < c.windowTTL {
		return c.window, nil
	}

	records, err := c.fetchDocument(ctx, c.ninetyDayURL)
	if err != nil {
		return nil, err
	}

	w := &window{
		records:  make(map[time.Time]rates.Record, len(records)),
		earliest: records[len(records)-1].Date,
		latest:   records[0].Date,
		fetched:  time.Now(),
	}
	for _, rec := range records {
		w.records[rec.Date] = rec
	}
	c.window = w
	return w, nil
}

// fetchDocument downloads one document and returns its records in document
// order (newest first). An empty document is a parse error.
func (c *Client) fetchDocument(ctx context.Context, url string) ([]rates.Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	res, err := c.client.Do(req) //nolint:gosec // URL from internal config
	if err != nil {
		return nil, fmt.Errorf("%w: %v", feed.ErrUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from %s", feed.ErrUnavailable, res.StatusCode, url)
	}

	records, err := parseEnvelope(res.Body)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: document carries no rate records", feed.ErrParse)
	}

	slog.Debug("fetched feed document", "url", url, "records", len(records))
	return records, nil
}

// parseEnvelope stream-parses a gesmes envelope. Date cubes open a record,
// currency cubes fill the open one.
func parseEnvelope(r io.Reader) ([]rates.Record, error) {
	dec := xml.NewDecoder(r)

	var records []rates.Record
	var current *rates.Record

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", feed.ErrParse, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Cube" {
			continue
		}

		var timeAttr, currencyAttr, rateAttr string
		for _, a := range start.Attr {
			switch a.Name.Local {
			case "time":
				timeAttr = a.Value
			case "currency":
				currencyAttr = a.Value
			case "rate":
				rateAttr = a.Value
			}
		}

		switch {
		case timeAttr != "":
			d, err := time.Parse(dateFormat, timeAttr)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid date %q", feed.ErrParse, timeAttr)
			}
			if current != nil {
				records = append(records, *current)
			}
			current = &rates.Record{
				Date:  rates.Day(d),
				Base:  rates.BaseCurrency,
				Rates: make(map[string]float64),
			}
		case currencyAttr != "" && rateAttr != "":
			if current == nil {
				return nil, fmt.Errorf("%w: rate entry before any date", feed.ErrParse)
			}
			v, err := strconv.ParseFloat(rateAttr, 64)
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("%w: invalid rate %q for %s", feed.ErrParse, rateAttr, currencyAttr)
			}
			current.Rates[strings.ToUpper(currencyAttr)] = v
		}
	}

	if current != nil {
		records = append(records, *current)
	}
	return records, nil
}
