package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eurofxref/rates-api/internal/feed/ecb"
	"github.com/eurofxref/rates-api/internal/platform/sqlite"
	"github.com/eurofxref/rates-api/internal/rates"
	raterepo "github.com/eurofxref/rates-api/internal/repository/rates"
	"github.com/eurofxref/rates-api/internal/scheduler"
	"github.com/eurofxref/rates-api/internal/server"
	ratesync "github.com/eurofxref/rates-api/internal/sync"
)

type fixtureRate struct {
	code string
	rate float64
}

type fixtureDay struct {
	date  string
	rates []fixtureRate
}

// mockECB serves the three reference rate documents from an in-memory
// fixture. Days are kept newest first, matching the upstream publication
// order.
type mockECB struct {
	mu   sync.Mutex
	days []fixtureDay
}

func newMockECB() *mockECB {
	return &mockECB{days: []fixtureDay{
		{date: "2024-03-08", rates: []fixtureRate{{"USD", 1.0880}, {"GBP", 0.8570}}},
		{date: "2024-03-07", rates: []fixtureRate{{"USD", 1.0870}, {"GBP", 0.8565}}},
		{date: "2024-03-06", rates: []fixtureRate{{"USD", 1.0860}, {"GBP", 0.8560}}},
		{date: "2024-03-05", rates: []fixtureRate{{"USD", 1.0850}, {"GBP", 0.8555}}},
		{date: "2024-03-04", rates: []fixtureRate{{"USD", 1.0840}, {"GBP", 0.8550}}},
	}}
}

func (m *mockECB) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch r.URL.Path {
	case "/daily.xml":
		_, _ = io.WriteString(w, envelope(m.days[:1]))
	case "/90d.xml":
		// Small fixture, three days stand in for the ninety-day window.
		_, _ = io.WriteString(w, envelope(m.days[:min(3, len(m.days))]))
	case "/hist.xml":
		_, _ = io.WriteString(w, envelope(m.days))
	default:
		http.NotFound(w, r)
	}
}

// prepend publishes a new latest day.
func (m *mockECB) prepend(d fixtureDay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days = append([]fixtureDay{d}, m.days...)
}

func envelope(days []fixtureDay) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<gesmes:Envelope xmlns:gesmes="http://www.gesmes.org/xml/2002-08-01" xmlns="http://www.ecb.int/vocabulary/2002-08-01/eurofxref">` + "\n")
	b.WriteString("\t<gesmes:subject>Reference rates</gesmes:subject>\n\t<Cube>\n")
	for _, d := range days {
		fmt.Fprintf(&b, "\t\t<Cube time=%q>\n", d.date)
		for _, r := range d.rates {
			fmt.Fprintf(&b, "\t\t\t<Cube currency=%q rate=%q/>\n", r.code, fmt.Sprintf("%.4f", r.rate))
		}
		b.WriteString("\t\t</Cube>\n")
	}
	b.WriteString("\t</Cube>\n</gesmes:Envelope>")
	return b.String()
}

// setupE2E wires the full stack against a mocked upstream. When
// runScheduler is true the initial sync cycle starts immediately; callers
// should waitReady before querying.
func setupE2E(t *testing.T, runScheduler bool) (*httptest.Server, *mockECB) {
	t.Helper()

	upstream := newMockECB()
	ecbTS := httptest.NewServer(upstream)
	t.Cleanup(ecbTS.Close)

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := raterepo.NewRepository(db.DB)

	feedClient := ecb.New(
		ecb.WithEndpoints(ecbTS.URL+"/daily.xml", ecbTS.URL+"/90d.xml", ecbTS.URL+"/hist.xml"),
		ecb.WithRateLimit(1000),
	)

	syncSvc := ratesync.NewService(feedClient, repo, ratesync.NewCalendar(nil), ratesync.WithWorkers(2))
	rateSvc := rates.NewService(repo, rates.WithReadiness(syncSvc.Ready))
	sched := scheduler.New(syncSvc, time.Hour)

	if runScheduler {
		ctx, cancel := context.WithCancel(context.Background())
		schedDone := make(chan struct{})
		go func() {
			_ = sched.Run(ctx)
			close(schedDone)
		}()
		t.Cleanup(func() {
			cancel()
			<-schedDone
		})
	}

	ts := httptest.NewServer(server.NewHandler(rateSvc, sched, syncSvc.Ready))
	t.Cleanup(ts.Close)

	return ts, upstream
}

// waitReady polls the health endpoint until the initial sync completes.
func waitReady(t *testing.T, baseURL string) {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for initial sync to complete")
		default:
		}

		var health struct {
			Ready bool `json:"ready"`
		}
		if status := getJSON(t, baseURL+"/health", &health); status != http.StatusOK {
			t.Fatalf("health: expected 200, got %d", status)
		}
		if health.Ready {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func getJSON(t *testing.T, url string, target any) int {
	t.Helper()

	resp, err := http.Get(url) //nolint:gosec // test URL
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

type dayResponse struct {
	Rates map[string]float64 `json:"rates"`
	Base  string             `json:"base"`
	Date  string             `json:"date"`
}

type historyResponse struct {
	Rates   map[string]map[string]float64 `json:"rates"`
	Base    string                        `json:"base"`
	StartAt string                        `json:"start_at"`
	EndAt   string                        `json:"end_at"`
}

type errorResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestE2E_ColdStartAndLatest(t *testing.T) {
	ts, _ := setupE2E(t, true)
	waitReady(t, ts.URL)

	resp, err := http.Get(ts.URL + "/api/v1/latest") //nolint:gosec // test URL
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	var day dayResponse
	if err := json.NewDecoder(resp.Body).Decode(&day); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if day.Date != "2024-03-08" {
		t.Errorf("expected latest date 2024-03-08, got %s", day.Date)
	}
	if day.Base != "EUR" {
		t.Errorf("expected base EUR, got %s", day.Base)
	}
	if !almostEqual(day.Rates["USD"], 1.0880) {
		t.Errorf("expected USD 1.0880, got %f", day.Rates["USD"])
	}
}

func TestE2E_NotReadyBeforeFirstSync(t *testing.T) {
	ts, _ := setupE2E(t, false)

	var health struct {
		Status string `json:"status"`
		Ready  bool   `json:"ready"`
	}
	if status := getJSON(t, ts.URL+"/health", &health); status != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", status)
	}
	if health.Ready {
		t.Error("expected ready=false before first sync")
	}

	var apiErr errorResponse
	if status := getJSON(t, ts.URL+"/api/v1/latest", &apiErr); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	if apiErr.Code != "NO_DATA" {
		t.Errorf("expected code NO_DATA, got %s", apiErr.Code)
	}
}

func TestE2E_ByDate(t *testing.T) {
	ts, _ := setupE2E(t, true)
	waitReady(t, ts.URL)

	var day dayResponse
	status := getJSON(t, ts.URL+"/api/v1/2024-03-05?base=USD&symbols=GBP", &day)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if day.Base != "USD" || day.Date != "2024-03-05" {
		t.Errorf("unexpected envelope: base=%s date=%s", day.Base, day.Date)
	}
	if len(day.Rates) != 1 {
		t.Fatalf("expected 1 symbol, got %d", len(day.Rates))
	}
	if !almostEqual(day.Rates["GBP"], 0.8555/1.0850) {
		t.Errorf("expected GBP %f, got %f", 0.8555/1.0850, day.Rates["GBP"])
	}
}

func TestE2E_ByDate_Errors(t *testing.T) {
	ts, _ := setupE2E(t, true)
	waitReady(t, ts.URL)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"weekend date is not stored", "/api/v1/2024-03-03", http.StatusNotFound, "DATE_NOT_FOUND"},
		{"date before first publication", "/api/v1/1998-12-31", http.StatusBadRequest, "BAD_REQUEST"},
		{"malformed date", "/api/v1/not-a-date", http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown base", "/api/v1/2024-03-05?base=XXX", http.StatusBadRequest, "UNKNOWN_CURRENCY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr errorResponse
			status := getJSON(t, ts.URL+tt.path, &apiErr)
			if status != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, status)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s (%s)", tt.wantCode, apiErr.Code, apiErr.Msg)
			}
		})
	}
}

func TestE2E_History(t *testing.T) {
	ts, _ := setupE2E(t, true)
	waitReady(t, ts.URL)

	var hist historyResponse
	status := getJSON(t, ts.URL+"/api/v1/history?start_at=2024-03-04&end_at=2024-03-06", &hist)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(hist.Rates) != 3 {
		t.Fatalf("expected 3 dates, got %d", len(hist.Rates))
	}
	if hist.StartAt != "2024-03-04" || hist.EndAt != "2024-03-06" {
		t.Errorf("boundaries not echoed: start_at=%s end_at=%s", hist.StartAt, hist.EndAt)
	}
	if !almostEqual(hist.Rates["2024-03-05"]["USD"], 1.0850) {
		t.Errorf("expected USD 1.0850 on 2024-03-05, got %f", hist.Rates["2024-03-05"]["USD"])
	}
}

func TestE2E_History_EmptySubrange(t *testing.T) {
	ts, _ := setupE2E(t, true)
	waitReady(t, ts.URL)

	var hist historyResponse
	status := getJSON(t, ts.URL+"/api/v1/history?start_at=2024-04-01&end_at=2024-04-05", &hist)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(hist.Rates) != 0 {
		t.Errorf("expected empty rates, got %d dates", len(hist.Rates))
	}
	if hist.Base != "EUR" {
		t.Errorf("expected base EUR, got %s", hist.Base)
	}
}

func TestE2E_History_Errors(t *testing.T) {
	ts, _ := setupE2E(t, true)
	waitReady(t, ts.URL)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCode   string
	}{
		{"missing end_at", "start_at=2024-03-04", http.StatusBadRequest, "BAD_REQUEST"},
		{"missing both", "", http.StatusBadRequest, "BAD_REQUEST"},
		{"start after end", "start_at=2024-03-08&end_at=2024-03-04", http.StatusBadRequest, "INVALID_RANGE"},
		{"start before first publication", "start_at=1998-01-01&end_at=2024-03-08", http.StatusBadRequest, "BAD_REQUEST"},
		{"malformed start_at", "start_at=03/04/2024&end_at=2024-03-08", http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown symbol", "start_at=2024-03-04&end_at=2024-03-08&symbols=QQQ", http.StatusBadRequest, "UNKNOWN_CURRENCY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr errorResponse
			status := getJSON(t, ts.URL+"/api/v1/history?"+tt.query, &apiErr)
			if status != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, status)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s (%s)", tt.wantCode, apiErr.Code, apiErr.Msg)
			}
		})
	}
}

func TestE2E_History_CSV(t *testing.T) {
	ts, _ := setupE2E(t, true)
	waitReady(t, ts.URL)

	resp, err := http.Get(ts.URL + "/api/v1/history?start_at=2024-03-04&end_at=2024-03-05&format=csv") //nolint:gosec // test URL
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %s", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if lines[0] != "Date,Currency,Rate" {
		t.Errorf("unexpected header: %s", lines[0])
	}
	// Two days, two currencies each.
	if len(lines) != 5 {
		t.Errorf("expected 5 lines, got %d", len(lines))
	}
}

func TestE2E_TriggerSync(t *testing.T) {
	ts, upstream := setupE2E(t, true)
	waitReady(t, ts.URL)

	upstream.prepend(fixtureDay{date: "2024-03-11", rates: []fixtureRate{{"USD", 1.0900}, {"GBP", 0.8580}}})

	resp, err := http.Post(ts.URL+"/api/v1/sync", "", nil) //nolint:gosec // test URL
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for triggered sync to land")
		default:
		}

		var day dayResponse
		if status := getJSON(t, ts.URL+"/api/v1/latest", &day); status != http.StatusOK {
			t.Fatalf("latest: expected 200, got %d", status)
		}
		if day.Date == "2024-03-11" {
			if !almostEqual(day.Rates["USD"], 1.0900) {
				t.Errorf("expected USD 1.0900, got %f", day.Rates["USD"])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestE2E_IndexPage(t *testing.T) {
	ts, _ := setupE2E(t, true)
	waitReady(t, ts.URL)

	resp, err := http.Get(ts.URL + "/") //nolint:gosec // test URL
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected text/html, got %s", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	page := string(body)

	if !strings.Contains(page, "2024-03-08") {
		t.Error("expected reference date on page")
	}
	eur := strings.Index(page, "<td>EUR</td>")
	usd := strings.Index(page, "<td>USD</td>")
	gbp := strings.Index(page, "<td>GBP</td>")
	if eur == -1 || usd == -1 || gbp == -1 {
		t.Fatal("expected EUR, USD and GBP rows")
	}
	if !(eur < usd && usd < gbp) {
		t.Errorf("expected EUR, USD, GBP order, got positions %d, %d, %d", eur, usd, gbp)
	}
}
