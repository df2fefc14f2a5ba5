package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eurofxref/rates-api/internal/apperror"
	"github.com/eurofxref/rates-api/internal/rates"
)

const dateFormat = "2006-01-02"

type handler struct {
	rateSvc *rates.Service
	syncer  SyncTrigger
	ready   func() bool
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"ready":  h.ready(),
	})
}

func (h *handler) latest(w http.ResponseWriter, r *http.Request) {
	rec, err := h.rateSvc.Latest(r.Context(), baseParam(r), symbolsParam(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDayResponse(rec))
}

func (h *handler) byDate(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, "date", r.PathValue("date"))
	if !ok {
		return
	}

	rec, err := h.rateSvc.ByDate(r.Context(), date, baseParam(r), symbolsParam(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDayResponse(rec))
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	startStr := r.URL.Query().Get("start_at")
	endStr := r.URL.Query().Get("end_at")
	if startStr == "" || endStr == "" {
		writeError(w, http.StatusBadRequest, apperror.BadRequest,
			"both start_at and end_at parameters must be present")
		return
	}

	startAt, ok := parseDateParam(w, "start_at", startStr)
	if !ok {
		return
	}
	endAt, err := time.Parse(dateFormat, endStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperror.BadRequest,
			invalidDateMessage("end_at", endStr))
		return
	}

	records, err := h.rateSvc.History(r.Context(), startAt, endAt, baseParam(r), symbolsParam(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeCSV(w, records)
		return
	}

	resp := historyResponse{
		Rates:   make(map[string]map[string]float64, len(records)),
		Base:    responseBase(records, baseParam(r)),
		StartAt: startStr,
		EndAt:   endStr,
	}
	for _, rec := range records {
		resp.Rates[rec.Date.Format(dateFormat)] = rec.Rates
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) triggerSync(w http.ResponseWriter, _ *http.Request) {
	h.syncer.Notify()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// parseDateParam parses a YYYY-MM-DD parameter and rejects dates older than
// the feed's first publication. It writes the error response itself and
// reports success via ok.
func parseDateParam(w http.ResponseWriter, name, value string) (time.Time, bool) {
	date, err := time.Parse(dateFormat, value)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperror.BadRequest,
			invalidDateMessage(name, value))
		return time.Time{}, false
	}
	if date.Before(rates.EarliestDate) {
		writeError(w, http.StatusBadRequest, apperror.BadRequest,
			fmt.Sprintf("%s is invalid, there are no currency rates for dates older than %s",
				name, rates.EarliestDate.Format(dateFormat)))
		return time.Time{}, false
	}
	return date, true
}

func invalidDateMessage(name, value string) string {
	return fmt.Sprintf("%s: %s is in an invalid date format, date must be in the format YYYY-MM-DD", name, value)
}

// responseBase picks the base currency echoed in a history response. Rebased
// records already carry it; an empty result falls back to the request.
func responseBase(records []rates.Record, base string) string {
	if len(records) > 0 {
		return records[0].Base
	}
	if base != "" {
		return strings.ToUpper(base)
	}
	return rates.BaseCurrency
}

func baseParam(r *http.Request) string {
	return r.URL.Query().Get("base")
}

func symbolsParam(r *http.Request) []string {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		return nil
	}
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}
