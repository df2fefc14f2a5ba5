package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/eurofxref/rates-api/internal/apperror"
	"github.com/eurofxref/rates-api/internal/rates"
)

// dayResponse is the wire shape for a single reference date.
type dayResponse struct {
	Rates map[string]float64 `json:"rates"`
	Base  string             `json:"base"`
	Date  string             `json:"date"`
}

// historyResponse maps each covered date to its rates. A valid range with no
// covered dates yields an empty rates object, not an error.
type historyResponse struct {
	Rates   map[string]map[string]float64 `json:"rates"`
	Base    string                        `json:"base"`
	StartAt string                        `json:"start_at"`
	EndAt   string                        `json:"end_at"`
}

type errorResponse struct {
	Code apperror.Code `json:"code"`
	Msg  string        `json:"msg"`
}

func newDayResponse(rec rates.Record) dayResponse {
	return dayResponse{
		Rates: rec.Rates,
		Base:  rec.Base,
		Date:  rec.Date.Format(dateFormat),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code apperror.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Code: code, Msg: msg})
}

// writeServiceError renders an error from the query service. Unrecognized
// errors are reported as internal without leaking their message.
func writeServiceError(w http.ResponseWriter, err error) {
	if ae, ok := err.(*apperror.AppError); ok {
		writeError(w, ae.HTTPStatus(), ae.Code(), ae.Message())
		return
	}
	writeError(w, http.StatusInternalServerError, apperror.Internal, "internal server error")
}

func writeCSV(w http.ResponseWriter, records []rates.Record) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=rates.csv")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintln(w, "Date,Currency,Rate")
	for _, rec := range records {
		currencies := make([]string, 0, len(rec.Rates))
		for code := range rec.Rates {
			currencies = append(currencies, code)
		}
		sort.Strings(currencies)
		for _, code := range currencies {
			_, _ = fmt.Fprintf(w, "%s,%s,%.6f\n", //nolint:gosec // CSV output from internal domain types, not user input
				rec.Date.Format(dateFormat),
				code,
				rec.Rates[code],
			)
		}
	}
}
