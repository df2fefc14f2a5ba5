package server

import (
	_ "embed"
	"html/template"
	"net/http"
	"sort"

	"github.com/eurofxref/rates-api/internal/apperror"
)

//go:embed index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

type indexRow struct {
	Code string
	Rate float64
}

type indexData struct {
	Date string
	Rows []indexRow
}

func (h *handler) index(w http.ResponseWriter, r *http.Request) {
	rec, err := h.rateSvc.Latest(r.Context(), "", nil)
	if err != nil {
		status := http.StatusInternalServerError
		if ae, ok := err.(*apperror.AppError); ok {
			status = ae.HTTPStatus()
		}
		http.Error(w, "rate data is not available yet", status)
		return
	}

	rows := make([]indexRow, 0, len(rec.Rates)+1)
	rows = append(rows, indexRow{Code: rec.Base, Rate: 1})
	for code, rate := range rec.Rates {
		rows = append(rows, indexRow{Code: code, Rate: rate})
	}
	sortRows(rows)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexTmpl.Execute(w, indexData{
		Date: rec.Date.Format(dateFormat),
		Rows: rows,
	})
}

// sortRows pins the reserve currencies to the top of the table; the rest
// sort alphabetically.
func sortRows(rows []indexRow) {
	rank := func(code string) int {
		switch code {
		case "EUR":
			return 0
		case "USD":
			return 1
		case "GBP":
			return 2
		default:
			return 3
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		ri, rj := rank(rows[i].Code), rank(rows[j].Code)
		if ri != rj {
			return ri < rj
		}
		return rows[i].Code < rows[j].Code
	})
}
