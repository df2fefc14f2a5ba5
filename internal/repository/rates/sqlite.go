package rates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/eurofxref/rates-api/internal/rates"
)

const dateFormat = "2006-01-02"

// Repository stores one row per published date. The date is the primary key
// and inserts use OR IGNORE, so a record written once never changes and
// re-puts are no-ops.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Has(ctx context.Context, date time.Time) (bool, error) {
	const query = `SELECT 1 FROM rates WHERE date = ?`

	var one int
	err := r.db.QueryRowContext(ctx, query, date.Format(dateFormat)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has record: %w", err)
	}
	return true, nil
}

func (r *Repository) Get(ctx context.Context, date time.Time) (*domain.Record, error) {
	const query = `SELECT date, base, rates FROM rates WHERE date = ?`

	var dateStr, base, ratesJSON string
	err := r.db.QueryRowContext(ctx, query, date.Format(dateFormat)).Scan(&dateStr, &base, &ratesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	rec, err := buildRecord(dateStr, base, ratesJSON)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) GetRange(ctx context.Context, from, to time.Time) ([]domain.Record, error) {
	if from.After(to) {
		return nil, domain.ErrInvalidRange
	}

	const query = `SELECT date, base, rates FROM rates
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC`

	rows, err := r.db.QueryContext(ctx, query, from.Format(dateFormat), to.Format(dateFormat))
	if err != nil {
		return nil, fmt.Errorf("get range: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []domain.Record
	for rows.Next() {
		var dateStr, base, ratesJSON string
		if err := rows.Scan(&dateStr, &base, &ratesJSON); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := buildRecord(dateStr, base, ratesJSON)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *Repository) Put(ctx context.Context, record domain.Record) error {
	ratesJSON, err := json.Marshal(record.Rates)
	if err != nil {
		return fmt.Errorf("encode rates: %w", err)
	}

	const query = `INSERT OR IGNORE INTO rates (date, base, rates) VALUES (?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, record.Date.Format(dateFormat), record.Base, string(ratesJSON)); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

func (r *Repository) PutAll(ctx context.Context, records []domain.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	const batchSize = 500
	var total int64

	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*3)
		for j, rec := range batch {
			ratesJSON, err := json.Marshal(rec.Rates)
			if err != nil {
				return total, fmt.Errorf("encode rates for %s: %w", rec.Date.Format(dateFormat), err)
			}
			placeholders[j] = "(?, ?, ?)"
			args = append(args, rec.Date.Format(dateFormat), rec.Base, string(ratesJSON))
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			"INSERT OR IGNORE INTO rates (date, base, rates) VALUES %s",
			strings.Join(placeholders, ", "),
		)

		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("put records: %w", err)
		}

		n, _ := res.RowsAffected()
		total += n
	}

	return total, nil
}

func (r *Repository) ExistingDates(ctx context.Context, from, to time.Time) (map[time.Time]bool, error) {
	const query = `SELECT date FROM rates WHERE date >= ? AND date <= ?`

	rows, err := r.db.QueryContext(ctx, query, from.Format(dateFormat), to.Format(dateFormat))
	if err != nil {
		return nil, fmt.Errorf("existing dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	dates := make(map[time.Time]bool)
	for rows.Next() {
		var dateStr string
		if err := rows.Scan(&dateStr); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		d, err := time.Parse(dateFormat, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", dateStr, err)
		}
		dates[d] = true
	}

	return dates, rows.Err()
}

func (r *Repository) EarliestDate(ctx context.Context) (time.Time, bool, error) {
	return r.boundDate(ctx, `SELECT MIN(date) FROM rates`)
}

func (r *Repository) LatestDate(ctx context.Context) (time.Time, bool, error) {
	return r.boundDate(ctx, `SELECT MAX(date) FROM rates`)
}

func (r *Repository) boundDate(ctx context.Context, query string) (time.Time, bool, error) {
	var dateStr sql.NullString
	if err := r.db.QueryRowContext(ctx, query).Scan(&dateStr); err != nil {
		return time.Time{}, false, fmt.Errorf("bound date: %w", err)
	}
	if !dateStr.Valid {
		return time.Time{}, false, nil
	}
	d, err := time.Parse(dateFormat, dateStr.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse date %q: %w", dateStr.String, err)
	}
	return d, true, nil
}

func buildRecord(dateStr, base, ratesJSON string) (domain.Record, error) {
	date, err := time.Parse(dateFormat, dateStr)
	if err != nil {
		return domain.Record{}, fmt.Errorf("parse date %q: %w", dateStr, err)
	}
	rates := make(map[string]float64)
	if err := json.Unmarshal([]byte(ratesJSON), &rates); err != nil {
		return domain.Record{}, fmt.Errorf("decode rates for %s: %w", dateStr, err)
	}
	return domain.Record{Date: date, Base: base, Rates: rates}, nil
}
