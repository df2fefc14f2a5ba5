package sync

import (
	"time"

	"github.com/eurofxref/rates-api/internal/rates"
)

// Calendar knows which dates the upstream publishes rates for: weekdays
// minus the Eurosystem closing days. Historical one-off closures that predate
// the uniform calendar are injected as extra closing dates.
type Calendar struct {
	extra map[time.Time]bool
}

func NewCalendar(extraClosingDays []time.Time) *Calendar {
	extra := make(map[time.Time]bool, len(extraClosingDays))
	for _, d := range extraClosingDays {
		extra[rates.Day(d)] = true
	}
	return &Calendar{extra: extra}
}

// IsBusinessDay reports whether rates are expected to be published for d.
func (c *Calendar) IsBusinessDay(d time.Time) bool {
	d = rates.Day(d)
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c.extra[d] {
		return false
	}
	return !isClosingDay(d)
}

// BusinessDays enumerates publication days from from through to, inclusive,
// in ascending order.
func (c *Calendar) BusinessDays(from, to time.Time) []time.Time {
	var days []time.Time
	for d := rates.Day(from); !d.After(rates.Day(to)); d = d.AddDate(0, 0, 1) {
		if c.IsBusinessDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// isClosingDay covers the uniform Eurosystem closing days: New Year's Day,
// Good Friday, Easter Monday, Labour Day, Christmas Day and 26 December.
func isClosingDay(d time.Time) bool {
	switch {
	case d.Month() == time.January && d.Day() == 1:
		return true
	case d.Month() == time.May && d.Day() == 1:
		return true
	case d.Month() == time.December && (d.Day() == 25 || d.Day() == 26):
		return true
	}
	easter := easterSunday(d.Year())
	return d.Equal(easter.AddDate(0, 0, -2)) || d.Equal(easter.AddDate(0, 0, 1))
}

// easterSunday computes Gregorian Easter with the anonymous computus.
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
