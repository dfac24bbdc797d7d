// Package datetime is the single place where calendar dates and clock times
// supplied by clients are normalized.
//
// Dates are canonical "YYYY-MM-DD" labels. They are taken literally from what
// the client sent and are never reinterpreted through a time zone, so the date
// a user picked is the date that gets stored and compared.
package datetime

import (
	"fmt"
	"strings"
	"time"

	"medication-adherence-server/internal/apperrors"
)

const (
	// DateLayout is the canonical date representation.
	DateLayout = "2006-01-02"
	// TimeLayout is the canonical clock time representation.
	TimeLayout = "15:04:05"
)

// Layouts accepted after the date prefix. The zone, if any, is validated but
// never applied.
var timestampLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
}

var clockLayouts = []string{"15:04", "15:04:05"}

// NormalizeDate returns the canonical calendar date of a client supplied
// date or timestamp. The date portion is returned exactly as written.
func NormalizeDate(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < len(DateLayout) {
		return "", invalidDate(field, s)
	}
	prefix := s[:len(DateLayout)]
	if _, err := time.Parse(DateLayout, prefix); err != nil {
		return "", invalidDate(field, s)
	}
	if len(s) == len(DateLayout) {
		return prefix, nil
	}
	if !isTimestamp(s) {
		return "", invalidDate(field, s)
	}
	return prefix, nil
}

// NormalizeTime extracts the literal HH:MM:SS component from a clock time or a
// full timestamp.
func NormalizeTime(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(TimeLayout), nil
		}
	}
	if len(s) > len(DateLayout) && isTimestamp(s) {
		rest := s[len(DateLayout)+1:]
		clock := rest
		if len(clock) > len(TimeLayout) {
			clock = clock[:len(TimeLayout)]
		}
		// "HH:MM" followed by a zone designator
		if len(clock) > 5 && clock[5] != ':' {
			clock = clock[:5]
		}
		for _, layout := range clockLayouts {
			if t, err := time.Parse(layout, clock); err == nil {
				return t.Format(TimeLayout), nil
			}
		}
	}
	return "", apperrors.NewValidationError(field, fmt.Sprintf("invalid time %q: expected HH:MM, HH:MM:SS or a timestamp", s))
}

// IsCanonicalDate reports whether s is already a canonical date.
func IsCanonicalDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// IsClockTime reports whether s is an HH:MM or HH:MM:SS clock time.
func IsClockTime(s string) bool {
	for _, layout := range clockLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// FormatDate renders the calendar fields of t without converting its zone.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate turns a canonical date into a UTC midnight value used only for
// calendar arithmetic.
func ParseDate(field, date string) (time.Time, error) {
	if !IsCanonicalDate(date) {
		return time.Time{}, invalidDate(field, date)
	}
	t, _ := time.Parse(DateLayout, date)
	return t, nil
}

// Today returns the UTC calendar date of now(). It is only used when a client
// omits a date entirely.
func Today(now func() time.Time) string {
	return FormatDate(now().UTC())
}

// AddDays shifts a canonical date by n calendar days.
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate("date", date)
	if err != nil {
		return "", err
	}
	return FormatDate(t.AddDate(0, 0, n)), nil
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b string) (int, error) {
	ta, err := ParseDate("from", a)
	if err != nil {
		return 0, err
	}
	tb, err := ParseDate("to", b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// CompareDates compares two canonical dates lexically, which matches
// chronological order for the canonical layout.
func CompareDates(a, b string) int {
	return strings.Compare(a, b)
}

// Weekday returns the day of the week of a canonical date.
func Weekday(date string) (time.Weekday, error) {
	t, err := ParseDate("date", date)
	if err != nil {
		return 0, err
	}
	return t.Weekday(), nil
}

// DayOfMonth returns the day of the month of a canonical date.
func DayOfMonth(date string) (int, error) {
	t, err := ParseDate("date", date)
	if err != nil {
		return 0, err
	}
	return t.Day(), nil
}

// DateRange returns every canonical date from "from" to "to", inclusive.
func DateRange(from, to string) ([]string, error) {
	start, err := ParseDate("from", from)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate("to", to)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, apperrors.NewValidationError("to", "must not be before from")
	}
	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, FormatDate(d))
	}
	return dates, nil
}

func isTimestamp(s string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func invalidDate(field, s string) error {
	return apperrors.NewValidationError(field, fmt.Sprintf("invalid date %q: expected YYYY-MM-DD", s))
}
