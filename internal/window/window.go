// Package window computes the study-date range a reconciliation run covers.
package window

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the archive's date encoding (DICOM DA).
const DateLayout = "20060102"

// DefaultLookbackDays is the trailing window used when none is configured.
const DefaultLookbackDays = 6

// ErrNegativeLookback is returned when the lookback is below zero.
var ErrNegativeLookback = errors.New("lookback days must not be negative")

// Window is an inclusive range of study dates.
type Window struct {
	Start time.Time
	End   time.Time
}

// Select returns the window ending on ref's calendar day and starting
// lookbackDays days earlier. The result depends only on its arguments.
func Select(ref time.Time, lookbackDays int) (Window, error) {
	if lookbackDays < 0 {
		return Window{}, ErrNegativeLookback
	}
	end := midnight(ref)
	return Window{
		Start: end.AddDate(0, 0, -lookbackDays),
		End:   end,
	}, nil
}

// Between builds a window from two dates in archive encoding.
func Between(start, end string) (Window, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Window{}, err
	}
	if e.Before(s) {
		return Window{}, fmt.Errorf("window end %s is before start %s", end, start)
	}
	return Window{Start: s, End: e}, nil
}

// ParseDate parses a YYYYMMDD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYYMMDD", s)
	}
	return t, nil
}

// StartDate returns the first day in archive encoding.
func (w Window) StartDate() string { return w.Start.Format(DateLayout) }

// EndDate returns the last day in archive encoding.
func (w Window) EndDate() string { return w.End.Format(DateLayout) }

// Range renders the window as a DICOM date range query value.
func (w Window) Range() string {
	return w.StartDate() + "-" + w.EndDate()
}

// Days lists every date in the window, oldest first.
func (w Window) Days() []string {
	var days []string
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateLayout))
	}
	return days
}

// String implements fmt.Stringer.
func (w Window) String() string { return w.Range() }

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
