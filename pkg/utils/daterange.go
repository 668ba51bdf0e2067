package utils

import (
	"errors"
	"time"
)

// ErrInvalidRange is returned when the start of a range falls after its end.
var ErrInvalidRange = errors.New("from date cannot be after to date")

// DateLayout is the wire format for calendar dates accepted by the API
// and expected by the tax portal's search expressions.
const DateLayout = "2006-01-02"

// DateRange is an inclusive [From, To] calendar interval. From never
// exceeds To once constructed.
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange builds a range after validating its bounds.
func NewDateRange(from, to time.Time) (DateRange, error) {
	if from.After(to) {
		return DateRange{}, ErrInvalidRange
	}
	return DateRange{From: from, To: to}, nil
}

// FromString formats the lower bound for portal queries.
func (r DateRange) FromString() string {
	return r.From.Format(DateLayout)
}

// ToString formats the upper bound for portal queries.
func (r DateRange) ToString() string {
	return r.To.Format(DateLayout)
}

func (r DateRange) String() string {
	return r.FromString() + " - " + r.ToString()
}

// ParseDate parses a YYYY-MM-DD calendar date. Malformed input is an
// error, never coerced.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// SplitDateRange splits [from, to] into contiguous sub-ranges, each fully
// contained within one calendar month. The portal caps result windows, so
// every upstream query runs over one of these sub-ranges. Returns
// ErrInvalidRange when from is after to.
func SplitDateRange(from, to time.Time) ([]DateRange, error) {
	if from.After(to) {
		return nil, ErrInvalidRange
	}

	var ranges []DateRange
	start := from
	for !start.After(to) {
		end := endOfMonth(start)
		if end.After(to) {
			end = to
		}
		ranges = append(ranges, DateRange{From: start, To: end})
		start = end.AddDate(0, 0, 1)
	}
	return ranges, nil
}

func endOfMonth(t time.Time) time.Time {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1)
}
