// Package timerange parses and compares "HH:MM" wall-clock ranges used for
// patient availability preferences and open appointment slots.
package timerange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MinutesPerDay is the exclusive upper bound for a start time and the
// inclusive upper bound for an end time ("24:00").
const MinutesPerDay = 24 * 60

var ErrInvalidTime = errors.New("invalid time of day")

// Range is a half-open interval of minutes within a day. DaysOfWeek is
// optional (0 = Sunday … 6 = Saturday); an empty list means every day.
type Range struct {
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	DaysOfWeek []int  `json:"days_of_week,omitempty"`
}

// Parse converts "HH:MM" into minutes since midnight. "24:00" is accepted so
// that a range may end at the close of the day.
func Parse(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 || !digits(hh) || !digits(mm) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return h*60 + m, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Format is the inverse of Parse.
func Format(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Bounds returns the parsed start and end of r.
func (r Range) Bounds() (start, end int, err error) {
	if start, err = Parse(r.StartTime); err != nil {
		return 0, 0, err
	}
	if end, err = Parse(r.EndTime); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func (r Range) String() string {
	return r.StartTime + "-" + r.EndTime
}

// Valid reports whether both ends parse, 0 <= start < end <= 1440 and every
// listed weekday is in 0..6.
func Valid(r Range) bool {
	start, end, err := r.Bounds()
	if err != nil {
		return false
	}
	if start < 0 || start >= MinutesPerDay || end <= 0 || end > MinutesPerDay || start >= end {
		return false
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return false
		}
	}
	return true
}

// Overlaps reports whether the two ranges share at least one minute on a
// common day. Touching ranges ("09:00-10:00" and "10:00-11:00") do not
// overlap. Unparseable ranges never overlap anything.
func Overlaps(a, b Range) bool {
	as, ae, err := a.Bounds()
	if err != nil {
		return false
	}
	bs, be, err := b.Bounds()
	if err != nil {
		return false
	}
	return as < be && bs < ae && SharesDay(a, b)
}

// SharesDay reports whether a and b can fall on the same weekday. A range
// without days matches any day.
func SharesDay(a, b Range) bool {
	if len(a.DaysOfWeek) == 0 || len(b.DaysOfWeek) == 0 {
		return true
	}
	for _, x := range a.DaysOfWeek {
		for _, y := range b.DaysOfWeek {
			if x == y {
				return true
			}
		}
	}
	return false
}

// AnyOverlap reports whether any range in prefs overlaps any range in slots.
func AnyOverlap(prefs, slots []Range) bool {
	for _, p := range prefs {
		for _, s := range slots {
			if Overlaps(p, s) {
				return true
			}
		}
	}
	return false
}
