package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// When is a parsed scheduling value from the grammar
// today|tomorrow|yesterday|someday|anytime|YYYY-MM-DD|YYYY-MM-DD@HH:MM|+Nd|+Nw|+Nm.
// Bucket keywords (someday, anytime) carry no date; everything else resolves
// to a concrete calendar date relative to the supplied now.
type When struct {
	Raw     string
	Keyword string // today|tomorrow|yesterday|someday|anytime, "" for explicit dates
	Date    time.Time
	HasDate bool
	Hour    int
	Minute  int
	HasTime bool
}

var (
	relativeRe = regexp.MustCompile(`^\+(\d+)([dwm])$`)
	dateRe     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	timeRe     = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// ParseWhen parses s against the when/deadline grammar. Relative values
// resolve against now, which is injectable for tests.
func ParseWhen(s string, now time.Time) (*When, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, NewFieldError("when", "empty value")
	}
	w := &When{Raw: raw}

	datePart := raw
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		datePart = raw[:i]
		m := timeRe.FindStringSubmatch(raw[i+1:])
		if m == nil {
			return nil, NewFieldError("when", fmt.Sprintf("invalid time component %q, expected HH:MM", raw[i+1:]))
		}
		w.Hour, _ = strconv.Atoi(m[1])
		w.Minute, _ = strconv.Atoi(m[2])
		if w.Hour > 23 || w.Minute > 59 {
			return nil, NewFieldError("when", fmt.Sprintf("time %02d:%02d out of range", w.Hour, w.Minute))
		}
		w.HasTime = true
	}

	day := func(offset int) time.Time {
		t := now.AddDate(0, 0, offset)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}

	switch datePart {
	case "today":
		w.Keyword = "today"
		w.Date = day(0)
		w.HasDate = true
		return w, nil
	case "tomorrow":
		w.Keyword = "tomorrow"
		w.Date = day(1)
		w.HasDate = true
		return w, nil
	case "yesterday":
		w.Keyword = "yesterday"
		w.Date = day(-1)
		w.HasDate = true
		return w, nil
	case "someday", "anytime":
		if w.HasTime {
			return nil, NewFieldError("when", fmt.Sprintf("%q cannot carry a time component", datePart))
		}
		w.Keyword = datePart
		return w, nil
	}

	if m := relativeRe.FindStringSubmatch(datePart); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "d":
			w.Date = day(n)
		case "w":
			w.Date = day(7 * n)
		case "m":
			t := now.AddDate(0, n, 0)
			w.Date = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		}
		w.HasDate = true
		return w, nil
	}

	if m := dateRe.FindStringSubmatch(datePart); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		dayNum, _ := strconv.Atoi(m[3])
		t := time.Date(year, time.Month(month), dayNum, 0, 0, 0, 0, now.Location())
		// Reject normalized-away inputs like 2024-02-31.
		if t.Year() != year || int(t.Month()) != month || t.Day() != dayNum {
			return nil, NewFieldError("when", fmt.Sprintf("invalid calendar date %q", datePart))
		}
		w.Date = t
		w.HasDate = true
		return w, nil
	}

	return nil, NewFieldError("when",
		fmt.Sprintf("invalid value %q, expected YYYY-MM-DD, YYYY-MM-DD@HH:MM, today|tomorrow|yesterday|someday|anytime, or +Nd|+Nw|+Nm", raw))
}

// Bucket reports the built-in list this when maps to for the list-move
// fallback, or "" when only a dated strategy can express it.
func (w *When) Bucket() BuiltinList {
	switch w.Keyword {
	case "today":
		return ListToday
	case "someday":
		return ListSomeday
	case "anytime":
		return ListAnytime
	}
	return ""
}

// URLValue renders the when for the Things URL scheme, which accepts the
// same natural-language forms.
func (w *When) URLValue() string {
	if !w.HasDate {
		return w.Keyword
	}
	if w.HasTime {
		return fmt.Sprintf("%s@%02d:%02d", w.Date.Format("2006-01-02"), w.Hour, w.Minute)
	}
	return w.Date.Format("2006-01-02")
}
