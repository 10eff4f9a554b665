// Package validate normalizes tool parameters into typed values before they
// reach the router. Clients send loose shapes over MCP: tags as a CSV string
// or a list, booleans as strings, limits as floats. Everything is coerced
// exactly once here so downstream code only ever sees typed structures.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/thingsmcp/thingsmcp/engine/core"
)

const (
	// DefaultLimit applies when a list op omits limit.
	DefaultLimit = 50
	// MaxLimit caps most list ops; the logbook is capped tighter because it
	// grows without bound.
	MaxLimit        = 500
	MaxLogbookLimit = 100

	maxPeriodDays = 365
	maxTitleLen   = 1000
	maxNotesLen   = 10000
)

var (
	periodRe = regexp.MustCompile(`^(\d+)([dwmy])$`)

	v = validator.New()
)

// Limit normalizes a limit parameter. A missing value (nil) yields def; an
// explicit 0 is preserved and means "return an empty list", not "unlimited".
func Limit(raw any, def, max int) (int, error) {
	if raw == nil {
		return def, nil
	}
	n, err := intValue(raw)
	if err != nil {
		return 0, core.NewFieldError("limit", err.Error())
	}
	if n < 0 {
		return 0, core.NewFieldError("limit", "must not be negative")
	}
	if n > max {
		return 0, core.NewFieldError("limit", fmt.Sprintf("must not exceed %d", max))
	}
	return n, nil
}

// intValue accepts the integer encodings JSON decoding produces.
func intValue(raw any) (int, error) {
	switch n := raw.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("expected an integer, got %v", n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", raw)
	}
}

// Period parses a lookback window of the form <N><unit> with unit one of
// d, w, m, y, capped at one year.
func Period(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	m := periodRe.FindStringSubmatch(s)
	if m == nil {
		return 0, core.NewFieldError("period", fmt.Sprintf("invalid value %q, expected <N>d|w|m|y", raw))
	}
	n, _ := strconv.Atoi(m[1])
	var days int
	switch m[2] {
	case "d":
		days = n
	case "w":
		days = 7 * n
	case "m":
		days = 30 * n
	case "y":
		days = 365 * n
	}
	if days == 0 {
		return 0, core.NewFieldError("period", "must cover at least one day")
	}
	if days > maxPeriodDays {
		return 0, core.NewFieldError("period", fmt.Sprintf("%q exceeds the maximum window of 365 days", raw))
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

// StatusFilter parses a status filter. Empty means "all". The names here are
// the tool-surface ones; "incomplete" maps onto the open status.
func StatusFilter(raw string) (*core.Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return nil, nil
	case "incomplete", "open":
		s := core.StatusOpen
		return &s, nil
	case "completed":
		s := core.StatusCompleted
		return &s, nil
	case "canceled", "cancelled":
		s := core.StatusCanceled
		return &s, nil
	default:
		return nil, core.NewFieldError("status",
			fmt.Sprintf("invalid value %q, expected incomplete|completed|canceled", raw))
	}
}

// Tags accepts a list of strings or a single comma-separated string and
// returns trimmed, non-empty names. Case is preserved; tag names are
// case-sensitive.
func Tags(raw any) ([]string, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return splitCSV(t), nil
	case []string:
		return trimAll(t), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, core.NewFieldError("tags", fmt.Sprintf("expected a string element, got %T", e))
			}
			out = append(out, s)
		}
		return trimAll(out), nil
	default:
		return nil, core.NewFieldError("tags", fmt.Sprintf("expected a list or comma-separated string, got %T", raw))
	}
}

// IDList accepts a list of ids or a comma-separated string for bulk ops.
func IDList(field string, raw any) ([]string, error) {
	ids, err := Tags(raw)
	if err != nil {
		return nil, core.NewFieldError(field, "expected a list or comma-separated string of ids")
	}
	if len(ids) == 0 {
		return nil, core.NewFieldError(field, "at least one id is required")
	}
	return ids, nil
}

func splitCSV(s string) []string {
	return trimAll(strings.Split(s, ","))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Bool coerces a boolean that may arrive as a string in any casing.
func Bool(field string, raw any) (bool, error) {
	switch b := raw.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "1":
			return true, nil
		case "false", "no", "0", "":
			return false, nil
		}
		return false, core.NewFieldError(field, fmt.Sprintf("invalid boolean %q", b))
	default:
		return false, core.NewFieldError(field, fmt.Sprintf("expected a boolean, got %T", raw))
	}
}

// When parses a scheduling value against the when/deadline grammar.
func When(field, raw string, now time.Time) (*core.When, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	w, err := core.ParseWhen(raw, now)
	if err != nil {
		if ce, ok := err.(*core.Error); ok && field != "when" {
			return nil, core.NewFieldError(field, ce.Message)
		}
		return nil, err
	}
	return w, nil
}

// Destination parses a write target string.
func Destination(raw string) (*core.Destination, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return core.ParseDestination(raw)
}

// RequireID checks a mandatory id parameter.
func RequireID(field, raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if err := v.Var(id, "required"); err != nil {
		return "", core.NewFieldError(field, "is required")
	}
	return id, nil
}

// Title validates an entity title for writes.
func Title(raw string) (string, error) {
	t := strings.TrimSpace(raw)
	if err := v.Var(t, fmt.Sprintf("required,max=%d", maxTitleLen)); err != nil {
		if t == "" {
			return "", core.NewFieldError("title", "is required")
		}
		return "", core.NewFieldError("title", fmt.Sprintf("must not exceed %d characters", maxTitleLen))
	}
	return t, nil
}

// Notes validates a notes body.
func Notes(raw string) (string, error) {
	if err := v.Var(raw, fmt.Sprintf("max=%d", maxNotesLen)); err != nil {
		return "", core.NewFieldError("notes", fmt.Sprintf("must not exceed %d characters", maxNotesLen))
	}
	return raw, nil
}

// Lines splits a newline-delimited block into trimmed non-empty lines, used
// for checklist items and initial project todos.
func Lines(raw string) []string {
	out := make([]string, 0, 4)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
