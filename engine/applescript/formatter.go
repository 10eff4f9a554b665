// Package applescript generates, executes, and parses the AppleScript used
// to drive the Things application. Generated scripts are locale-independent:
// dates cross the boundary as numeric property assignments, never as
// formatted strings, and every write returns an explicit ok:/err: sentinel.
package applescript

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/thingsmcp/thingsmcp/engine/core"
)

// Formatter builds AppleScript sources. Now is injectable so relative dates
// resolve deterministically in tests.
type Formatter struct {
	Now func() time.Time
}

func NewFormatter() *Formatter {
	return &Formatter{Now: time.Now}
}

// FormatString returns s as a quoted AppleScript literal with backslashes
// and embedded quotes escaped.
func FormatString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// FormatTags normalizes and joins tags into the single comma-separated
// string Things' tag names property expects. Passing a list literal would
// silently create one tag per character on some Things builds.
func (f *Formatter) FormatTags(tags []string) string {
	return FormatString(strings.Join(NormalizeTags(tags), ","))
}

// NormalizeTags trims, drops empties, and de-duplicates by exact name while
// preserving order. Tag names are case-sensitive.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// DateAssignments emits statements that build a date value in varName from
// numeric year/month/day/hour/minute properties. Day is pinned to 1 before
// year and month are assigned so no intermediate combination overflows.
func (f *Formatter) DateAssignments(varName string, w *core.When) ([]string, error) {
	if w == nil || !w.HasDate {
		return nil, core.NewError(core.CodeInternal, "date assignments require a dated when value")
	}
	lines := []string{
		fmt.Sprintf("set %s to current date", varName),
		fmt.Sprintf("set time of %s to 0", varName),
		fmt.Sprintf("set day of %s to 1", varName),
		fmt.Sprintf("set year of %s to %d", varName, w.Date.Year()),
		fmt.Sprintf("set month of %s to %d", varName, int(w.Date.Month())),
		fmt.Sprintf("set day of %s to %d", varName, w.Date.Day()),
	}
	if w.HasTime {
		lines = append(lines,
			fmt.Sprintf("set hours of %s to %d", varName, w.Hour),
			fmt.Sprintf("set minutes of %s to %d", varName, w.Minute),
		)
	}
	return lines, nil
}

// fieldExprs maps canonical field names to Things AppleScript expressions
// over the loop variable t. Date fields route through the isodate handler so
// the wire format is locale-free; nullable text routes through txt.
var fieldExprs = map[string]string{
	"id":                `(id of t)`,
	"title":             `(name of t)`,
	"notes":             `my txt(notes of t)`,
	"status":            `(status of t as text)`,
	"tags":              `my txt(tag names of t)`,
	"creation_time":     `my isodate(creation date of t)`,
	"modification_time": `my isodate(modification date of t)`,
	"due_date":          `my isodate(due date of t)`,
	"activation_date":   `my isodate(activation date of t)`,
	"completion_time":   `my isodate(completion date of t)`,
	"cancellation_time": `my isodate(cancellation date of t)`,
	"project_id":        `my ref(project of t)`,
	"area_id":           `my ref(area of t)`,
}

// FieldNames returns the canonical batch-read fields in stable order.
func FieldNames() []string {
	names := make([]string, 0, len(fieldExprs))
	for k := range fieldExprs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// handlers are appended to every batch read. isodate renders dates as
// ISO 8601 regardless of system locale; txt and ref coerce missing values.
const handlers = `on pad2(n)
	return text -2 thru -1 of ("0" & (n as text))
end pad2
on isodate(d)
	if d is missing value then return "missing value"
	return (year of d as text) & "-" & my pad2(month of d as integer) & "-" & my pad2(day of d) & "T" & my pad2(hours of d) & ":" & my pad2(minutes of d) & ":" & my pad2(seconds of d)
end isodate
on txt(v)
	if v is missing value then return "missing value"
	return v as text
end txt
on ref(v)
	if v is missing value then return "missing value"
	return id of v
end ref`

// BatchRead describes a backend-side query: the collection to iterate, the
// fields to project, and an optional whose-filter evaluated by Things so
// filtering never happens host-side.
type BatchRead struct {
	// Source is the collection expression, e.g. `to dos of list "Today"`.
	Source string
	// Fields are canonical field names; see FieldNames.
	Fields []string
	// Filter is a whose-clause body, e.g. `status is open`.
	Filter string
	// Prelude statements run before the query (date variables for Filter).
	Prelude []string
	// Limit stops iteration after N records. 0 means unbounded.
	Limit int
}

// BuildBatchPropertyRead emits a script that prints one record per line with
// tab-separated fields. Tab survives every Things field type, which keeps
// the parser free of placeholder escapes.
func (f *Formatter) BuildBatchPropertyRead(r *BatchRead) (string, error) {
	if r.Source == "" {
		return "", core.NewError(core.CodeInternal, "batch read requires a source collection")
	}
	if len(r.Fields) == 0 {
		return "", core.NewError(core.CodeInternal, "batch read requires at least one field")
	}
	exprs := make([]string, len(r.Fields))
	for i, name := range r.Fields {
		expr, ok := fieldExprs[name]
		if !ok {
			return "", core.NewError(core.CodeUnsupported, fmt.Sprintf("unknown batch read field %q", name))
		}
		exprs[i] = expr
	}

	source := r.Source
	if r.Filter != "" {
		source = fmt.Sprintf("(%s whose %s)", source, r.Filter)
	}

	var b strings.Builder
	b.WriteString("set out to \"\"\n")
	b.WriteString("tell application \"Things3\"\n")
	for _, line := range r.Prelude {
		b.WriteString("\t" + line + "\n")
	}
	b.WriteString(fmt.Sprintf("\tset theItems to %s\n", source))
	b.WriteString("\tset n to 0\n")
	b.WriteString("\trepeat with t in theItems\n")
	b.WriteString("\t\tset n to n + 1\n")
	if r.Limit > 0 {
		b.WriteString(fmt.Sprintf("\t\tif n > %d then exit repeat\n", r.Limit))
	}
	b.WriteString("\t\tset out to out & " + strings.Join(exprs, " & tab & ") + " & linefeed\n")
	b.WriteString("\tend repeat\n")
	b.WriteString("end tell\n")
	b.WriteString("return out\n")
	b.WriteString(handlers)
	b.WriteString("\n")
	return b.String(), nil
}

// BuildExistenceCheck emits a script returning ok:<id> when the entity
// exists and err:<reason> otherwise.
func (f *Formatter) BuildExistenceCheck(kind, id string) string {
	var b strings.Builder
	b.WriteString("tell application \"Things3\"\n")
	b.WriteString("\ttry\n")
	b.WriteString(fmt.Sprintf("\t\tset t to %s id %s\n", kind, FormatString(id)))
	b.WriteString("\t\treturn \"ok:\" & (id of t)\n")
	b.WriteString("\ton error errMsg\n")
	b.WriteString("\t\treturn \"err:\" & errMsg\n")
	b.WriteString("\tend try\n")
	b.WriteString("end tell\n")
	return b.String()
}
