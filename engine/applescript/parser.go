package applescript

import (
	"fmt"
	"strings"
	"time"

	"github.com/thingsmcp/thingsmcp/engine/core"
)

// Record is one parsed entity, keyed by canonical field names.
type Record map[string]any

// Parser turns executor stdout back into records. It is a character-level
// state machine: no placeholder substitution exists in any intermediate
// form, so nothing can leak on error paths.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParseWriteResult classifies the ok:/err: sentinel every generated write
// prints. Output matching neither sentinel is a ParseError, never success.
func (p *Parser) ParseWriteResult(stdout string) (string, error) {
	out := strings.TrimSpace(stdout)
	if id, ok := strings.CutPrefix(out, "ok:"); ok {
		id = strings.TrimSpace(id)
		if id == "" {
			return "", core.NewError(core.CodeParse, "write returned ok without an id")
		}
		return id, nil
	}
	if reason, ok := strings.CutPrefix(out, "err:"); ok {
		reason = strings.TrimSpace(reason)
		switch {
		case strings.Contains(reason, "Can’t get") || strings.Contains(reason, "Can't get"):
			return "", core.NewError(core.CodeNotFound, "entity not found")
		default:
			return "", core.NewError(core.CodeBackendError, fmt.Sprintf("write failed: %s", reason))
		}
	}
	return "", core.NewError(core.CodeParse, "unclassified automation output")
}

// ParseTable parses tab-delimited, newline-terminated batch-read output.
// Fields are positional in the order they were requested. Malformed rows end
// the current record and surface as warnings, not errors.
func (p *Parser) ParseTable(stdout string, fields []string) ([]Record, []string) {
	var records []Record
	var warnings []string
	for i, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) != len(fields) {
			warnings = append(warnings, fmt.Sprintf("row %d: expected %d fields, got %d", i+1, len(fields), len(cols)))
			continue
		}
		rec := make(Record, len(fields))
		for j, name := range fields {
			rec[name] = normalizeFieldValue(name, cols[j])
		}
		records = append(records, rec)
	}
	return records, warnings
}

// parserState is the state of the record-literal machine.
type parserState int

const (
	stateField parserState = iota
	stateValue
	stateQuoted
	stateList
	stateListQuoted
)

// ParseRecords parses AppleScript record literals of the form
// {name:"x", tag names:{"a", "b"}, due date:date "..."} with one record per
// line. Commas and colons inside quoted strings and brace lists are
// preserved; tag lists split on commas only outside quoted segments.
func (p *Parser) ParseRecords(stdout string) ([]Record, []string) {
	var records []Record
	var warnings []string
	for i, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec, warn := p.parseRecordLine(line)
		if warn != "" {
			warnings = append(warnings, fmt.Sprintf("record %d: %s", i+1, warn))
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records, warnings
}

func (p *Parser) parseRecordLine(line string) (Record, string) {
	rec := make(Record)
	state := stateField
	var key, val strings.Builder
	var list []string
	var warn string
	depth := 0

	flush := func() {
		k := canonicalKey(strings.TrimSpace(key.String()))
		if k == "" {
			key.Reset()
			val.Reset()
			list = nil
			return
		}
		if list != nil {
			items := make([]string, 0, len(list))
			for _, it := range list {
				it = strings.TrimSpace(it)
				if it != "" {
					items = append(items, it)
				}
			}
			rec[k] = items
		} else {
			rec[k] = normalizeFieldValue(k, strings.TrimSpace(val.String()))
		}
		key.Reset()
		val.Reset()
		list = nil
	}

	for _, r := range line {
		switch state {
		case stateField:
			switch r {
			case '{':
				if depth == 0 {
					depth++
					continue
				}
				key.WriteRune(r)
			case ':':
				state = stateValue
			case '}':
				depth--
			case ',':
				// Stray separator between pairs.
			default:
				key.WriteRune(r)
			}
		case stateValue:
			switch r {
			case '"':
				state = stateQuoted
				val.WriteRune(r)
			case '{':
				state = stateList
				list = []string{}
			case ',':
				flush()
				state = stateField
			case '}':
				flush()
				state = stateField
				depth--
			default:
				val.WriteRune(r)
			}
		case stateQuoted:
			if r == '"' {
				state = stateValue
			}
			val.WriteRune(r)
		case stateList:
			switch r {
			case '"':
				state = stateListQuoted
			case ',':
				list = append(list, "")
			case '}':
				state = stateValue
			default:
				if len(list) == 0 {
					list = append(list, "")
				}
				list[len(list)-1] += string(r)
			}
		case stateListQuoted:
			if r == '"' {
				state = stateList
				continue
			}
			if len(list) == 0 {
				list = append(list, "")
			}
			list[len(list)-1] += string(r)
		}
	}

	switch state {
	case stateQuoted, stateList, stateListQuoted:
		warn = "unterminated quoted or list value, record truncated"
		flush()
	case stateValue:
		flush()
	case stateField:
		if strings.TrimSpace(key.String()) != "" {
			warn = "dangling field without value"
		}
	}
	return rec, warn
}

// canonicalKey maps Things AppleScript property names onto the bridge's
// field names.
func canonicalKey(k string) string {
	switch k {
	case "name":
		return "title"
	case "tag names":
		return "tags"
	case "due date":
		return "due_date"
	case "activation date":
		return "activation_date"
	case "completion date":
		return "completion_time"
	case "cancellation date":
		return "cancellation_time"
	case "creation date":
		return "creation_time"
	case "modification date":
		return "modification_time"
	case "reminder time":
		return "reminder_time"
	case "project":
		return "project_id"
	case "area":
		return "area_id"
	default:
		return strings.ReplaceAll(k, " ", "_")
	}
}

// normalizeFieldValue coerces one scalar: missing value to nil, date text to
// ISO 8601, tag strings to a list, quoted text unwrapped.
func normalizeFieldValue(field, raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "missing value" {
		return nil
	}
	raw = strings.TrimPrefix(raw, "date ")
	if strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) && len(raw) >= 2 {
		raw = raw[1 : len(raw)-1]
	}
	switch field {
	case "tags":
		tags := SplitTags(raw)
		if len(tags) == 0 {
			return nil
		}
		return tags
	case "due_date", "activation_date", "completion_time", "cancellation_time",
		"creation_time", "modification_time":
		if iso, ok := normalizeDate(raw); ok {
			return iso
		}
		return raw
	default:
		return raw
	}
}

// SplitTags splits a comma-separated tag string on commas outside quoted
// segments, trimming and dropping empties.
func SplitTags(s string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			if t := strings.TrimSpace(cur.String()); t != "" {
				out = append(out, t)
			}
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if t := strings.TrimSpace(cur.String()); t != "" {
		out = append(out, t)
	}
	return out
}

// dateLayouts covers ISO output from the generated isodate handler plus the
// long forms osascript prints when a raw date value reaches stdout.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Monday, January 2, 2006 at 3:04:05 PM",
	"Monday, January 2, 2006 at 15:04:05",
	"January 2, 2006 at 3:04:05 PM",
	"Monday 2 January 2006 at 15:04:05",
}

// normalizeDate recognizes a date-like value and renders it as
// YYYY-MM-DDTHH:MM:SS.
func normalizeDate(s string) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02T15:04:05"), true
		}
	}
	return "", false
}

// ToTodo converts a record into the core entity.
func ToTodo(rec Record) core.Todo {
	todo := core.Todo{
		ID:               str(rec["id"]),
		Title:            str(rec["title"]),
		Notes:            str(rec["notes"]),
		CreationTime:     str(rec["creation_time"]),
		ModificationTime: str(rec["modification_time"]),
		DueDate:          str(rec["due_date"]),
		ActivationDate:   str(rec["activation_date"]),
		CompletionTime:   str(rec["completion_time"]),
		CancellationTime: str(rec["cancellation_time"]),
		ReminderTime:     str(rec["reminder_time"]),
		ProjectID:        str(rec["project_id"]),
		AreaID:           str(rec["area_id"]),
	}
	switch str(rec["status"]) {
	case "completed":
		todo.Status = core.StatusCompleted
	case "canceled":
		todo.Status = core.StatusCanceled
	default:
		todo.Status = core.StatusOpen
	}
	switch tags := rec["tags"].(type) {
	case []string:
		todo.Tags = tags
	case string:
		todo.Tags = SplitTags(tags)
	}
	return todo
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
