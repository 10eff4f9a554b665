// Package shaper sizes responses for context-limited clients. Every list
// result passes through here: the requested mode picks a per-item field set,
// auto mode picks one from the item count, and a byte budget forces a mode
// downgrade or pagination before anything oversized leaves the process.
package shaper

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thingsmcp/thingsmcp/engine/core"
)

// Mode selects the per-item field set.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeSummary  Mode = "summary"
	ModeMinimal  Mode = "minimal"
	ModeStandard Mode = "standard"
	ModeDetailed Mode = "detailed"
	ModeRaw      Mode = "raw"
)

// Auto thresholds by item count.
const (
	autoDetailedMax = 10
	autoStandardMax = 50
	autoMinimalMax  = 200
)

const (
	// DefaultMaxBytes is the response budget.
	DefaultMaxBytes = 80 * 1024

	previewTitles    = 5
	recentWindowDays = 7
)

// ParseMode validates a requested mode; empty means auto.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeSummary, ModeMinimal, ModeStandard, ModeDetailed, ModeRaw:
		return m, nil
	default:
		return "", core.NewFieldError("mode",
			fmt.Sprintf("invalid value %q, expected auto|summary|minimal|standard|detailed|raw", raw))
	}
}

// MinimalTodo is the ~50 byte projection.
type MinimalTodo struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Status core.Status `json:"status"`
}

// StandardTodo adds scheduling context.
type StandardTodo struct {
	MinimalTodo
	Tags      []string `json:"tags,omitempty"`
	Scheduled string   `json:"scheduled,omitempty"`
	Deadline  string   `json:"deadline,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
}

// DetailedTodo adds body and history fields.
type DetailedTodo struct {
	StandardTodo
	Notes            string               `json:"notes,omitempty"`
	Checklist        []core.ChecklistItem `json:"checklist,omitempty"`
	ReminderTime     string               `json:"reminder_time,omitempty"`
	CreationTime     string               `json:"creation_time,omitempty"`
	ModificationTime string               `json:"modification_time,omitempty"`
	CompletionTime   string               `json:"completion_time,omitempty"`
	AreaID           string               `json:"area_id,omitempty"`
}

// Summary is the shared fixed-size shape.
type Summary struct {
	Count     int            `json:"count"`
	ByStatus  map[string]int `json:"by_status"`
	Preview   []string       `json:"preview,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

// Result carries the shaped payload plus the meta fields the envelope
// surfaces.
type Result struct {
	Data       any
	Mode       Mode
	Truncated  bool
	NextCursor string
}

// Shaper applies mode selection and the byte budget. Now is injectable so
// relevance ranking is deterministic in tests.
type Shaper struct {
	MaxBytes int
	Now      func() time.Time
}

func New(maxBytes int) *Shaper {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Shaper{MaxBytes: maxBytes, Now: time.Now}
}

// ShapeTodos shapes a todo list. cursor, when non-empty, is an offset cursor
// from a previous truncated response.
func (s *Shaper) ShapeTodos(todos []core.Todo, mode Mode, cursor string) (*Result, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, core.NewFieldError("cursor", fmt.Sprintf("invalid cursor %q", cursor))
		}
		offset = n
	}

	if mode == ModeAuto {
		mode = autoMode(len(todos))
	}
	if mode == ModeSummary {
		return &Result{Data: s.summarize(todos), Mode: ModeSummary}, nil
	}

	ranked := s.rank(todos)
	if offset >= len(ranked) && offset > 0 {
		return &Result{Data: []any{}, Mode: mode}, nil
	}
	ranked = ranked[offset:]

	// Walk down the mode ladder until the payload fits, then paginate.
	for {
		data := project(ranked, mode)
		size := encodedSize(data)
		if size <= s.MaxBytes {
			return &Result{Data: data, Mode: mode}, nil
		}
		if next := smallerMode(mode); next != "" {
			mode = next
			continue
		}
		page := s.fitPage(ranked, mode)
		if page == 0 {
			return &Result{Data: s.summarize(todos), Mode: ModeSummary, Truncated: true}, nil
		}
		return &Result{
			Data:       project(ranked[:page], mode),
			Mode:       mode,
			Truncated:  true,
			NextCursor: strconv.Itoa(offset + page),
		}, nil
	}
}

func autoMode(n int) Mode {
	switch {
	case n < autoDetailedMax:
		return ModeDetailed
	case n < autoStandardMax:
		return ModeStandard
	case n < autoMinimalMax:
		return ModeMinimal
	default:
		return ModeSummary
	}
}

func smallerMode(m Mode) Mode {
	switch m {
	case ModeRaw:
		return ModeDetailed
	case ModeDetailed:
		return ModeStandard
	case ModeStandard:
		return ModeMinimal
	default:
		return ""
	}
}

// rank orders todos by relevance before any truncation: overdue first, then
// scheduled today, then carrying a reminder, then recently modified, then
// original order.
func (s *Shaper) rank(todos []core.Todo) []core.Todo {
	now := s.Now()
	today := now.Format("2006-01-02")
	out := make([]core.Todo, len(todos))
	copy(out, todos)
	sort.SliceStable(out, func(i, j int) bool {
		return s.relevance(&out[i], today, now) < s.relevance(&out[j], today, now)
	})
	return out
}

func (s *Shaper) relevance(t *core.Todo, today string, now time.Time) int {
	switch {
	case t.Status == core.StatusOpen && t.DueDate != "" && datePart(t.DueDate) < today:
		return 0
	case t.ActivationDate != "" && datePart(t.ActivationDate) <= today:
		return 1
	case t.ReminderTime != "":
		return 2
	case recentlyModified(t.ModificationTime, now):
		return 3
	default:
		return 4
	}
}

func datePart(iso string) string {
	if len(iso) >= 10 {
		return iso[:10]
	}
	return iso
}

func recentlyModified(iso string, now time.Time) bool {
	if iso == "" {
		return false
	}
	t, err := time.Parse("2006-01-02T15:04:05", iso)
	if err != nil {
		return false
	}
	return now.Sub(t) <= recentWindowDays*24*time.Hour
}

func project(todos []core.Todo, mode Mode) any {
	switch mode {
	case ModeRaw:
		return todos
	case ModeDetailed:
		out := make([]DetailedTodo, len(todos))
		for i := range todos {
			out[i] = detailed(&todos[i])
		}
		return out
	case ModeStandard:
		out := make([]StandardTodo, len(todos))
		for i := range todos {
			out[i] = standard(&todos[i])
		}
		return out
	default:
		out := make([]MinimalTodo, len(todos))
		for i := range todos {
			out[i] = minimal(&todos[i])
		}
		return out
	}
}

func minimal(t *core.Todo) MinimalTodo {
	return MinimalTodo{ID: t.ID, Title: t.Title, Status: t.Status}
}

func standard(t *core.Todo) StandardTodo {
	return StandardTodo{
		MinimalTodo: minimal(t),
		Tags:        t.Tags,
		Scheduled:   t.ActivationDate,
		Deadline:    t.DueDate,
		ProjectID:   t.ProjectID,
	}
}

func detailed(t *core.Todo) DetailedTodo {
	return DetailedTodo{
		StandardTodo:     standard(t),
		Notes:            t.Notes,
		Checklist:        t.Checklist,
		ReminderTime:     t.ReminderTime,
		CreationTime:     t.CreationTime,
		ModificationTime: t.ModificationTime,
		CompletionTime:   t.CompletionTime,
		AreaID:           t.AreaID,
	}
}

func (s *Shaper) summarize(todos []core.Todo) *Summary {
	sum := &Summary{
		Count:    len(todos),
		ByStatus: map[string]int{},
	}
	for i := range todos {
		sum.ByStatus[string(todos[i].Status)]++
		if len(sum.Preview) < previewTitles {
			sum.Preview = append(sum.Preview, todos[i].Title)
		}
	}
	return sum
}

// fitPage estimates how many leading items fit the budget from the average
// encoded item size, then verifies and shrinks until the page actually fits.
func (s *Shaper) fitPage(todos []core.Todo, mode Mode) int {
	total := encodedSize(project(todos, mode))
	if total == 0 || len(todos) == 0 {
		return 0
	}
	perItem := total / len(todos)
	if perItem == 0 {
		perItem = 1
	}
	page := s.MaxBytes / perItem
	if page >= len(todos) {
		page = len(todos) - 1
	}
	for page > 0 && encodedSize(project(todos[:page], mode)) > s.MaxBytes {
		page = page * 9 / 10
		if page == 0 {
			break
		}
	}
	return page
}

func encodedSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}
