package applescript

import (
	"fmt"
	"strings"

	"github.com/thingsmcp/thingsmcp/engine/core"
)

// Write accumulates property mutations for a single todo or project and
// renders them as one try-wrapped script. Every write returns "ok:<id>" or
// "err:<reason>" on stdout so a silent no-op can never look like success.
type Write struct {
	f       *Formatter
	kind    string // "to do" | "project"
	id      string // empty means create
	title   string // create-time name
	prelude []string
	sets    []string
	err     error
}

// NewWrite starts an update of an existing entity.
func (f *Formatter) NewWrite(kind, id string) *Write {
	return &Write{f: f, kind: kind, id: id}
}

// NewCreate starts creation of a new entity with the given title.
func (f *Formatter) NewCreate(kind, title string) *Write {
	return &Write{f: f, kind: kind, title: title}
}

func (w *Write) fail(err error) *Write {
	if w.err == nil {
		w.err = err
	}
	return w
}

func (w *Write) set(stmt string) *Write {
	w.sets = append(w.sets, stmt)
	return w
}

func (w *Write) Title(s string) *Write {
	return w.set(fmt.Sprintf("set name of t to %s", FormatString(s)))
}

func (w *Write) Notes(s string) *Write {
	return w.set(fmt.Sprintf("set notes of t to %s", FormatString(s)))
}

// Tags writes the full tag set as a single comma-separated string.
func (w *Write) Tags(tags []string) *Write {
	return w.set(fmt.Sprintf("set tag names of t to %s", w.f.FormatTags(tags)))
}

func (w *Write) Status(st core.Status) *Write {
	switch st {
	case core.StatusOpen:
		return w.set("set status of t to open")
	case core.StatusCompleted:
		return w.set("set status of t to completed")
	case core.StatusCanceled:
		return w.set("set status of t to canceled")
	}
	return w.fail(core.NewFieldError("status", fmt.Sprintf("unknown status %q", st)))
}

// DueDate sets the deadline from a date object built out of numeric
// property assignments.
func (w *Write) DueDate(when *core.When) *Write {
	lines, err := w.f.DateAssignments("dueDate", when)
	if err != nil {
		return w.fail(err)
	}
	w.prelude = append(w.prelude, lines...)
	return w.set("set due date of t to dueDate")
}

// Schedule applies an activation date through Things' native schedule
// command, again via a numeric date object.
func (w *Write) Schedule(when *core.When) *Write {
	lines, err := w.f.DateAssignments("whenDate", when)
	if err != nil {
		return w.fail(err)
	}
	w.prelude = append(w.prelude, lines...)
	return w.set("schedule t for whenDate")
}

// MoveToList moves the entity to a built-in list.
func (w *Write) MoveToList(list core.BuiltinList) *Write {
	name, ok := listNames[list]
	if !ok {
		return w.fail(core.NewFieldError("destination", fmt.Sprintf("list %q is not a move target", list)))
	}
	return w.set(fmt.Sprintf("move t to list %s", FormatString(name)))
}

// Destination applies a parsed write target: list move, project move, or
// area assignment.
func (w *Write) Destination(d *core.Destination) *Write {
	switch {
	case d == nil:
		return w
	case d.ProjectID != "":
		return w.set(fmt.Sprintf("move t to project id %s", FormatString(d.ProjectID)))
	case d.AreaID != "":
		return w.set(fmt.Sprintf("set area of t to area id %s", FormatString(d.AreaID)))
	case d.List != "":
		return w.MoveToList(d.List)
	}
	return w
}

// listNames maps built-in lists to the names Things' AppleScript dictionary
// uses. Logbook and Trash are not move targets.
var listNames = map[core.BuiltinList]string{
	core.ListInbox:    "Inbox",
	core.ListToday:    "Today",
	core.ListUpcoming: "Upcoming",
	core.ListAnytime:  "Anytime",
	core.ListSomeday:  "Someday",
}

// Script renders the accumulated write. It fails when any builder step
// failed or when an update has nothing to do, so an accidental empty write
// cannot be reported as success.
func (w *Write) Script() (string, error) {
	if w.err != nil {
		return "", w.err
	}
	if w.id == "" && w.title == "" {
		return "", core.NewError(core.CodeInternal, "create requires a title")
	}
	if w.id != "" && len(w.sets) == 0 {
		return "", core.NewError(core.CodeInternal, "update has no property assignments")
	}
	var b strings.Builder
	b.WriteString("tell application \"Things3\"\n")
	b.WriteString("\ttry\n")
	for _, line := range w.prelude {
		b.WriteString("\t\t" + line + "\n")
	}
	if w.id != "" {
		b.WriteString(fmt.Sprintf("\t\tset t to %s id %s\n", w.kind, FormatString(w.id)))
	} else {
		b.WriteString(fmt.Sprintf("\t\tset t to make new %s with properties {name:%s}\n", w.kind, FormatString(w.title)))
	}
	for _, line := range w.sets {
		b.WriteString("\t\t" + line + "\n")
	}
	b.WriteString("\t\treturn \"ok:\" & (id of t)\n")
	b.WriteString("\ton error errMsg\n")
	b.WriteString("\t\treturn \"err:\" & errMsg\n")
	b.WriteString("\tend try\n")
	b.WriteString("end tell\n")
	return b.String(), nil
}

// BuildDelete emits a script that moves the entity to the trash.
func (f *Formatter) BuildDelete(kind, id string) string {
	var b strings.Builder
	b.WriteString("tell application \"Things3\"\n")
	b.WriteString("\ttry\n")
	b.WriteString(fmt.Sprintf("\t\tset t to %s id %s\n", kind, FormatString(id)))
	b.WriteString("\t\tset theID to id of t\n")
	b.WriteString("\t\tmove t to list \"Trash\"\n")
	b.WriteString("\t\treturn \"ok:\" & theID\n")
	b.WriteString("\ton error errMsg\n")
	b.WriteString("\t\treturn \"err:\" & errMsg\n")
	b.WriteString("\tend try\n")
	b.WriteString("end tell\n")
	return b.String()
}
