package core

import (
	"fmt"
	"strings"
)

// Destination is a parsed write target:
// inbox|today|anytime|someday|upcoming|logbook|project:<id>|area:<id>.
type Destination struct {
	Raw       string
	List      BuiltinList
	ProjectID string
	AreaID    string
}

// ParseDestination parses the destination grammar. Unknown values are
// validation errors.
func ParseDestination(s string) (*Destination, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, NewFieldError("destination", "empty value")
	}
	d := &Destination{Raw: raw}
	if id, ok := strings.CutPrefix(raw, "project:"); ok {
		if id == "" {
			return nil, NewFieldError("destination", "project id is empty")
		}
		d.ProjectID = id
		return d, nil
	}
	if id, ok := strings.CutPrefix(raw, "area:"); ok {
		if id == "" {
			return nil, NewFieldError("destination", "area id is empty")
		}
		d.AreaID = id
		return d, nil
	}
	switch BuiltinList(raw) {
	case ListInbox, ListToday, ListAnytime, ListSomeday, ListUpcoming, ListLogbook:
		d.List = BuiltinList(raw)
		return d, nil
	case ListTrash:
		return nil, NewFieldError("destination", "trash is not a valid move target, use delete_todo")
	}
	return nil, NewFieldError("destination",
		fmt.Sprintf("unknown destination %q, expected a built-in list, project:<id>, or area:<id>", raw))
}
