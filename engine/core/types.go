package core

// Status is a todo or project lifecycle state as Things reports it.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// BuiltinList names one of Things' fixed views.
type BuiltinList string

const (
	ListInbox    BuiltinList = "inbox"
	ListToday    BuiltinList = "today"
	ListUpcoming BuiltinList = "upcoming"
	ListAnytime  BuiltinList = "anytime"
	ListSomeday  BuiltinList = "someday"
	ListLogbook  BuiltinList = "logbook"
	ListTrash    BuiltinList = "trash"
)

// IsBuiltinList reports whether s names a built-in list.
func IsBuiltinList(s string) bool {
	switch BuiltinList(s) {
	case ListInbox, ListToday, ListUpcoming, ListAnytime, ListSomeday, ListLogbook, ListTrash:
		return true
	}
	return false
}

// ChecklistItem is a single checklist entry inside a todo.
type ChecklistItem struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Todo is the primary entity. Time fields are ISO 8601 strings
// (YYYY-MM-DDTHH:MM:SS); empty means unset. Entities are owned by Things;
// the bridge never persists them.
type Todo struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Notes            string          `json:"notes,omitempty"`
	Status           Status          `json:"status"`
	Tags             []string        `json:"tags,omitempty"`
	CreationTime     string          `json:"creation_time,omitempty"`
	ModificationTime string          `json:"modification_time,omitempty"`
	DueDate          string          `json:"due_date,omitempty"`
	ActivationDate   string          `json:"activation_date,omitempty"`
	CompletionTime   string          `json:"completion_time,omitempty"`
	CancellationTime string          `json:"cancellation_time,omitempty"`
	ReminderTime     string          `json:"reminder_time,omitempty"`
	ProjectID        string          `json:"project_id,omitempty"`
	AreaID           string          `json:"area_id,omitempty"`
	HeadingID        string          `json:"heading_id,omitempty"`
	Checklist        []ChecklistItem `json:"checklist,omitempty"`
	// IDIsPlaceholder is set when the entity was created through the
	// fire-and-forget URL scheme and the real id could not be read back.
	IDIsPlaceholder bool `json:"id_is_placeholder,omitempty"`
}

// Project mirrors Todo plus contained todos, materialized on demand.
type Project struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Notes            string   `json:"notes,omitempty"`
	Status           Status   `json:"status"`
	Tags             []string `json:"tags,omitempty"`
	AreaID           string   `json:"area_id,omitempty"`
	CreationTime     string   `json:"creation_time,omitempty"`
	ModificationTime string   `json:"modification_time,omitempty"`
	DueDate          string   `json:"due_date,omitempty"`
	ActivationDate   string   `json:"activation_date,omitempty"`
	Todos            []Todo   `json:"todos,omitempty"`
	IDIsPlaceholder  bool     `json:"id_is_placeholder,omitempty"`
}

// Area groups projects and todos.
type Area struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Notes    string    `json:"notes,omitempty"`
	Projects []Project `json:"projects,omitempty"`
	Todos    []Todo    `json:"todos,omitempty"`
}

// Tag identity is its case-sensitive name. Parent and shortcut are read-only
// attributes surfaced from Things.
type Tag struct {
	Name      string `json:"name"`
	Parent    string `json:"parent,omitempty"`
	Shortcut  string `json:"shortcut,omitempty"`
	ItemCount int    `json:"item_count,omitempty"`
}
