package thingsdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thingsmcp/thingsmcp/engine/core"
)

const testSchema = `
CREATE TABLE TMTask (
	uuid TEXT PRIMARY KEY,
	title TEXT,
	notes TEXT,
	status INTEGER NOT NULL DEFAULT 0,
	type INTEGER NOT NULL DEFAULT 0,
	start INTEGER NOT NULL DEFAULT 0,
	trashed INTEGER NOT NULL DEFAULT 0,
	creationDate REAL,
	userModificationDate REAL,
	deadline REAL,
	startDate REAL,
	stopDate REAL,
	reminderTime REAL,
	project TEXT,
	area TEXT,
	heading TEXT
);
CREATE TABLE TMTag (
	uuid TEXT PRIMARY KEY,
	title TEXT,
	parent TEXT,
	shortcut TEXT
);
CREATE TABLE TMTaskTag (
	tasks TEXT,
	tags TEXT
);
CREATE TABLE TMArea (
	uuid TEXT PRIMARY KEY,
	title TEXT,
	"index" INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE TMChecklistItem (
	uuid TEXT PRIMARY KEY,
	task TEXT,
	title TEXT,
	status INTEGER NOT NULL DEFAULT 0,
	"index" INTEGER NOT NULL DEFAULT 0
);
`

// seedDB builds a miniature Things store covering every list bucket.
func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.sqlite")
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	now := float64(time.Now().Unix())
	task := func(uuid, title string, cols map[string]any) {
		stmt := "INSERT INTO TMTask (uuid, title, creationDate, userModificationDate"
		vals := []any{uuid, title, now, now}
		placeholders := "?, ?, ?, ?"
		for k, v := range cols {
			stmt += ", " + k
			placeholders += ", ?"
			vals = append(vals, v)
		}
		_, err := db.Exec(stmt+") VALUES ("+placeholders+")", vals...)
		require.NoError(t, err)
	}

	task("T-INBOX", "Inbox item", map[string]any{"start": 0})
	task("T-TODAY", "Today item", map[string]any{
		"start": 1, "startDate": now - 3600, "reminderTime": 34200.0, "notes": "call about the offer",
	})
	task("T-UPCOMING", "Upcoming item", map[string]any{"start": 1, "startDate": now + 7*86400})
	task("T-SOMEDAY", "Someday item", map[string]any{"start": 2})
	task("T-DONE", "Done item", map[string]any{"status": 3, "stopDate": now - 100})
	task("T-CANCELED", "Canceled item", map[string]any{"status": 2, "stopDate": now - 50})
	task("T-TRASHED", "Trashed item", map[string]any{"trashed": 1})
	task("P-1", "Big project", map[string]any{"type": 1})
	task("T-CHILD", "Project child", map[string]any{"project": "P-1", "start": 1})

	_, err = db.Exec(`INSERT INTO TMArea (uuid, title, "index") VALUES ('A-1', 'Work', 0)`)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO TMTag (uuid, title) VALUES ('TG-1', 'urgent'), ('TG-2', 'deep work')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO TMTaskTag (tasks, tags) VALUES ('T-TODAY', 'TG-1')")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO TMChecklistItem (uuid, task, title, status, "index")
		VALUES ('C-1', 'T-TODAY', 'step one', 0, 0), ('C-2', 'T-TODAY', 'step two', 3, 1)`)
	require.NoError(t, err)
	return path
}

func openSeeded(t *testing.T) *Reader {
	t.Helper()
	r, err := Open(context.Background(), seedDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func ids(todos []core.Todo) []string {
	out := make([]string, len(todos))
	for i, td := range todos {
		out[i] = td.ID
	}
	return out
}

func TestOpen(t *testing.T) {
	t.Run("Should open and probe a valid store", func(t *testing.T) {
		r, err := Open(context.Background(), seedDB(t))
		require.NoError(t, err)
		require.NoError(t, r.Close())
	})
	t.Run("Should fail typed on a missing file", func(t *testing.T) {
		_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.sqlite"))
		require.Error(t, err)
		assert.Equal(t, core.CodeBackendUnavailable, core.CodeOf(err))
	})
	t.Run("Should fail typed on an empty path", func(t *testing.T) {
		_, err := Open(context.Background(), "")
		assert.Equal(t, core.CodeBackendUnavailable, core.CodeOf(err))
	})
}

func TestReader_ListBuiltin(t *testing.T) {
	r := openSeeded(t)
	ctx := context.Background()

	t.Run("Should isolate the inbox bucket", func(t *testing.T) {
		todos, err := r.ListBuiltin(ctx, core.ListInbox, ListQuery{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T-INBOX"}, ids(todos))
	})
	t.Run("Should put only past start dates in today", func(t *testing.T) {
		todos, err := r.ListBuiltin(ctx, core.ListToday, ListQuery{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T-TODAY"}, ids(todos))
	})
	t.Run("Should put future start dates in upcoming", func(t *testing.T) {
		todos, err := r.ListBuiltin(ctx, core.ListUpcoming, ListQuery{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T-UPCOMING"}, ids(todos))
	})
	t.Run("Should isolate someday", func(t *testing.T) {
		todos, err := r.ListBuiltin(ctx, core.ListSomeday, ListQuery{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T-SOMEDAY"}, ids(todos))
	})
	t.Run("Should list trashed items only in trash", func(t *testing.T) {
		todos, err := r.ListBuiltin(ctx, core.ListTrash, ListQuery{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T-TRASHED"}, ids(todos))
	})
	t.Run("Should honor the limit", func(t *testing.T) {
		todos, err := r.ListBuiltin(ctx, core.ListToday, ListQuery{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, todos, 1)
	})
}

func TestReader_Logbook(t *testing.T) {
	r := openSeeded(t)
	ctx := context.Background()

	t.Run("Should return finished items newest stop first", func(t *testing.T) {
		todos, err := r.Logbook(ctx, ListQuery{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T-CANCELED", "T-DONE"}, ids(todos))
	})
	t.Run("Should narrow by status", func(t *testing.T) {
		st := core.StatusCompleted
		todos, err := r.Logbook(ctx, ListQuery{Status: &st, Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T-DONE"}, ids(todos))
		assert.Equal(t, core.StatusCompleted, todos[0].Status)
		assert.NotEmpty(t, todos[0].CompletionTime)
	})
	t.Run("Should bound by the since window", func(t *testing.T) {
		todos, err := r.Logbook(ctx, ListQuery{Limit: 50, Since: time.Now().Add(-75 * time.Second)})
		require.NoError(t, err)
		assert.Equal(t, []string{"T-CANCELED"}, ids(todos))
	})
}

func TestReader_GetTodo(t *testing.T) {
	r := openSeeded(t)
	ctx := context.Background()

	t.Run("Should hydrate tags, reminder, and checklist", func(t *testing.T) {
		todo, err := r.GetTodo(ctx, "T-TODAY")
		require.NoError(t, err)
		assert.Equal(t, "Today item", todo.Title)
		assert.Equal(t, []string{"urgent"}, todo.Tags)
		assert.Equal(t, "09:30", todo.ReminderTime)
		require.Len(t, todo.Checklist, 2)
		assert.Equal(t, "step one", todo.Checklist[0].Title)
		assert.False(t, todo.Checklist[0].Completed)
		assert.True(t, todo.Checklist[1].Completed)
	})
	t.Run("Should return NotFound for an unknown id", func(t *testing.T) {
		_, err := r.GetTodo(ctx, "nope")
		assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
	})
}

func TestReader_Search(t *testing.T) {
	r := openSeeded(t)
	ctx := context.Background()

	t.Run("Should match against notes as well as titles", func(t *testing.T) {
		todos, err := r.Search(ctx, "offer", ListQuery{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T-TODAY"}, ids(todos))
	})
	t.Run("Should treat LIKE metacharacters literally", func(t *testing.T) {
		todos, err := r.Search(ctx, "100%", ListQuery{Limit: 50})
		require.NoError(t, err)
		assert.Empty(t, todos)
	})
	t.Run("Should match everything on an empty query", func(t *testing.T) {
		open := core.StatusOpen
		todos, err := r.Search(ctx, "", ListQuery{Status: &open, Limit: 50})
		require.NoError(t, err)
		assert.Contains(t, ids(todos), "T-INBOX")
		assert.NotContains(t, ids(todos), "T-TRASHED")
		assert.NotContains(t, ids(todos), "T-DONE")
	})
}

func TestReader_TaggedItems(t *testing.T) {
	r := openSeeded(t)
	t.Run("Should match the exact tag name", func(t *testing.T) {
		todos, err := r.TaggedItems(context.Background(), "urgent", ListQuery{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T-TODAY"}, ids(todos))
	})
	t.Run("Should return nothing for an unused tag", func(t *testing.T) {
		todos, err := r.TaggedItems(context.Background(), "deep work", ListQuery{Limit: 50})
		require.NoError(t, err)
		assert.Empty(t, todos)
	})
}

func TestReader_Projects(t *testing.T) {
	r := openSeeded(t)
	ctx := context.Background()

	t.Run("Should list a project's todos", func(t *testing.T) {
		todos, err := r.ListByProject(ctx, "P-1", ListQuery{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"T-CHILD"}, ids(todos))
	})
	t.Run("Should materialize items when asked", func(t *testing.T) {
		projects, err := r.ListProjects(ctx, true, 50)
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, "Big project", projects[0].Title)
		require.Len(t, projects[0].Todos, 1)
		assert.Equal(t, "T-CHILD", projects[0].Todos[0].ID)
	})
	t.Run("Should answer existence checks", func(t *testing.T) {
		ok, err := r.ProjectExists(ctx, "P-1")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = r.ProjectExists(ctx, "T-INBOX")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestReader_AreasAndTags(t *testing.T) {
	r := openSeeded(t)
	ctx := context.Background()

	t.Run("Should list areas", func(t *testing.T) {
		areas, err := r.ListAreas(ctx, false)
		require.NoError(t, err)
		require.Len(t, areas, 1)
		assert.Equal(t, "Work", areas[0].Title)
	})
	t.Run("Should answer area existence", func(t *testing.T) {
		ok, err := r.AreaExists(ctx, "A-1")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = r.AreaExists(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("Should count open items per tag", func(t *testing.T) {
		tags, err := r.ListTags(ctx, true)
		require.NoError(t, err)
		require.Len(t, tags, 2)
		// Sorted by title: "deep work" before "urgent".
		assert.Equal(t, "deep work", tags[0].Name)
		assert.Equal(t, 0, tags[0].ItemCount)
		assert.Equal(t, "urgent", tags[1].Name)
		assert.Equal(t, 1, tags[1].ItemCount)
	})
}

func TestReader_Recent(t *testing.T) {
	r := openSeeded(t)
	t.Run("Should bound by creation date", func(t *testing.T) {
		todos, err := r.Recent(context.Background(), time.Now().Add(-time.Hour), 50)
		require.NoError(t, err)
		assert.Contains(t, ids(todos), "T-INBOX")
	})
}
