package thingsdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/thingsmcp/thingsmcp/engine/core"
)

// todoColumns is the shared projection for todo queries. Tags are aggregated
// in SQL so a list read is a single query.
const todoColumns = `
	task.uuid, task.title, IFNULL(task.notes, ''), task.status,
	task.creationDate, task.userModificationDate,
	task.deadline, task.startDate, task.stopDate, task.reminderTime,
	IFNULL(task.project, ''), IFNULL(task.area, ''), IFNULL(task.heading, ''),
	IFNULL((SELECT group_concat(tg.title, ',')
		FROM TMTaskTag tt JOIN TMTag tg ON tt.tags = tg.uuid
		WHERE tt.tasks = task.uuid), '')`

// ListQuery restricts a list read.
type ListQuery struct {
	Status *core.Status // nil = open items for ambient lists
	Limit  int          // 0 = caller explicitly asked for nothing
	Since  time.Time    // zero = unbounded
}

func (r *Reader) scanTodos(rows *sql.Rows) ([]core.Todo, error) {
	defer rows.Close()
	var todos []core.Todo
	for rows.Next() {
		var (
			t                              core.Todo
			status                         int
			created, modified              sql.NullFloat64
			deadline, startDate, stopDate  sql.NullFloat64
			reminder                       sql.NullFloat64
			projectID, areaID, headingID   string
			tagCSV                         string
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Notes, &status,
			&created, &modified, &deadline, &startDate, &stopDate, &reminder,
			&projectID, &areaID, &headingID, &tagCSV); err != nil {
			return nil, core.WrapError(core.CodeInternal, "scan todo row", err)
		}
		t.Status = statusFromDB(status)
		t.CreationTime = isoFromEpoch(created)
		t.ModificationTime = isoFromEpoch(modified)
		t.DueDate = isoFromEpoch(deadline)
		t.ActivationDate = isoFromEpoch(startDate)
		switch t.Status {
		case core.StatusCompleted:
			t.CompletionTime = isoFromEpoch(stopDate)
		case core.StatusCanceled:
			t.CancellationTime = isoFromEpoch(stopDate)
		}
		t.ReminderTime = reminderFromSeconds(reminder)
		t.ProjectID = projectID
		t.AreaID = areaID
		t.HeadingID = headingID
		if tagCSV != "" {
			t.Tags = strings.Split(tagCSV, ",")
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.CodeInternal, "iterate todo rows", err)
	}
	return todos, nil
}

func (r *Reader) queryTodos(ctx context.Context, where string, order string, limit int, args ...any) ([]core.Todo, error) {
	q := fmt.Sprintf("SELECT %s FROM TMTask task WHERE %s", todoColumns, where)
	if order != "" {
		q += " ORDER BY " + order
	}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.WrapError(core.CodeBackendUnavailable, "query things database", err)
	}
	return r.scanTodos(rows)
}

// ListBuiltin answers a built-in list view.
func (r *Reader) ListBuiltin(ctx context.Context, list core.BuiltinList, q ListQuery) ([]core.Todo, error) {
	endOfToday := time.Now().Truncate(24 * time.Hour).Add(24 * time.Hour).Unix()
	switch list {
	case core.ListInbox:
		return r.queryTodos(ctx,
			"task.trashed = 0 AND task.type = ? AND task.status = ? AND task.start = ?",
			"task.creationDate DESC", q.Limit, dbTypeTodo, dbStatusOpen, dbStartInbox)
	case core.ListToday:
		return r.queryTodos(ctx,
			"task.trashed = 0 AND task.type = ? AND task.status = ? AND task.start = ? AND task.startDate IS NOT NULL AND task.startDate < ?",
			"task.startDate ASC", q.Limit, dbTypeTodo, dbStatusOpen, dbStartAnytime, endOfToday)
	case core.ListUpcoming:
		return r.queryTodos(ctx,
			"task.trashed = 0 AND task.type = ? AND task.status = ? AND task.startDate IS NOT NULL AND task.startDate >= ?",
			"task.startDate ASC", q.Limit, dbTypeTodo, dbStatusOpen, endOfToday)
	case core.ListAnytime:
		return r.queryTodos(ctx,
			"task.trashed = 0 AND task.type = ? AND task.status = ? AND task.start = ? AND task.startDate IS NULL",
			"task.creationDate DESC", q.Limit, dbTypeTodo, dbStatusOpen, dbStartAnytime)
	case core.ListSomeday:
		return r.queryTodos(ctx,
			"task.trashed = 0 AND task.type = ? AND task.status = ? AND task.start = ?",
			"task.creationDate DESC", q.Limit, dbTypeTodo, dbStatusOpen, dbStartSomeday)
	case core.ListLogbook:
		return r.Logbook(ctx, q)
	case core.ListTrash:
		return r.queryTodos(ctx,
			"task.trashed = 1 AND task.type = ?",
			"task.userModificationDate DESC", q.Limit, dbTypeTodo)
	}
	return nil, core.NewError(core.CodeInternal, fmt.Sprintf("unknown built-in list %q", list))
}

// Logbook returns completed and canceled items, newest stop first, bounded
// by Since when set.
func (r *Reader) Logbook(ctx context.Context, q ListQuery) ([]core.Todo, error) {
	where := "task.trashed = 0 AND task.status IN (?, ?)"
	args := []any{dbStatusCompleted, dbStatusCanceled}
	if q.Status != nil {
		where = "task.trashed = 0 AND task.status = ?"
		args = []any{DBStatus(*q.Status)}
	}
	if !q.Since.IsZero() {
		where += " AND task.stopDate >= ?"
		args = append(args, float64(q.Since.Unix()))
	}
	return r.queryTodos(ctx, where, "task.stopDate DESC", q.Limit, args...)
}

// ListByProject returns a project's open todos.
func (r *Reader) ListByProject(ctx context.Context, projectID string, q ListQuery) ([]core.Todo, error) {
	where := "task.trashed = 0 AND task.type = ? AND task.project = ?"
	args := []any{dbTypeTodo, projectID}
	if q.Status != nil {
		where += " AND task.status = ?"
		args = append(args, DBStatus(*q.Status))
	} else {
		where += " AND task.status = ?"
		args = append(args, dbStatusOpen)
	}
	return r.queryTodos(ctx, where, "task.creationDate ASC", q.Limit, args...)
}

// ListByArea returns an area's open todos.
func (r *Reader) ListByArea(ctx context.Context, areaID string, q ListQuery) ([]core.Todo, error) {
	return r.queryTodos(ctx,
		"task.trashed = 0 AND task.type = ? AND task.area = ? AND task.status = ?",
		"task.creationDate ASC", q.Limit, dbTypeTodo, areaID, dbStatusOpen)
}

// GetTodo fetches one todo by id including its checklist.
func (r *Reader) GetTodo(ctx context.Context, id string) (*core.Todo, error) {
	todos, err := r.queryTodos(ctx, "task.uuid = ?", "", 1, id)
	if err != nil {
		return nil, err
	}
	if len(todos) == 0 {
		return nil, core.NewError(core.CodeNotFound, fmt.Sprintf("todo %q not found", id))
	}
	todo := todos[0]
	checklist, err := r.checklist(ctx, id)
	if err != nil {
		return nil, err
	}
	todo.Checklist = checklist
	return &todo, nil
}

func (r *Reader) checklist(ctx context.Context, taskID string) ([]core.ChecklistItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT title, status FROM TMChecklistItem WHERE task = ? ORDER BY "index" ASC`, taskID)
	if err != nil {
		return nil, core.WrapError(core.CodeBackendUnavailable, "query checklist", err)
	}
	defer rows.Close()
	var items []core.ChecklistItem
	for rows.Next() {
		var title string
		var status int
		if err := rows.Scan(&title, &status); err != nil {
			return nil, core.WrapError(core.CodeInternal, "scan checklist row", err)
		}
		items = append(items, core.ChecklistItem{Title: title, Completed: status == dbStatusCompleted})
	}
	return items, rows.Err()
}

// Search runs a LIKE match over title and notes.
func (r *Reader) Search(ctx context.Context, query string, q ListQuery) ([]core.Todo, error) {
	pattern := "%" + escapeLike(query) + "%"
	where := `task.trashed = 0 AND task.type = ? AND (task.title LIKE ? ESCAPE '\' OR task.notes LIKE ? ESCAPE '\')`
	args := []any{dbTypeTodo, pattern, pattern}
	if q.Status != nil {
		where += " AND task.status = ?"
		args = append(args, DBStatus(*q.Status))
	}
	if !q.Since.IsZero() {
		where += " AND (task.stopDate >= ? OR task.creationDate >= ?)"
		args = append(args, float64(q.Since.Unix()), float64(q.Since.Unix()))
	}
	return r.queryTodos(ctx, where, "task.userModificationDate DESC", q.Limit, args...)
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// TaggedItems returns open todos carrying the exact tag name.
func (r *Reader) TaggedItems(ctx context.Context, tag string, q ListQuery) ([]core.Todo, error) {
	return r.queryTodos(ctx,
		`task.trashed = 0 AND task.type = ? AND task.status = ? AND EXISTS (
			SELECT 1 FROM TMTaskTag tt JOIN TMTag tg ON tt.tags = tg.uuid
			WHERE tt.tasks = task.uuid AND tg.title = ?)`,
		"task.creationDate DESC", q.Limit, dbTypeTodo, dbStatusOpen, tag)
}

// Recent returns items created within the period.
func (r *Reader) Recent(ctx context.Context, since time.Time, limit int) ([]core.Todo, error) {
	return r.queryTodos(ctx,
		"task.trashed = 0 AND task.type = ? AND task.creationDate >= ?",
		"task.creationDate DESC", limit, dbTypeTodo, float64(since.Unix()))
}

// ListProjects returns active projects, optionally materializing their todos.
func (r *Reader) ListProjects(ctx context.Context, includeItems bool, limit int) ([]core.Project, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM TMTask task WHERE task.trashed = 0 AND task.type = ? AND task.status = ? ORDER BY task.creationDate ASC",
		todoColumns), dbTypeProject, dbStatusOpen)
	if err != nil {
		return nil, core.WrapError(core.CodeBackendUnavailable, "query projects", err)
	}
	todos, err := r.scanTodos(rows)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(todos) > limit {
		todos = todos[:limit]
	}
	projects := make([]core.Project, 0, len(todos))
	for _, t := range todos {
		p := core.Project{
			ID: t.ID, Title: t.Title, Notes: t.Notes, Status: t.Status,
			Tags: t.Tags, AreaID: t.AreaID,
			CreationTime: t.CreationTime, ModificationTime: t.ModificationTime,
			DueDate: t.DueDate, ActivationDate: t.ActivationDate,
		}
		if includeItems {
			items, err := r.ListByProject(ctx, t.ID, ListQuery{Limit: 500})
			if err != nil {
				return nil, err
			}
			p.Todos = items
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// ProjectExists reports whether an active project with the id exists.
func (r *Reader) ProjectExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM TMTask WHERE uuid = ? AND type = ? AND trashed = 0", id, dbTypeProject).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, core.WrapError(core.CodeBackendUnavailable, "query project existence", err)
	}
	return true, nil
}

// AreaExists reports whether an area with the id exists.
func (r *Reader) AreaExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM TMArea WHERE uuid = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, core.WrapError(core.CodeBackendUnavailable, "query area existence", err)
	}
	return true, nil
}

// ListAreas returns all areas, optionally materializing projects and todos.
func (r *Reader) ListAreas(ctx context.Context, includeItems bool) ([]core.Area, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT uuid, title FROM TMArea ORDER BY \"index\" ASC")
	if err != nil {
		return nil, core.WrapError(core.CodeBackendUnavailable, "query areas", err)
	}
	defer rows.Close()
	var areas []core.Area
	for rows.Next() {
		var a core.Area
		if err := rows.Scan(&a.ID, &a.Title); err != nil {
			return nil, core.WrapError(core.CodeInternal, "scan area row", err)
		}
		areas = append(areas, a)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.CodeInternal, "iterate area rows", err)
	}
	if includeItems {
		for i := range areas {
			todos, err := r.ListByArea(ctx, areas[i].ID, ListQuery{Limit: 500})
			if err != nil {
				return nil, err
			}
			areas[i].Todos = todos
		}
	}
	return areas, nil
}

// ListTags returns every tag, with per-tag open item counts when asked.
func (r *Reader) ListTags(ctx context.Context, withCounts bool) ([]core.Tag, error) {
	q := `SELECT tg.title,
		IFNULL((SELECT pt.title FROM TMTag pt WHERE pt.uuid = tg.parent), ''),
		IFNULL(tg.shortcut, '')
		FROM TMTag tg ORDER BY tg.title ASC`
	if withCounts {
		q = `SELECT tg.title,
			IFNULL((SELECT pt.title FROM TMTag pt WHERE pt.uuid = tg.parent), ''),
			IFNULL(tg.shortcut, ''),
			(SELECT COUNT(*) FROM TMTaskTag tt JOIN TMTask task ON tt.tasks = task.uuid
				WHERE tt.tags = tg.uuid AND task.trashed = 0 AND task.status = 0)
			FROM TMTag tg ORDER BY tg.title ASC`
	}
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, core.WrapError(core.CodeBackendUnavailable, "query tags", err)
	}
	defer rows.Close()
	var tags []core.Tag
	for rows.Next() {
		var t core.Tag
		if withCounts {
			err = rows.Scan(&t.Name, &t.Parent, &t.Shortcut, &t.ItemCount)
		} else {
			err = rows.Scan(&t.Name, &t.Parent, &t.Shortcut)
		}
		if err != nil {
			return nil, core.WrapError(core.CodeInternal, "scan tag row", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
