package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/thingsmcp/thingsmcp/engine/applescript"
	"github.com/thingsmcp/thingsmcp/engine/cache"
	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/engine/shaper"
	"github.com/thingsmcp/thingsmcp/engine/thingsdb"
	"github.com/thingsmcp/thingsmcp/pkg/logger"
)

// scriptListSource maps a built-in list to its AppleScript collection.
// Unlike write targets, every view is readable.
var scriptListSource = map[core.BuiltinList]string{
	core.ListInbox:    `to dos of list "Inbox"`,
	core.ListToday:    `to dos of list "Today"`,
	core.ListUpcoming: `to dos of list "Upcoming"`,
	core.ListAnytime:  `to dos of list "Anytime"`,
	core.ListSomeday:  `to dos of list "Someday"`,
	core.ListLogbook:  `to dos of list "Logbook"`,
	core.ListTrash:    `to dos of list "Trash"`,
}

// ReadOptions are the shaping knobs common to every list read.
type ReadOptions struct {
	Limit  int
	Mode   shaper.Mode
	Cursor string
}

// todoRead describes one cacheable todo-list read for the shared pipeline.
type todoRead struct {
	op     string
	params any
	tags   []string
	opts   ReadOptions

	fromDB     func(ctx context.Context) ([]core.Todo, error)
	fromScript func(ctx context.Context) ([]core.Todo, []string, error)
}

// listRead is the shared read pipeline: explicit-zero limit, cache, database,
// automation fallback, shaping.
func (r *Router) listRead(ctx context.Context, rd *todoRead) *core.Envelope {
	if rd.opts.Limit == 0 {
		return core.OK([]core.Todo{})
	}
	if err := r.readSem.Acquire(ctx, 1); err != nil {
		return core.Fail(core.WrapError(core.CodeCanceled, "read canceled", err))
	}
	defer r.readSem.Release(1)

	log := logger.FromContext(ctx).With("op", rd.op)
	fp := cache.Fingerprint(rd.op, rd.params)
	authoritative := r.authoritative()

	if !authoritative && r.cache != nil {
		if v, ok := r.cache.Get(fp); ok {
			if todos, ok := v.([]core.Todo); ok {
				return r.shape(todos, rd.opts)
			}
		}
	}

	todos, warnings, err := r.fetchTodos(ctx, rd, authoritative, log)
	if err != nil {
		return core.Fail(err)
	}

	if r.cache != nil && !authoritative {
		r.cache.Put(rd.op, fp, todos, rd.tags)
	}
	env := r.shape(todos, rd.opts)
	for _, w := range warnings {
		env.AddWarning(w)
	}
	return env
}

// fetchTodos picks the backend. Normally database first with automation as
// fallback; inside the authoritative window the order flips.
func (r *Router) fetchTodos(ctx context.Context, rd *todoRead, authoritative bool, log logger.Logger) ([]core.Todo, []string, error) {
	if authoritative && rd.fromScript != nil {
		todos, warnings, err := rd.fromScript(ctx)
		if err == nil {
			return todos, warnings, nil
		}
		log.Warn("authoritative read failed, falling back to database", "error", err)
		if rd.fromDB != nil && r.db != nil {
			todos, dbErr := rd.fromDB(ctx)
			if dbErr == nil {
				return todos, []string{"recent writes may not be reflected"}, nil
			}
		}
		return nil, nil, err
	}

	if rd.fromDB != nil && r.db != nil {
		todos, err := rd.fromDB(ctx)
		if err == nil {
			return todos, nil, nil
		}
		if core.CodeOf(err) != core.CodeBackendUnavailable || rd.fromScript == nil {
			return nil, nil, err
		}
		log.Warn("database read failed, falling back to automation", "error", err)
	}
	if rd.fromScript == nil {
		return nil, nil, core.NewError(core.CodeBackendUnavailable, "no backend available for this read")
	}
	return rd.fromScript(ctx)
}

func (r *Router) shape(todos []core.Todo, opts ReadOptions) *core.Envelope {
	if opts.Limit > 0 && len(todos) > opts.Limit {
		todos = todos[:opts.Limit]
	}
	res, err := r.shaper.ShapeTodos(todos, opts.Mode, opts.Cursor)
	if err != nil {
		return core.Fail(err)
	}
	return core.OK(res.Data).WithMeta(func(m *core.Meta) {
		m.Mode = string(res.Mode)
		m.Truncated = res.Truncated
		m.NextCursor = res.NextCursor
	})
}

// scriptTodoRead runs a generated batch read and parses the tab table.
func (r *Router) scriptTodoRead(ctx context.Context, br *applescript.BatchRead) ([]core.Todo, []string, error) {
	if len(br.Fields) == 0 {
		br.Fields = applescript.FieldNames()
	}
	script, err := r.formatter.BuildBatchPropertyRead(br)
	if err != nil {
		return nil, nil, err
	}
	res, err := r.exec.Run(ctx, script, r.cfg.ScriptTimeout)
	if err != nil {
		return nil, nil, err
	}
	records, warnings := r.parser.ParseTable(res.Stdout, br.Fields)
	todos := make([]core.Todo, 0, len(records))
	for _, rec := range records {
		todos = append(todos, applescript.ToTodo(rec))
	}
	return todos, warnings, nil
}

// GetList answers the built-in list views: inbox, today, upcoming, anytime,
// someday, trash.
func (r *Router) GetList(ctx context.Context, list core.BuiltinList, opts ReadOptions) *core.Envelope {
	op := "get_" + string(list)
	return r.listRead(ctx, &todoRead{
		op:     op,
		params: map[string]any{"limit": opts.Limit},
		tags:   listInvalidationTags(op),
		opts:   opts,
		fromDB: func(ctx context.Context) ([]core.Todo, error) {
			return r.db.ListBuiltin(ctx, list, thingsdb.ListQuery{Limit: opts.Limit})
		},
		fromScript: func(ctx context.Context) ([]core.Todo, []string, error) {
			return r.scriptTodoRead(ctx, &applescript.BatchRead{
				Source: scriptListSource[list],
				Limit:  opts.Limit,
			})
		},
	})
}

// GetLogbook reads completed and canceled items, newest first, optionally
// bounded by a lookback period.
func (r *Router) GetLogbook(ctx context.Context, period time.Duration, opts ReadOptions) *core.Envelope {
	var since time.Time
	if period > 0 {
		since = time.Now().Add(-period)
	}
	return r.listRead(ctx, &todoRead{
		op:     "get_logbook",
		params: map[string]any{"limit": opts.Limit, "period": period.String()},
		tags:   listInvalidationTags("get_logbook"),
		opts:   opts,
		fromDB: func(ctx context.Context) ([]core.Todo, error) {
			return r.db.Logbook(ctx, thingsdb.ListQuery{Limit: opts.Limit, Since: since})
		},
		fromScript: func(ctx context.Context) ([]core.Todo, []string, error) {
			return r.scriptTodoRead(ctx, &applescript.BatchRead{
				Source: scriptListSource[core.ListLogbook],
				Limit:  opts.Limit,
			})
		},
	})
}

// GetTodos is the general todo listing: by project when projectID is set,
// otherwise across all lists with an optional status filter. Completed and
// canceled filters read from the logbook.
func (r *Router) GetTodos(ctx context.Context, projectID string, status *core.Status, opts ReadOptions) *core.Envelope {
	statusKey := ""
	if status != nil {
		statusKey = string(*status)
	}
	rd := &todoRead{
		op:     "get_todos",
		params: map[string]any{"project_id": projectID, "status": statusKey, "limit": opts.Limit},
		tags:   listInvalidationTags("get_todos", "list:*"),
		opts:   opts,
	}
	if projectID != "" {
		rd.tags = append(rd.tags, "project:"+projectID)
		rd.fromDB = func(ctx context.Context) ([]core.Todo, error) {
			return r.db.ListByProject(ctx, projectID, thingsdb.ListQuery{Status: status, Limit: opts.Limit})
		}
		rd.fromScript = func(ctx context.Context) ([]core.Todo, []string, error) {
			return r.scriptTodoRead(ctx, &applescript.BatchRead{
				Source: fmt.Sprintf("to dos of project id %s", applescript.FormatString(projectID)),
				Limit:  opts.Limit,
			})
		}
		return r.listRead(ctx, rd)
	}

	if status != nil && *status != core.StatusOpen {
		rd.fromDB = func(ctx context.Context) ([]core.Todo, error) {
			return r.db.Logbook(ctx, thingsdb.ListQuery{Status: status, Limit: opts.Limit})
		}
		rd.fromScript = func(ctx context.Context) ([]core.Todo, []string, error) {
			return r.scriptTodoRead(ctx, &applescript.BatchRead{
				Source: scriptListSource[core.ListLogbook],
				Filter: fmt.Sprintf("status is %s", *status),
				Limit:  opts.Limit,
			})
		}
		return r.listRead(ctx, rd)
	}

	rd.fromDB = func(ctx context.Context) ([]core.Todo, error) {
		open := core.StatusOpen
		return r.db.Search(ctx, "", thingsdb.ListQuery{Status: &open, Limit: opts.Limit})
	}
	rd.fromScript = func(ctx context.Context) ([]core.Todo, []string, error) {
		return r.scriptTodoRead(ctx, &applescript.BatchRead{
			Source: "to dos",
			Filter: "status is open",
			Limit:  opts.Limit,
		})
	}
	return r.listRead(ctx, rd)
}

// GetTodoByID fetches a single todo, checklist included.
func (r *Router) GetTodoByID(ctx context.Context, id string) *core.Envelope {
	if err := r.readSem.Acquire(ctx, 1); err != nil {
		return core.Fail(core.WrapError(core.CodeCanceled, "read canceled", err))
	}
	defer r.readSem.Release(1)

	fp := cache.Fingerprint("get_todo_by_id", map[string]any{"id": id})
	authoritative := r.authoritative()
	if !authoritative && r.cache != nil {
		if v, ok := r.cache.Get(fp); ok {
			if todo, ok := v.(*core.Todo); ok {
				return core.OK(todo)
			}
		}
	}

	var todo *core.Todo
	var err error
	if !authoritative && r.db != nil {
		todo, err = r.db.GetTodo(ctx, id)
		if err != nil && core.CodeOf(err) != core.CodeBackendUnavailable {
			return core.Fail(err)
		}
	}
	if todo == nil {
		todos, _, scriptErr := r.scriptTodoRead(ctx, &applescript.BatchRead{
			Source: fmt.Sprintf("{to do id %s}", applescript.FormatString(id)),
		})
		if scriptErr != nil {
			// The script errors out entirely when the id does not exist.
			if core.CodeOf(scriptErr) == core.CodeBackendError {
				return core.Fail(core.NewError(core.CodeNotFound, fmt.Sprintf("todo %q not found", id)))
			}
			if err != nil {
				return core.Fail(err)
			}
			return core.Fail(scriptErr)
		}
		if len(todos) == 0 {
			return core.Fail(core.NewError(core.CodeNotFound, fmt.Sprintf("todo %q not found", id)))
		}
		todo = &todos[0]
	}

	if r.cache != nil && !authoritative {
		r.cache.Put("get_todo_by_id", fp, todo, []string{"entity:" + id, "list:*"})
	}
	return core.OK(todo)
}

// SearchTodos matches the query against titles and notes.
func (r *Router) SearchTodos(ctx context.Context, query string, opts ReadOptions) *core.Envelope {
	return r.listRead(ctx, &todoRead{
		op:     "search_todos",
		params: map[string]any{"query": query, "limit": opts.Limit},
		tags:   listInvalidationTags("search_todos", "list:*"),
		opts:   opts,
		fromDB: func(ctx context.Context) ([]core.Todo, error) {
			return r.db.Search(ctx, query, thingsdb.ListQuery{Limit: opts.Limit})
		},
		fromScript: func(ctx context.Context) ([]core.Todo, []string, error) {
			quoted := applescript.FormatString(query)
			return r.scriptTodoRead(ctx, &applescript.BatchRead{
				Source: "to dos",
				Filter: fmt.Sprintf("name contains %s or notes contains %s", quoted, quoted),
				Limit:  opts.Limit,
			})
		},
	})
}

// AdvancedQuery is the search_advanced parameter set.
type AdvancedQuery struct {
	Status *core.Status
	Period time.Duration
	Tag    string
}

// SearchAdvanced combines status, lookback period, and tag filters. The
// completed and canceled filters include the logbook source.
func (r *Router) SearchAdvanced(ctx context.Context, q AdvancedQuery, opts ReadOptions) *core.Envelope {
	statusKey := ""
	if q.Status != nil {
		statusKey = string(*q.Status)
	}
	var since time.Time
	if q.Period > 0 {
		since = time.Now().Add(-q.Period)
	}
	return r.listRead(ctx, &todoRead{
		op: "search_advanced",
		params: map[string]any{
			"status": statusKey, "period": q.Period.String(), "tag": q.Tag, "limit": opts.Limit,
		},
		tags: listInvalidationTags("search_advanced", "list:*", "tags:*"),
		opts: opts,
		fromDB: func(ctx context.Context) ([]core.Todo, error) {
			todos, err := r.db.Search(ctx, "", thingsdb.ListQuery{Status: q.Status, Since: since, Limit: 0})
			if err != nil {
				return nil, err
			}
			if q.Tag != "" {
				todos = filterByTag(todos, q.Tag)
			}
			if opts.Limit > 0 && len(todos) > opts.Limit {
				todos = todos[:opts.Limit]
			}
			return todos, nil
		},
		fromScript: func(ctx context.Context) ([]core.Todo, []string, error) {
			var clauses []string
			if q.Status != nil {
				clauses = append(clauses, fmt.Sprintf("status is %s", *q.Status))
			}
			if q.Tag != "" {
				clauses = append(clauses, fmt.Sprintf("tag names contains %s", applescript.FormatString(q.Tag)))
			}
			return r.scriptTodoRead(ctx, &applescript.BatchRead{
				Source: "to dos",
				Filter: strings.Join(clauses, " and "),
				Limit:  opts.Limit,
			})
		},
	})
}

func filterByTag(todos []core.Todo, tag string) []core.Todo {
	out := todos[:0]
	for _, t := range todos {
		for _, name := range t.Tags {
			if name == tag {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// GetTaggedItems lists open todos carrying the exact tag name.
func (r *Router) GetTaggedItems(ctx context.Context, tag string, opts ReadOptions) *core.Envelope {
	return r.listRead(ctx, &todoRead{
		op:     "get_tagged_items",
		params: map[string]any{"tag": tag, "limit": opts.Limit},
		tags:   listInvalidationTags("get_tagged_items", "tags:"+tag, "list:*"),
		opts:   opts,
		fromDB: func(ctx context.Context) ([]core.Todo, error) {
			return r.db.TaggedItems(ctx, tag, thingsdb.ListQuery{Limit: opts.Limit})
		},
		fromScript: func(ctx context.Context) ([]core.Todo, []string, error) {
			return r.scriptTodoRead(ctx, &applescript.BatchRead{
				Source: "to dos",
				Filter: fmt.Sprintf("tag names contains %s", applescript.FormatString(tag)),
				Limit:  opts.Limit,
			})
		},
	})
}

// GetRecent lists items created within the period.
func (r *Router) GetRecent(ctx context.Context, period time.Duration, opts ReadOptions) *core.Envelope {
	since := time.Now().Add(-period)
	return r.listRead(ctx, &todoRead{
		op:     "get_recent",
		params: map[string]any{"period": period.String(), "limit": opts.Limit},
		tags:   listInvalidationTags("get_recent", "list:*"),
		opts:   opts,
		fromDB: func(ctx context.Context) ([]core.Todo, error) {
			return r.db.Recent(ctx, since, opts.Limit)
		},
		fromScript: func(ctx context.Context) ([]core.Todo, []string, error) {
			when := &core.When{Date: since, HasDate: true}
			prelude, err := r.formatter.DateAssignments("sinceDate", when)
			if err != nil {
				return nil, nil, err
			}
			return r.scriptTodoRead(ctx, &applescript.BatchRead{
				Source:  "to dos",
				Filter:  "creation date is greater than or equal to sinceDate",
				Prelude: prelude,
				Limit:   opts.Limit,
			})
		},
	})
}

// GetProjects lists active projects, optionally materializing their todos.
func (r *Router) GetProjects(ctx context.Context, includeItems bool, limit int) *core.Envelope {
	if limit == 0 {
		return core.OK([]core.Project{})
	}
	if err := r.readSem.Acquire(ctx, 1); err != nil {
		return core.Fail(core.WrapError(core.CodeCanceled, "read canceled", err))
	}
	defer r.readSem.Release(1)

	fp := cache.Fingerprint("get_projects", map[string]any{"include_items": includeItems, "limit": limit})
	authoritative := r.authoritative()
	if !authoritative && r.cache != nil {
		if v, ok := r.cache.Get(fp); ok {
			if projects, ok := v.([]core.Project); ok {
				return core.OK(projects)
			}
		}
	}

	var projects []core.Project
	var warnings []string
	if !authoritative && r.db != nil {
		var err error
		projects, err = r.db.ListProjects(ctx, includeItems, limit)
		if err != nil && core.CodeOf(err) != core.CodeBackendUnavailable {
			return core.Fail(err)
		}
	}
	if projects == nil {
		fields := []string{"id", "title", "notes", "status", "tags", "due_date", "activation_date", "area_id"}
		todos, warns, err := r.scriptTodoRead(ctx, &applescript.BatchRead{
			Source: "projects",
			Fields: fields,
			Limit:  limit,
		})
		if err != nil {
			return core.Fail(err)
		}
		warnings = warns
		projects = make([]core.Project, 0, len(todos))
		for _, t := range todos {
			projects = append(projects, core.Project{
				ID: t.ID, Title: t.Title, Notes: t.Notes, Status: t.Status,
				Tags: t.Tags, AreaID: t.AreaID,
				DueDate: t.DueDate, ActivationDate: t.ActivationDate,
			})
		}
	}

	if r.cache != nil && !authoritative {
		r.cache.Put("get_projects", fp, projects, []string{"list:projects", "list:*"})
	}
	env := core.OK(projects)
	for _, w := range warnings {
		env.AddWarning(w)
	}
	return env
}

// GetAreas lists areas, optionally with their open todos.
func (r *Router) GetAreas(ctx context.Context, includeItems bool) *core.Envelope {
	if err := r.readSem.Acquire(ctx, 1); err != nil {
		return core.Fail(core.WrapError(core.CodeCanceled, "read canceled", err))
	}
	defer r.readSem.Release(1)

	fp := cache.Fingerprint("get_areas", map[string]any{"include_items": includeItems})
	if !r.authoritative() && r.cache != nil {
		if v, ok := r.cache.Get(fp); ok {
			if areas, ok := v.([]core.Area); ok {
				return core.OK(areas)
			}
		}
	}

	var areas []core.Area
	var warnings []string
	if r.db != nil {
		var err error
		areas, err = r.db.ListAreas(ctx, includeItems)
		if err != nil && core.CodeOf(err) != core.CodeBackendUnavailable {
			return core.Fail(err)
		}
	}
	if areas == nil {
		todos, warns, err := r.scriptTodoRead(ctx, &applescript.BatchRead{
			Source: "areas",
			Fields: []string{"id", "title"},
		})
		if err != nil {
			return core.Fail(err)
		}
		warnings = warns
		areas = make([]core.Area, 0, len(todos))
		for _, t := range todos {
			areas = append(areas, core.Area{ID: t.ID, Title: t.Title})
		}
	}

	if r.cache != nil && !r.authoritative() {
		r.cache.Put("get_areas", fp, areas, []string{"list:areas", "list:*"})
	}
	env := core.OK(areas)
	for _, w := range warnings {
		env.AddWarning(w)
	}
	return env
}

// GetTags lists every tag, optionally with open item counts.
func (r *Router) GetTags(ctx context.Context, withCounts bool) *core.Envelope {
	if err := r.readSem.Acquire(ctx, 1); err != nil {
		return core.Fail(core.WrapError(core.CodeCanceled, "read canceled", err))
	}
	defer r.readSem.Release(1)

	fp := cache.Fingerprint("get_tags", map[string]any{"with_counts": withCounts})
	if r.cache != nil {
		if v, ok := r.cache.Get(fp); ok {
			if tags, ok := v.([]core.Tag); ok {
				return core.OK(tags)
			}
		}
	}

	tags, warnings, err := r.knownTags(ctx, withCounts)
	if err != nil {
		return core.Fail(err)
	}
	if r.cache != nil {
		r.cache.Put("get_tags", fp, tags, []string{"tags:*"})
	}
	env := core.OK(tags)
	for _, w := range warnings {
		env.AddWarning(w)
	}
	return env
}

// knownTags fetches the tag universe for reads and for tag policy planning.
func (r *Router) knownTags(ctx context.Context, withCounts bool) ([]core.Tag, []string, error) {
	if r.db != nil {
		tags, err := r.db.ListTags(ctx, withCounts)
		if err == nil {
			return tags, nil, nil
		}
		if core.CodeOf(err) != core.CodeBackendUnavailable {
			return nil, nil, err
		}
	}
	todos, warns, err := r.scriptTodoRead(ctx, &applescript.BatchRead{
		Source: "tags",
		Fields: []string{"id", "title"},
	})
	if err != nil {
		return nil, nil, err
	}
	if withCounts {
		warns = append(warns, "item counts are unavailable on the automation path")
	}
	tags := make([]core.Tag, 0, len(todos))
	for _, t := range todos {
		tags = append(tags, core.Tag{Name: t.Title})
	}
	return tags, warns, nil
}

// knownTagNames returns just the case-sensitive tag names.
func (r *Router) knownTagNames(ctx context.Context) ([]string, error) {
	tags, _, err := r.knownTags(ctx, false)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names, nil
}
