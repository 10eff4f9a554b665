package router

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/segmentio/ksuid"

	"github.com/thingsmcp/thingsmcp/engine/applescript"
	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/engine/queue"
	"github.com/thingsmcp/thingsmcp/engine/scheduler"
	"github.com/thingsmcp/thingsmcp/engine/tagpolicy"
	"github.com/thingsmcp/thingsmcp/pkg/logger"
)

// TodoWrite carries the normalized fields of an add or update. Nil pointers
// mean "leave untouched"; a nil Tags slice means the same, an empty one
// clears.
type TodoWrite struct {
	Title       string
	Notes       *string
	When        *core.When
	Deadline    *core.When
	Tags        []string
	Checklist   []string
	Destination *core.Destination
	Status      *core.Status
}

// ProjectWrite mirrors TodoWrite for projects, plus initial todos.
type ProjectWrite struct {
	Title    string
	Notes    *string
	When     *core.When
	Deadline *core.When
	Tags     []string
	AreaID   string
	Todos    []string
}

// writeResult is what a queued write's Run returns.
type writeResult struct {
	ID            string
	IDPlaceholder bool
	Schedule      scheduler.Result
	TagPlan       *tagpolicy.Plan
}

// planTags resolves the write's tag set through the policy engine. A nil
// return with nil error means no tags were requested.
func (r *Router) planTags(ctx context.Context, tags []string) (*tagpolicy.Plan, error) {
	if tags == nil {
		return nil, nil
	}
	tags = applescript.NormalizeTags(tags)
	known, err := r.knownTagNames(ctx)
	if err != nil {
		return nil, err
	}
	return r.tags.Plan(tags, known)
}

// submit pushes a write through the queue and converts the outcome.
func (r *Router) submit(ctx context.Context, kind string, priority queue.Priority, run func(ctx context.Context) (any, error)) (*writeResult, error) {
	out, err := r.queue.Submit(ctx, &queue.Operation{
		Kind:     kind,
		Priority: priority,
		Run:      run,
	})
	if err != nil {
		return nil, err
	}
	res, ok := out.(*writeResult)
	if !ok {
		return nil, core.NewError(core.CodeInternal, "unexpected write result type")
	}
	return res, nil
}

// writeEnvelope assembles the success envelope for a completed write.
func writeEnvelope(data any, res *writeResult) *core.Envelope {
	env := core.OK(data)
	if res.TagPlan != nil {
		for _, w := range res.TagPlan.Warnings {
			env.AddWarning(w)
		}
	}
	if res.Schedule.Method != "" {
		env.WithMeta(func(m *core.Meta) {
			m.MethodUsed = string(res.Schedule.Method)
			m.Reliability = res.Schedule.Reliability
		})
	}
	return env
}

// runScript executes a write script and classifies the sentinel.
func (r *Router) runScript(ctx context.Context, script string) (string, error) {
	res, err := r.exec.Run(ctx, script, r.cfg.ScriptTimeout)
	if err != nil {
		return "", err
	}
	return r.parser.ParseWriteResult(res.Stdout)
}

// AddTodo creates a todo. A reminder time or checklist items force the URL
// scheme; everything else goes through a generated script so the real id
// comes back.
func (r *Router) AddTodo(ctx context.Context, w *TodoWrite) *core.Envelope {
	plan, err := r.planTags(ctx, w.Tags)
	if err != nil {
		return core.Fail(err)
	}

	needsURL := (w.When != nil && w.When.HasTime) || len(w.Checklist) > 0

	res, err := r.submit(ctx, "add_todo", queue.PriorityNormal, func(ctx context.Context) (any, error) {
		if needsURL {
			return r.addTodoViaURL(ctx, w, plan)
		}
		return r.addTodoViaScript(ctx, w, plan)
	})
	if err != nil {
		return core.Fail(err)
	}

	r.markWrite()
	r.invalidate(writeImpact(res.ID, plan != nil, projectOf(w.Destination)))

	env := writeEnvelope(map[string]any{
		"todo_id":           res.ID,
		"id_is_placeholder": res.IDPlaceholder,
	}, res)
	if res.Schedule.Method == "" && w.When != nil && !res.Schedule.Succeeded {
		env.AddWarning("scheduling_failed")
	}
	return env
}

func (r *Router) addTodoViaScript(ctx context.Context, w *TodoWrite, plan *tagpolicy.Plan) (*writeResult, error) {
	wr := r.formatter.NewCreate("to do", w.Title)
	if w.Notes != nil {
		wr.Notes(*w.Notes)
	}
	if plan != nil {
		wr.Tags(plan.Apply)
	}
	if w.Deadline != nil {
		wr.DueDate(w.Deadline)
	}
	wr.Destination(w.Destination)

	result := &writeResult{TagPlan: plan}
	if w.When != nil {
		if w.When.HasDate {
			wr.Schedule(w.When)
			result.Schedule = scheduler.Result{
				Succeeded:   true,
				Method:      scheduler.MethodScriptDate,
				Reliability: scheduler.ReliabilityScriptDate,
			}
		} else if bucket := w.When.Bucket(); bucket != "" {
			wr.MoveToList(bucket)
			result.Schedule = scheduler.Result{
				Succeeded:   true,
				Method:      scheduler.MethodListMove,
				Reliability: scheduler.ReliabilityListMove,
			}
		}
	}

	script, err := wr.Script()
	if err != nil {
		return nil, err
	}
	id, err := r.runScript(ctx, script)
	if err != nil {
		return nil, err
	}
	result.ID = id
	return result, nil
}

func (r *Router) addTodoViaURL(ctx context.Context, w *TodoWrite, plan *tagpolicy.Plan) (*writeResult, error) {
	params := url.Values{}
	params.Set("title", w.Title)
	if w.Notes != nil {
		params.Set("notes", *w.Notes)
	}
	if plan != nil && len(plan.Apply) > 0 {
		params.Set("tags", strings.Join(plan.Apply, ","))
	}
	if w.When != nil {
		params.Set("when", w.When.URLValue())
	}
	if w.Deadline != nil {
		params.Set("deadline", w.Deadline.URLValue())
	}
	if len(w.Checklist) > 0 {
		params.Set("checklist-items", strings.Join(w.Checklist, "\n"))
	}
	if d := w.Destination; d != nil {
		switch {
		case d.ProjectID != "":
			params.Set("list-id", d.ProjectID)
		case d.AreaID != "":
			params.Set("list-id", d.AreaID)
		case d.List != "":
			params.Set("when", string(d.List))
		}
	}
	if err := r.invoker.Invoke(ctx, "add", params); err != nil {
		return nil, err
	}

	// The URL scheme is fire-and-forget; try to recover the real id by
	// matching the title in the inbox of fresh creations.
	result := &writeResult{TagPlan: plan}
	if w.When != nil {
		result.Schedule = scheduler.Result{
			Succeeded:   true,
			Method:      scheduler.MethodURLScheme,
			Reliability: scheduler.ReliabilityURLScheme,
		}
	}
	if id, ok := r.lookupByTitle(ctx, w.Title); ok {
		result.ID = id
		return result, nil
	}
	result.ID = "pending-" + ksuid.New().String()
	result.IDPlaceholder = true
	return result, nil
}

// lookupByTitle finds the newest todo with the exact title. Best effort
// after a fire-and-forget create.
func (r *Router) lookupByTitle(ctx context.Context, title string) (string, bool) {
	todos, _, err := r.scriptTodoRead(ctx, &applescript.BatchRead{
		Source: "to dos",
		Fields: []string{"id", "title"},
		Filter: fmt.Sprintf("name is %s", applescript.FormatString(title)),
		Limit:  1,
	})
	if err != nil || len(todos) == 0 {
		logger.FromContext(ctx).Debug("post-create id lookup failed", "title", title, "error", err)
		return "", false
	}
	return todos[0].ID, true
}

// UpdateTodo applies partial changes to an existing todo. Scheduling runs
// through the strategy ladder after the property write.
func (r *Router) UpdateTodo(ctx context.Context, id string, w *TodoWrite) *core.Envelope {
	plan, err := r.planTags(ctx, w.Tags)
	if err != nil {
		return core.Fail(err)
	}

	res, err := r.submit(ctx, "update_todo", queue.PriorityNormal, func(ctx context.Context) (any, error) {
		return r.updateEntity(ctx, "to do", id, w, plan)
	})
	if err != nil {
		return core.Fail(err)
	}

	r.markWrite()
	r.invalidate(writeImpact(id, plan != nil, projectOf(w.Destination)))

	env := writeEnvelope(map[string]any{"todo_id": res.ID}, res)
	if w.When != nil && !res.Schedule.Succeeded {
		env.AddWarning("scheduling_failed")
	}
	return env
}

// updateEntity is the shared update path for todos and projects.
func (r *Router) updateEntity(ctx context.Context, kind, id string, w *TodoWrite, plan *tagpolicy.Plan) (*writeResult, error) {
	wr := r.formatter.NewWrite(kind, id)
	touched := false
	if w.Title != "" {
		wr.Title(w.Title)
		touched = true
	}
	if w.Notes != nil {
		wr.Notes(*w.Notes)
		touched = true
	}
	if plan != nil {
		wr.Tags(plan.Apply)
		touched = true
	}
	if w.Deadline != nil {
		wr.DueDate(w.Deadline)
		touched = true
	}
	if w.Status != nil {
		wr.Status(*w.Status)
		touched = true
	}
	if w.Destination != nil {
		wr.Destination(w.Destination)
		touched = true
	}

	result := &writeResult{ID: id, TagPlan: plan}
	if touched {
		script, err := wr.Script()
		if err != nil {
			return nil, err
		}
		if _, err := r.runScript(ctx, script); err != nil {
			return nil, err
		}
	} else if w.When == nil {
		return nil, core.NewError(core.CodeValidation, "update has no fields to change")
	}

	if w.When != nil {
		result.Schedule = r.sched.Schedule(ctx, kind, id, w.When)
	}
	return result, nil
}

// DeleteTodo moves a todo to the trash.
func (r *Router) DeleteTodo(ctx context.Context, id string) *core.Envelope {
	res, err := r.submit(ctx, "delete_todo", queue.PriorityNormal, func(ctx context.Context) (any, error) {
		deletedID, err := r.runScript(ctx, r.formatter.BuildDelete("to do", id))
		if err != nil {
			return nil, err
		}
		return &writeResult{ID: deletedID}, nil
	})
	if err != nil {
		return core.Fail(err)
	}
	r.markWrite()
	r.invalidate(writeImpact(id, true, ""))
	return core.OKMessage(map[string]any{"todo_id": res.ID}, "todo moved to trash")
}

// AddProject creates a project, optionally seeding initial todos.
func (r *Router) AddProject(ctx context.Context, w *ProjectWrite) *core.Envelope {
	plan, err := r.planTags(ctx, w.Tags)
	if err != nil {
		return core.Fail(err)
	}

	res, err := r.submit(ctx, "add_project", queue.PriorityNormal, func(ctx context.Context) (any, error) {
		wr := r.formatter.NewCreate("project", w.Title)
		if w.Notes != nil {
			wr.Notes(*w.Notes)
		}
		if plan != nil {
			wr.Tags(plan.Apply)
		}
		if w.Deadline != nil {
			wr.DueDate(w.Deadline)
		}
		if w.AreaID != "" {
			wr.Destination(&core.Destination{AreaID: w.AreaID})
		}
		result := &writeResult{TagPlan: plan}
		if w.When != nil {
			wr.Schedule(w.When)
			result.Schedule = scheduler.Result{
				Succeeded:   true,
				Method:      scheduler.MethodScriptDate,
				Reliability: scheduler.ReliabilityScriptDate,
			}
		}
		script, err := wr.Script()
		if err != nil {
			return nil, err
		}
		id, err := r.runScript(ctx, script)
		if err != nil {
			return nil, err
		}
		result.ID = id

		for _, title := range w.Todos {
			child, err := r.formatter.NewCreate("to do", title).
				Destination(&core.Destination{ProjectID: id}).Script()
			if err != nil {
				return nil, err
			}
			if _, err := r.runScript(ctx, child); err != nil {
				return nil, err
			}
		}
		return result, nil
	})
	if err != nil {
		return core.Fail(err)
	}

	r.markWrite()
	r.invalidate(writeImpact(res.ID, plan != nil, res.ID))
	return writeEnvelope(map[string]any{"project_id": res.ID}, res)
}

// UpdateProject applies partial changes to a project.
func (r *Router) UpdateProject(ctx context.Context, id string, w *TodoWrite) *core.Envelope {
	plan, err := r.planTags(ctx, w.Tags)
	if err != nil {
		return core.Fail(err)
	}
	res, err := r.submit(ctx, "update_project", queue.PriorityNormal, func(ctx context.Context) (any, error) {
		return r.updateEntity(ctx, "project", id, w, plan)
	})
	if err != nil {
		return core.Fail(err)
	}
	r.markWrite()
	r.invalidate(writeImpact(id, plan != nil, id))

	env := writeEnvelope(map[string]any{"project_id": res.ID}, res)
	if w.When != nil && !res.Schedule.Succeeded {
		env.AddWarning("scheduling_failed")
	}
	return env
}

// MoveRecord moves a todo to a list, project, or area. Project and area
// targets are existence-checked before anything is enqueued.
func (r *Router) MoveRecord(ctx context.Context, id string, dest *core.Destination) *core.Envelope {
	if dest == nil {
		return core.Fail(core.NewFieldError("destination", "is required"))
	}
	if err := r.checkDestination(ctx, dest); err != nil {
		return core.Fail(err)
	}

	res, err := r.submit(ctx, "move_record", queue.PriorityNormal, func(ctx context.Context) (any, error) {
		script, err := r.formatter.NewWrite("to do", id).Destination(dest).Script()
		if err != nil {
			return nil, err
		}
		movedID, err := r.runScript(ctx, script)
		if err != nil {
			return nil, err
		}
		return &writeResult{ID: movedID}, nil
	})
	if err != nil {
		return core.Fail(err)
	}

	r.markWrite()
	r.invalidate(writeImpact(id, false, dest.ProjectID))
	return core.OKMessage(map[string]any{"todo_id": res.ID, "destination": dest.Raw}, "moved")
}

// checkDestination verifies referenced projects and areas exist.
func (r *Router) checkDestination(ctx context.Context, dest *core.Destination) error {
	switch {
	case dest.ProjectID != "":
		return r.entityExists(ctx, "project", "project", dest.ProjectID, r.dbProjectExists)
	case dest.AreaID != "":
		return r.entityExists(ctx, "area", "area", dest.AreaID, r.dbAreaExists)
	}
	return nil
}

func (r *Router) dbProjectExists(ctx context.Context, id string) (bool, error) {
	return r.db.ProjectExists(ctx, id)
}

func (r *Router) dbAreaExists(ctx context.Context, id string) (bool, error) {
	return r.db.AreaExists(ctx, id)
}

func (r *Router) entityExists(ctx context.Context, label, kind, id string, fromDB func(context.Context, string) (bool, error)) error {
	if r.db != nil && !r.authoritative() {
		ok, err := fromDB(ctx, id)
		if err == nil {
			if !ok {
				return core.NewError(core.CodeNotFound, fmt.Sprintf("%s %q not found", label, id))
			}
			return nil
		}
		if core.CodeOf(err) != core.CodeBackendUnavailable {
			return err
		}
	}
	res, err := r.exec.Run(ctx, r.formatter.BuildExistenceCheck(kind, id), r.cfg.ScriptTimeout)
	if err != nil {
		return err
	}
	if _, err := r.parser.ParseWriteResult(res.Stdout); err != nil {
		if core.CodeOf(err) == core.CodeNotFound {
			return core.NewError(core.CodeNotFound, fmt.Sprintf("%s %q not found", label, id))
		}
		return err
	}
	return nil
}

// AddTags adds tags to a todo's existing set.
func (r *Router) AddTags(ctx context.Context, id string, tags []string) *core.Envelope {
	return r.mutateTags(ctx, "add_tags", id, tags, func(current, delta []string) []string {
		return applescript.NormalizeTags(append(current, delta...))
	})
}

// RemoveTags removes tags from a todo's existing set. Unknown names in the
// removal set are ignored.
func (r *Router) RemoveTags(ctx context.Context, id string, tags []string) *core.Envelope {
	return r.mutateTags(ctx, "remove_tags", id, tags, func(current, delta []string) []string {
		drop := make(map[string]struct{}, len(delta))
		for _, t := range delta {
			drop[t] = struct{}{}
		}
		out := make([]string, 0, len(current))
		for _, t := range current {
			if _, gone := drop[t]; !gone {
				out = append(out, t)
			}
		}
		return out
	})
}

// mutateTags rewrites a todo's full tag set inside the queued op so the
// read-modify-write is serialized against every other write.
func (r *Router) mutateTags(ctx context.Context, kind, id string, tags []string, merge func(current, delta []string) []string) *core.Envelope {
	delta := applescript.NormalizeTags(tags)
	if len(delta) == 0 {
		return core.Fail(core.NewFieldError("tags", "at least one tag is required"))
	}
	var plan *tagpolicy.Plan
	if kind == "add_tags" {
		var err error
		plan, err = r.planTags(ctx, delta)
		if err != nil {
			return core.Fail(err)
		}
		delta = plan.Apply
	}

	res, err := r.submit(ctx, kind, queue.PriorityNormal, func(ctx context.Context) (any, error) {
		current, err := r.currentTags(ctx, id)
		if err != nil {
			return nil, err
		}
		next := merge(current, delta)
		script, err := r.formatter.NewWrite("to do", id).Tags(next).Script()
		if err != nil {
			return nil, err
		}
		writtenID, err := r.runScript(ctx, script)
		if err != nil {
			return nil, err
		}
		return &writeResult{ID: writtenID, TagPlan: plan}, nil
	})
	if err != nil {
		return core.Fail(err)
	}

	r.markWrite()
	r.invalidate(writeImpact(id, true, ""))
	return writeEnvelope(map[string]any{"todo_id": res.ID}, res)
}

// currentTags reads the todo's tag set through the automation path so the
// value reflects any write that just ran ahead of this one in the queue.
func (r *Router) currentTags(ctx context.Context, id string) ([]string, error) {
	todos, _, err := r.scriptTodoRead(ctx, &applescript.BatchRead{
		Source: fmt.Sprintf("{to do id %s}", applescript.FormatString(id)),
		Fields: []string{"id", "tags"},
	})
	if err != nil {
		if core.CodeOf(err) == core.CodeBackendError {
			return nil, core.NewError(core.CodeNotFound, fmt.Sprintf("todo %q not found", id))
		}
		return nil, err
	}
	if len(todos) == 0 {
		return nil, core.NewError(core.CodeNotFound, fmt.Sprintf("todo %q not found", id))
	}
	return todos[0].Tags, nil
}

func projectOf(d *core.Destination) string {
	if d == nil {
		return ""
	}
	return d.ProjectID
}
