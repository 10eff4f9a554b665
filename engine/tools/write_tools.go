package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/engine/router"
	"github.com/thingsmcp/thingsmcp/engine/validate"
)

func (s *Service) writeTools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("add_todo",
				mcp.WithDescription("Create a todo. A when value with @HH:MM sets a reminder."),
				mcp.WithString("title", mcp.Required(), mcp.Description("Todo title")),
				mcp.WithString("notes", mcp.Description("Notes body")),
				mcp.WithString("when", mcp.Description("today|tomorrow|someday|anytime|YYYY-MM-DD|YYYY-MM-DD@HH:MM|+Nd|+Nw|+Nm")),
				mcp.WithString("deadline", mcp.Description("Due date, same grammar without a time component")),
				mcp.WithString("tags", mcp.Description("Tags as a list or comma-separated string")),
				mcp.WithString("checklist_items", mcp.Description("Checklist items, one per line")),
				mcp.WithString("destination", mcp.Description("inbox|today|anytime|someday|upcoming|project:<id>|area:<id>")),
			),
			Handler: s.handleAddTodo,
		},
		{
			Tool: mcp.NewTool("update_todo",
				mcp.WithDescription("Update fields of an existing todo. Omitted fields are untouched."),
				mcp.WithString("todo_id", mcp.Required(), mcp.Description("Todo id")),
				mcp.WithString("title", mcp.Description("New title")),
				mcp.WithString("notes", mcp.Description("New notes body, replaces the old one")),
				mcp.WithString("when", mcp.Description("New scheduled date")),
				mcp.WithString("deadline", mcp.Description("New due date")),
				mcp.WithString("tags", mcp.Description("Full replacement tag set")),
				mcp.WithBoolean("completed", mcp.Description("Mark completed")),
				mcp.WithBoolean("canceled", mcp.Description("Mark canceled")),
				mcp.WithString("destination", mcp.Description("Move to a list, project, or area")),
			),
			Handler: s.handleUpdateTodo,
		},
		{
			Tool: mcp.NewTool("delete_todo",
				mcp.WithDescription("Move a todo to the trash."),
				mcp.WithString("todo_id", mcp.Required(), mcp.Description("Todo id")),
			),
			Handler: s.handleDeleteTodo,
		},
		{
			Tool: mcp.NewTool("add_project",
				mcp.WithDescription("Create a project, optionally with initial todos."),
				mcp.WithString("title", mcp.Required(), mcp.Description("Project title")),
				mcp.WithString("notes", mcp.Description("Notes body")),
				mcp.WithString("when", mcp.Description("Scheduled date")),
				mcp.WithString("deadline", mcp.Description("Due date")),
				mcp.WithString("tags", mcp.Description("Tags as a list or comma-separated string")),
				mcp.WithString("area_id", mcp.Description("Area to file the project under")),
				mcp.WithString("todos", mcp.Description("Initial todo titles, one per line")),
			),
			Handler: s.handleAddProject,
		},
		{
			Tool: mcp.NewTool("update_project",
				mcp.WithDescription("Update fields of an existing project."),
				mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
				mcp.WithString("title", mcp.Description("New title")),
				mcp.WithString("notes", mcp.Description("New notes body")),
				mcp.WithString("when", mcp.Description("New scheduled date")),
				mcp.WithString("deadline", mcp.Description("New due date")),
				mcp.WithString("tags", mcp.Description("Full replacement tag set")),
				mcp.WithBoolean("completed", mcp.Description("Mark completed")),
				mcp.WithBoolean("canceled", mcp.Description("Mark canceled")),
			),
			Handler: s.handleUpdateProject,
		},
		{
			Tool: mcp.NewTool("move_record",
				mcp.WithDescription("Move a todo to a built-in list, project, or area."),
				mcp.WithString("todo_id", mcp.Required(), mcp.Description("Todo id")),
				mcp.WithString("destination", mcp.Required(),
					mcp.Description("inbox|today|anytime|someday|upcoming|project:<id>|area:<id>")),
			),
			Handler: s.handleMoveRecord,
		},
		{
			Tool: mcp.NewTool("bulk_update_todos",
				mcp.WithDescription("Apply the same update to several todos."),
				mcp.WithString("todo_ids", mcp.Required(), mcp.Description("Ids as a list or comma-separated string")),
				mcp.WithString("notes", mcp.Description("New notes body")),
				mcp.WithString("when", mcp.Description("New scheduled date")),
				mcp.WithString("deadline", mcp.Description("New due date")),
				mcp.WithString("tags", mcp.Description("Full replacement tag set")),
				mcp.WithBoolean("completed", mcp.Description("Mark completed")),
				mcp.WithBoolean("canceled", mcp.Description("Mark canceled")),
			),
			Handler: s.handleBulkUpdate,
		},
		{
			Tool: mcp.NewTool("bulk_move_records",
				mcp.WithDescription("Move several todos to the same destination."),
				mcp.WithString("todo_ids", mcp.Required(), mcp.Description("Ids as a list or comma-separated string")),
				mcp.WithString("destination", mcp.Required(),
					mcp.Description("inbox|today|anytime|someday|upcoming|project:<id>|area:<id>")),
			),
			Handler: s.handleBulkMove,
		},
		{
			Tool: mcp.NewTool("add_tags",
				mcp.WithDescription("Add tags to a todo, keeping its existing ones."),
				mcp.WithString("todo_id", mcp.Required(), mcp.Description("Todo id")),
				mcp.WithString("tags", mcp.Required(), mcp.Description("Tags as a list or comma-separated string")),
			),
			Handler: s.handleAddTags,
		},
		{
			Tool: mcp.NewTool("remove_tags",
				mcp.WithDescription("Remove tags from a todo."),
				mcp.WithString("todo_id", mcp.Required(), mcp.Description("Todo id")),
				mcp.WithString("tags", mcp.Required(), mcp.Description("Tags as a list or comma-separated string")),
			),
			Handler: s.handleRemoveTags,
		},
	}
}

func (s *Service) systemTools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("health_check",
				mcp.WithDescription("Report backend availability and service health."),
			),
			Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return respond(s.router.HealthCheck(ctx))
			},
		},
		{
			Tool: mcp.NewTool("queue_status",
				mcp.WithDescription("Inspect the write queue: depth, running op, recent history."),
			),
			Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return respond(s.router.QueueStatus(ctx))
			},
		},
		{
			Tool: mcp.NewTool("cancel_operation",
				mcp.WithDescription("Cancel a queued write operation by op id."),
				mcp.WithString("op_id", mcp.Required(), mcp.Description("Operation id from queue_status")),
			),
			Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				opID, err := validate.RequireID("op_id", req.GetString("op_id", ""))
				if err != nil {
					return fail(err)
				}
				return respond(s.router.CancelOperation(ctx, opID))
			},
		},
		{
			Tool: mcp.NewTool("context_stats",
				mcp.WithDescription("Report cache efficiency and response budget settings."),
			),
			Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return respond(s.router.ContextStats(ctx))
			},
		},
	}
}

// todoWrite assembles a TodoWrite from the request, shared by add, update,
// and bulk handlers.
func (s *Service) todoWrite(req mcp.CallToolRequest) (*router.TodoWrite, error) {
	args := req.GetArguments()
	w := &router.TodoWrite{Title: req.GetString("title", "")}

	if _, ok := args["notes"]; ok {
		notes, err := validate.Notes(req.GetString("notes", ""))
		if err != nil {
			return nil, err
		}
		w.Notes = &notes
	}
	var err error
	w.When, err = validate.When("when", req.GetString("when", ""), s.now())
	if err != nil {
		return nil, err
	}
	w.Deadline, err = validate.When("deadline", req.GetString("deadline", ""), s.now())
	if err != nil {
		return nil, err
	}
	if w.Deadline != nil && w.Deadline.HasTime {
		return nil, core.NewFieldError("deadline", "cannot carry a time component")
	}
	if _, ok := args["tags"]; ok {
		w.Tags, err = validate.Tags(args["tags"])
		if err != nil {
			return nil, err
		}
		if w.Tags == nil {
			w.Tags = []string{}
		}
	}
	if raw := req.GetString("checklist_items", ""); raw != "" {
		w.Checklist = validate.Lines(raw)
	}
	w.Destination, err = validate.Destination(req.GetString("destination", ""))
	if err != nil {
		return nil, err
	}

	completed, err := validate.Bool("completed", args["completed"])
	if err != nil {
		return nil, err
	}
	canceled, err := validate.Bool("canceled", args["canceled"])
	if err != nil {
		return nil, err
	}
	switch {
	case completed && canceled:
		return nil, core.NewFieldError("completed", "cannot both complete and cancel")
	case completed:
		st := core.StatusCompleted
		w.Status = &st
	case canceled:
		st := core.StatusCanceled
		w.Status = &st
	}
	return w, nil
}

func (s *Service) handleAddTodo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	w, err := s.todoWrite(req)
	if err != nil {
		return fail(err)
	}
	w.Title, err = validate.Title(w.Title)
	if err != nil {
		return fail(err)
	}
	return respond(s.router.AddTodo(ctx, w))
}

func (s *Service) handleUpdateTodo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := validate.RequireID("todo_id", req.GetString("todo_id", ""))
	if err != nil {
		return fail(err)
	}
	w, err := s.todoWrite(req)
	if err != nil {
		return fail(err)
	}
	return respond(s.router.UpdateTodo(ctx, id, w))
}

func (s *Service) handleDeleteTodo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := validate.RequireID("todo_id", req.GetString("todo_id", ""))
	if err != nil {
		return fail(err)
	}
	return respond(s.router.DeleteTodo(ctx, id))
}

func (s *Service) handleAddProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	w, err := s.todoWrite(req)
	if err != nil {
		return fail(err)
	}
	title, err := validate.Title(w.Title)
	if err != nil {
		return fail(err)
	}
	p := &router.ProjectWrite{
		Title:    title,
		Notes:    w.Notes,
		When:     w.When,
		Deadline: w.Deadline,
		Tags:     w.Tags,
		AreaID:   req.GetString("area_id", ""),
	}
	if raw := req.GetString("todos", ""); raw != "" {
		p.Todos = validate.Lines(raw)
	}
	return respond(s.router.AddProject(ctx, p))
}

func (s *Service) handleUpdateProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := validate.RequireID("project_id", req.GetString("project_id", ""))
	if err != nil {
		return fail(err)
	}
	w, err := s.todoWrite(req)
	if err != nil {
		return fail(err)
	}
	return respond(s.router.UpdateProject(ctx, id, w))
}

func (s *Service) handleMoveRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := validate.RequireID("todo_id", req.GetString("todo_id", ""))
	if err != nil {
		return fail(err)
	}
	dest, err := validate.Destination(req.GetString("destination", ""))
	if err != nil {
		return fail(err)
	}
	if dest == nil {
		return fail(core.NewFieldError("destination", "is required"))
	}
	return respond(s.router.MoveRecord(ctx, id, dest))
}

func (s *Service) handleBulkUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := validate.IDList("todo_ids", req.GetArguments()["todo_ids"])
	if err != nil {
		return fail(err)
	}
	w, err := s.todoWrite(req)
	if err != nil {
		return fail(err)
	}
	return respond(s.router.BulkUpdateTodos(ctx, ids, w))
}

func (s *Service) handleBulkMove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := validate.IDList("todo_ids", req.GetArguments()["todo_ids"])
	if err != nil {
		return fail(err)
	}
	dest, err := validate.Destination(req.GetString("destination", ""))
	if err != nil {
		return fail(err)
	}
	if dest == nil {
		return fail(core.NewFieldError("destination", "is required"))
	}
	return respond(s.router.BulkMoveRecords(ctx, ids, dest))
}

func (s *Service) handleAddTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := validate.RequireID("todo_id", req.GetString("todo_id", ""))
	if err != nil {
		return fail(err)
	}
	tags, err := validate.Tags(req.GetArguments()["tags"])
	if err != nil {
		return fail(err)
	}
	return respond(s.router.AddTags(ctx, id, tags))
}

func (s *Service) handleRemoveTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := validate.RequireID("todo_id", req.GetString("todo_id", ""))
	if err != nil {
		return fail(err)
	}
	tags, err := validate.Tags(req.GetArguments()["tags"])
	if err != nil {
		return fail(err)
	}
	return respond(s.router.RemoveTags(ctx, id, tags))
}
