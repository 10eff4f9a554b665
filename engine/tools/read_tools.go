package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/engine/router"
	"github.com/thingsmcp/thingsmcp/engine/validate"
)

func (s *Service) readTools() []server.ServerTool {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool("get_todos",
				append([]mcp.ToolOption{
					mcp.WithDescription("List todos, optionally scoped to a project and filtered by status."),
					mcp.WithString("project_id", mcp.Description("Only todos of this project")),
					mcp.WithString("status",
						mcp.Description("Status filter; omit for incomplete"),
						mcp.Enum("incomplete", "completed", "canceled")),
				}, listParams()...)...),
			Handler: s.handleGetTodos,
		},
		{
			Tool: mcp.NewTool("get_todo_by_id",
				mcp.WithDescription("Fetch a single todo with its checklist."),
				mcp.WithString("todo_id", mcp.Required(), mcp.Description("Todo id")),
			),
			Handler: s.handleGetTodoByID,
		},
		{
			Tool: mcp.NewTool("get_projects",
				mcp.WithDescription("List active projects."),
				mcp.WithBoolean("include_items", mcp.Description("Materialize each project's todos")),
				mcp.WithNumber("limit", mcp.Description("Maximum projects to return")),
			),
			Handler: s.handleGetProjects,
		},
		{
			Tool: mcp.NewTool("get_areas",
				mcp.WithDescription("List areas."),
				mcp.WithBoolean("include_items", mcp.Description("Materialize each area's todos")),
			),
			Handler: s.handleGetAreas,
		},
		{
			Tool: mcp.NewTool("get_logbook",
				append([]mcp.ToolOption{
					mcp.WithDescription("List completed and canceled items, newest first."),
					mcp.WithString("period", mcp.Description("Lookback window like 7d, 2w, 1m, 1y")),
				}, listParams()...)...),
			Handler: s.handleGetLogbook,
		},
		{
			Tool: mcp.NewTool("get_tags",
				mcp.WithDescription("List all tags."),
				mcp.WithBoolean("include_items", mcp.Description("Include open item counts per tag")),
			),
			Handler: s.handleGetTags,
		},
		{
			Tool: mcp.NewTool("get_tagged_items",
				append([]mcp.ToolOption{
					mcp.WithDescription("List open todos carrying an exact tag name."),
					mcp.WithString("tag", mcp.Required(), mcp.Description("Tag name, case-sensitive")),
				}, listParams()...)...),
			Handler: s.handleGetTaggedItems,
		},
		{
			Tool: mcp.NewTool("search_todos",
				append([]mcp.ToolOption{
					mcp.WithDescription("Search todo titles and notes."),
					mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
				}, listParams()...)...),
			Handler: s.handleSearchTodos,
		},
		{
			Tool: mcp.NewTool("search_advanced",
				append([]mcp.ToolOption{
					mcp.WithDescription("Search with status, period, and tag filters combined."),
					mcp.WithString("status",
						mcp.Description("Status filter"),
						mcp.Enum("incomplete", "completed", "canceled")),
					mcp.WithString("period", mcp.Description("Lookback window like 30d")),
					mcp.WithString("tag", mcp.Description("Tag name, case-sensitive")),
				}, listParams()...)...),
			Handler: s.handleSearchAdvanced,
		},
		{
			Tool: mcp.NewTool("get_recent",
				append([]mcp.ToolOption{
					mcp.WithDescription("List items created within a period."),
					mcp.WithString("period", mcp.Required(), mcp.Description("Lookback window like 7d")),
				}, listParams()...)...),
			Handler: s.handleGetRecent,
		},
	}
	tools = append(tools, s.builtinListTools()...)
	return tools
}

// builtinListTools registers one tool per built-in list view.
func (s *Service) builtinListTools() []server.ServerTool {
	lists := []struct {
		name string
		list core.BuiltinList
		desc string
	}{
		{"get_inbox", core.ListInbox, "List todos in the Inbox."},
		{"get_today", core.ListToday, "List todos scheduled for today."},
		{"get_upcoming", core.ListUpcoming, "List todos with future scheduled dates."},
		{"get_anytime", core.ListAnytime, "List todos in Anytime."},
		{"get_someday", core.ListSomeday, "List todos in Someday."},
		{"get_trash", core.ListTrash, "List trashed todos."},
	}
	out := make([]server.ServerTool, 0, len(lists))
	for _, l := range lists {
		list := l.list
		out = append(out, server.ServerTool{
			Tool: mcp.NewTool(l.name,
				append([]mcp.ToolOption{mcp.WithDescription(l.desc)}, listParams()...)...),
			Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				opts, err := readOpts(req, validate.MaxLimit)
				if err != nil {
					return fail(err)
				}
				return respond(s.router.GetList(ctx, list, opts))
			},
		})
	}
	return out
}

func (s *Service) handleGetTodos(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := readOpts(req, validate.MaxLimit)
	if err != nil {
		return fail(err)
	}
	status, err := validate.StatusFilter(req.GetString("status", ""))
	if err != nil {
		return fail(err)
	}
	return respond(s.router.GetTodos(ctx, req.GetString("project_id", ""), status, opts))
}

func (s *Service) handleGetTodoByID(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := validate.RequireID("todo_id", req.GetString("todo_id", ""))
	if err != nil {
		return fail(err)
	}
	return respond(s.router.GetTodoByID(ctx, id))
}

func (s *Service) handleGetProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	includeItems, err := validate.Bool("include_items", args["include_items"])
	if err != nil {
		return fail(err)
	}
	limit, err := validate.Limit(args["limit"], validate.MaxLimit, validate.MaxLimit)
	if err != nil {
		return fail(err)
	}
	return respond(s.router.GetProjects(ctx, includeItems, limit))
}

func (s *Service) handleGetAreas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	includeItems, err := validate.Bool("include_items", req.GetArguments()["include_items"])
	if err != nil {
		return fail(err)
	}
	return respond(s.router.GetAreas(ctx, includeItems))
}

func (s *Service) handleGetLogbook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := readOpts(req, validate.MaxLogbookLimit)
	if err != nil {
		return fail(err)
	}
	var period time.Duration
	if raw := req.GetString("period", ""); raw != "" {
		period, err = validate.Period(raw)
		if err != nil {
			return fail(err)
		}
	}
	return respond(s.router.GetLogbook(ctx, period, opts))
}

func (s *Service) handleGetTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	withCounts, err := validate.Bool("include_items", req.GetArguments()["include_items"])
	if err != nil {
		return fail(err)
	}
	return respond(s.router.GetTags(ctx, withCounts))
}

func (s *Service) handleGetTaggedItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := readOpts(req, validate.MaxLimit)
	if err != nil {
		return fail(err)
	}
	tag, err := validate.RequireID("tag", req.GetString("tag", ""))
	if err != nil {
		return fail(err)
	}
	return respond(s.router.GetTaggedItems(ctx, tag, opts))
}

func (s *Service) handleSearchTodos(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := readOpts(req, validate.MaxLimit)
	if err != nil {
		return fail(err)
	}
	query, err := validate.RequireID("query", req.GetString("query", ""))
	if err != nil {
		return fail(err)
	}
	return respond(s.router.SearchTodos(ctx, query, opts))
}

func (s *Service) handleSearchAdvanced(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := readOpts(req, validate.MaxLimit)
	if err != nil {
		return fail(err)
	}
	q := router.AdvancedQuery{Tag: req.GetString("tag", "")}
	q.Status, err = validate.StatusFilter(req.GetString("status", ""))
	if err != nil {
		return fail(err)
	}
	if raw := req.GetString("period", ""); raw != "" {
		q.Period, err = validate.Period(raw)
		if err != nil {
			return fail(err)
		}
	}
	return respond(s.router.SearchAdvanced(ctx, q, opts))
}

func (s *Service) handleGetRecent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := readOpts(req, validate.MaxLimit)
	if err != nil {
		return fail(err)
	}
	period, err := validate.Period(req.GetString("period", ""))
	if err != nil {
		return fail(err)
	}
	return respond(s.router.GetRecent(ctx, period, opts))
}
