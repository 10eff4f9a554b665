// Package tools defines the MCP tool surface and maps each tool onto a
// router operation. Every tool returns a JSON Envelope as its text content,
// success or failure alike, so clients always parse one shape.
package tools

import (
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/engine/router"
	"github.com/thingsmcp/thingsmcp/engine/shaper"
	"github.com/thingsmcp/thingsmcp/engine/validate"
)

// Service binds the tool handlers to a router. Now is injectable so
// relative when-values resolve deterministically in tests.
type Service struct {
	router *router.Router
	now    func() time.Time
}

func New(r *router.Router) *Service {
	return &Service{router: r, now: time.Now}
}

// All returns every registered tool.
func (s *Service) All() []server.ServerTool {
	var all []server.ServerTool
	all = append(all, s.readTools()...)
	all = append(all, s.writeTools()...)
	all = append(all, s.systemTools()...)
	return all
}

// respond serializes an Envelope as the tool's text content. The MCP error
// channel is reserved for marshaling failures; operational failures travel
// inside the Envelope.
func respond(env *core.Envelope) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return mcp.NewToolResultError("internal error"), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func fail(err error) (*mcp.CallToolResult, error) {
	return respond(core.Fail(err))
}

// readOpts extracts the shared limit/mode/cursor read parameters.
func readOpts(req mcp.CallToolRequest, maxLimit int) (router.ReadOptions, error) {
	args := req.GetArguments()
	limit, err := validate.Limit(args["limit"], validate.DefaultLimit, maxLimit)
	if err != nil {
		return router.ReadOptions{}, err
	}
	mode, err := shaper.ParseMode(req.GetString("mode", ""))
	if err != nil {
		return router.ReadOptions{}, err
	}
	return router.ReadOptions{
		Limit:  limit,
		Mode:   mode,
		Cursor: req.GetString("cursor", ""),
	}, nil
}

// modeParam and limitParam are the shared schema options for list reads.
func listParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("limit",
			mcp.Description("Maximum items to return. 0 returns an empty list. Default 50.")),
		mcp.WithString("mode",
			mcp.Description("Response detail level"),
			mcp.Enum("auto", "summary", "minimal", "standard", "detailed", "raw")),
		mcp.WithString("cursor",
			mcp.Description("Pagination cursor from a previous truncated response")),
	}
}
