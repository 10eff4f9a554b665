package tools

import (
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/engine/shaper"
	"github.com/thingsmcp/thingsmcp/engine/validate"
)

func reqWith(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func testService() *Service {
	return &Service{now: func() time.Time {
		return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	}}
}

func TestService_All(t *testing.T) {
	t.Run("Should register every tool under a unique name", func(t *testing.T) {
		all := New(nil).All()
		seen := make(map[string]bool, len(all))
		for _, st := range all {
			assert.False(t, seen[st.Tool.Name], "duplicate tool %s", st.Tool.Name)
			seen[st.Tool.Name] = true
			assert.NotNil(t, st.Handler, st.Tool.Name)
		}
		for _, name := range []string{
			"get_todos", "get_today", "get_inbox", "get_logbook", "search_advanced",
			"add_todo", "update_todo", "bulk_update_todos", "add_tags",
			"health_check", "queue_status", "cancel_operation", "context_stats",
		} {
			assert.True(t, seen[name], "missing tool %s", name)
		}
	})
}

func TestReadOpts(t *testing.T) {
	t.Run("Should apply the defaults", func(t *testing.T) {
		opts, err := readOpts(reqWith(nil), validate.MaxLimit)
		require.NoError(t, err)
		assert.Equal(t, validate.DefaultLimit, opts.Limit)
		assert.Equal(t, shaper.ModeAuto, opts.Mode)
		assert.Empty(t, opts.Cursor)
	})
	t.Run("Should preserve an explicit zero limit", func(t *testing.T) {
		opts, err := readOpts(reqWith(map[string]any{"limit": float64(0)}), validate.MaxLimit)
		require.NoError(t, err)
		assert.Equal(t, 0, opts.Limit)
	})
	t.Run("Should pass the cursor through", func(t *testing.T) {
		opts, err := readOpts(reqWith(map[string]any{"cursor": "120"}), validate.MaxLimit)
		require.NoError(t, err)
		assert.Equal(t, "120", opts.Cursor)
	})
	t.Run("Should reject an unknown mode", func(t *testing.T) {
		_, err := readOpts(reqWith(map[string]any{"mode": "verbose"}), validate.MaxLimit)
		assert.Equal(t, core.CodeValidation, core.CodeOf(err))
	})
	t.Run("Should enforce the per-tool limit cap", func(t *testing.T) {
		_, err := readOpts(reqWith(map[string]any{"limit": float64(200)}), validate.MaxLogbookLimit)
		assert.Error(t, err)
	})
}

func TestService_todoWrite(t *testing.T) {
	s := testService()

	t.Run("Should leave omitted fields untouched", func(t *testing.T) {
		w, err := s.todoWrite(reqWith(map[string]any{"title": "Buy milk"}))
		require.NoError(t, err)
		assert.Equal(t, "Buy milk", w.Title)
		assert.Nil(t, w.Notes)
		assert.Nil(t, w.Tags)
		assert.Nil(t, w.When)
		assert.Nil(t, w.Status)
	})
	t.Run("Should distinguish empty notes from absent notes", func(t *testing.T) {
		w, err := s.todoWrite(reqWith(map[string]any{"notes": ""}))
		require.NoError(t, err)
		require.NotNil(t, w.Notes)
		assert.Equal(t, "", *w.Notes)
	})
	t.Run("Should treat an explicit empty tag set as a clear", func(t *testing.T) {
		w, err := s.todoWrite(reqWith(map[string]any{"tags": ""}))
		require.NoError(t, err)
		require.NotNil(t, w.Tags)
		assert.Empty(t, w.Tags)
	})
	t.Run("Should accept tags in both shapes", func(t *testing.T) {
		w, err := s.todoWrite(reqWith(map[string]any{"tags": "urgent, work"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"urgent", "work"}, w.Tags)

		w, err = s.todoWrite(reqWith(map[string]any{"tags": []any{"urgent", "work"}}))
		require.NoError(t, err)
		assert.Equal(t, []string{"urgent", "work"}, w.Tags)
	})
	t.Run("Should parse a when with a reminder time", func(t *testing.T) {
		w, err := s.todoWrite(reqWith(map[string]any{"when": "tomorrow@09:30"}))
		require.NoError(t, err)
		require.NotNil(t, w.When)
		assert.True(t, w.When.HasTime)
		assert.Equal(t, 9, w.When.Hour)
	})
	t.Run("Should reject a deadline with a time component", func(t *testing.T) {
		_, err := s.todoWrite(reqWith(map[string]any{"deadline": "2024-04-01@10:00"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadline")
	})
	t.Run("Should split checklist items on newlines", func(t *testing.T) {
		w, err := s.todoWrite(reqWith(map[string]any{"checklist_items": "eggs\n\nbread\n"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"eggs", "bread"}, w.Checklist)
	})
	t.Run("Should coerce string booleans for completion", func(t *testing.T) {
		w, err := s.todoWrite(reqWith(map[string]any{"completed": "yes"}))
		require.NoError(t, err)
		require.NotNil(t, w.Status)
		assert.Equal(t, core.StatusCompleted, *w.Status)
	})
	t.Run("Should map canceled onto the canceled status", func(t *testing.T) {
		w, err := s.todoWrite(reqWith(map[string]any{"canceled": true}))
		require.NoError(t, err)
		require.NotNil(t, w.Status)
		assert.Equal(t, core.StatusCanceled, *w.Status)
	})
	t.Run("Should reject completing and canceling at once", func(t *testing.T) {
		_, err := s.todoWrite(reqWith(map[string]any{"completed": true, "canceled": true}))
		assert.Equal(t, core.CodeValidation, core.CodeOf(err))
	})
	t.Run("Should parse the destination", func(t *testing.T) {
		w, err := s.todoWrite(reqWith(map[string]any{"destination": "project:P1"}))
		require.NoError(t, err)
		require.NotNil(t, w.Destination)
		assert.Equal(t, "P1", w.Destination.ProjectID)
	})
	t.Run("Should reject an invalid destination", func(t *testing.T) {
		_, err := s.todoWrite(reqWith(map[string]any{"destination": "shelf"}))
		assert.Equal(t, core.CodeValidation, core.CodeOf(err))
	})
}
