package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thingsmcp/thingsmcp/engine/applescript"
	"github.com/thingsmcp/thingsmcp/engine/cache"
	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/engine/queue"
	"github.com/thingsmcp/thingsmcp/engine/scheduler"
	"github.com/thingsmcp/thingsmcp/engine/shaper"
	"github.com/thingsmcp/thingsmcp/engine/tagpolicy"
	"github.com/thingsmcp/thingsmcp/engine/urlscheme"
)

// writeStub drops an executable shell script standing in for osascript or
// open.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

type stubCase struct {
	pattern string
	output  string
}

// shellQuote escapes single quotes so a stub output can sit inside a
// single-quoted shell string.
func shellQuote(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// scriptStub builds an osascript stand-in that answers by matching the
// incoming script text against patterns, first match wins.
func scriptStub(t *testing.T, fallback string, cases ...stubCase) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("in=$(cat)\ncase \"$in\" in\n")
	for _, c := range cases {
		fmt.Fprintf(&b, "*%q*) printf '%%s' '%s';;\n", c.pattern, shellQuote(c.output))
	}
	fmt.Fprintf(&b, "*) printf '%%s' '%s';;\nesac\n", shellQuote(fallback))
	return writeStub(t, b.String())
}

func failingStub(t *testing.T) string {
	t.Helper()
	return writeStub(t, "cat >/dev/null\necho 'execution error: boom' >&2\nexit 1\n")
}

// tableRow renders one batch-read output row over the full canonical field
// set.
func tableRow(vals map[string]string) string {
	fields := applescript.FieldNames()
	cols := make([]string, len(fields))
	for i, f := range fields {
		if v, ok := vals[f]; ok {
			cols[i] = v
		} else {
			cols[i] = "missing value"
		}
	}
	return strings.Join(cols, "\t")
}

type fixture struct {
	r    *Router
	urls string
}

func newFixture(t *testing.T, bin string) *fixture {
	t.Helper()
	c, err := cache.New(cache.Config{DefaultTTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	q, err := queue.New(queue.Config{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = q.Stop(stopCtx)
		cancel()
	})

	urls := filepath.Join(t.TempDir(), "urls.txt")
	open := writeStub(t, fmt.Sprintf("echo \"$2\" >> %s\n", urls))
	inv := urlscheme.NewInvoker("test-token", open)

	runner := applescript.NewExecutor(bin)
	formatter := applescript.NewFormatter()
	sched := scheduler.New(inv, runner, formatter, time.Second)
	tags, err := tagpolicy.New(tagpolicy.PolicyAllowAll)
	require.NoError(t, err)

	r := New(Config{ScriptTimeout: 5 * time.Second},
		c, nil, runner, formatter, inv, q, sched, tags, shaper.New(0))
	return &fixture{r: r, urls: urls}
}

func (f *fixture) openedURLs(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(f.urls)
	require.NoError(t, err)
	return string(b)
}

func TestRouter_GetList(t *testing.T) {
	t.Run("Should return an empty list for an explicit zero limit without touching a backend", func(t *testing.T) {
		f := newFixture(t, filepath.Join(t.TempDir(), "missing-osascript"))
		env := f.r.GetList(context.Background(), core.ListToday, ReadOptions{Limit: 0, Mode: shaper.ModeAuto})
		require.True(t, env.Success)
		assert.Empty(t, env.Data)
	})
	t.Run("Should read through the automation path when the database is unavailable", func(t *testing.T) {
		row := tableRow(map[string]string{"id": "A1", "title": "Buy milk", "status": "open"})
		f := newFixture(t, scriptStub(t, row))
		env := f.r.GetList(context.Background(), core.ListToday, ReadOptions{Limit: 10, Mode: shaper.ModeMinimal})
		require.True(t, env.Success, env.Error)
		todos := env.Data.([]shaper.MinimalTodo)
		require.Len(t, todos, 1)
		assert.Equal(t, "A1", todos[0].ID)
		assert.Equal(t, "Buy milk", todos[0].Title)
	})
	t.Run("Should serve a repeated read from the cache", func(t *testing.T) {
		row := tableRow(map[string]string{"id": "A1", "title": "Buy milk", "status": "open"})
		f := newFixture(t, scriptStub(t, row))
		opts := ReadOptions{Limit: 10, Mode: shaper.ModeMinimal}
		require.True(t, f.r.GetList(context.Background(), core.ListToday, opts).Success)
		f.r.cache.Wait()

		// Break the backend; the cached result must still answer.
		f.r.exec.Bin = filepath.Join(t.TempDir(), "gone")
		env := f.r.GetList(context.Background(), core.ListToday, opts)
		require.True(t, env.Success, env.Error)
		assert.Len(t, env.Data.([]shaper.MinimalTodo), 1)
	})
}

func TestRouter_GetTodoByID(t *testing.T) {
	t.Run("Should fetch a single todo over automation", func(t *testing.T) {
		row := tableRow(map[string]string{"id": "A1", "title": "Buy milk", "status": "open", "tags": "urgent"})
		f := newFixture(t, scriptStub(t, row))
		env := f.r.GetTodoByID(context.Background(), "A1")
		require.True(t, env.Success, env.Error)
		todo := env.Data.(*core.Todo)
		assert.Equal(t, "A1", todo.ID)
		assert.Equal(t, []string{"urgent"}, todo.Tags)
	})
	t.Run("Should map a script failure on the id to NotFound", func(t *testing.T) {
		f := newFixture(t, failingStub(t))
		env := f.r.GetTodoByID(context.Background(), "nope")
		require.False(t, env.Success)
		assert.Equal(t, core.CodeNotFound, env.ErrorCode)
	})
}

func TestRouter_GetTags(t *testing.T) {
	t.Run("Should fall back to automation and warn about missing counts", func(t *testing.T) {
		f := newFixture(t, scriptStub(t, "TAG1\turgent"))
		env := f.r.GetTags(context.Background(), true)
		require.True(t, env.Success, env.Error)
		tags := env.Data.([]core.Tag)
		require.Len(t, tags, 1)
		assert.Equal(t, "urgent", tags[0].Name)
		require.NotEmpty(t, env.Warnings)
		assert.Contains(t, env.Warnings[0], "counts are unavailable")
	})
}

func TestRouter_AddTodo(t *testing.T) {
	t.Run("Should create through a generated script and return the real id", func(t *testing.T) {
		f := newFixture(t, scriptStub(t, "", stubCase{pattern: "make new to do", output: "ok:T-NEW"}))
		env := f.r.AddTodo(context.Background(), &TodoWrite{Title: "Buy milk"})
		require.True(t, env.Success, env.Error)
		data := env.Data.(map[string]any)
		assert.Equal(t, "T-NEW", data["todo_id"])
		assert.Equal(t, false, data["id_is_placeholder"])
	})
	t.Run("Should schedule a dated when inline and report the method", func(t *testing.T) {
		f := newFixture(t, scriptStub(t, "", stubCase{pattern: "make new to do", output: "ok:T-NEW"}))
		when, err := core.ParseWhen("today", time.Now())
		require.NoError(t, err)
		env := f.r.AddTodo(context.Background(), &TodoWrite{Title: "Buy milk", When: when})
		require.True(t, env.Success, env.Error)
		require.NotNil(t, env.Meta)
		assert.Equal(t, string(scheduler.MethodScriptDate), env.Meta.MethodUsed)
		assert.Equal(t, scheduler.ReliabilityScriptDate, env.Meta.Reliability)
	})
	t.Run("Should express a bucket keyword as a list move", func(t *testing.T) {
		f := newFixture(t, scriptStub(t, "", stubCase{pattern: "make new to do", output: "ok:T-NEW"}))
		when, err := core.ParseWhen("someday", time.Now())
		require.NoError(t, err)
		env := f.r.AddTodo(context.Background(), &TodoWrite{Title: "Learn piano", When: when})
		require.True(t, env.Success, env.Error)
		require.NotNil(t, env.Meta)
		assert.Equal(t, string(scheduler.MethodListMove), env.Meta.MethodUsed)
	})
	t.Run("Should route checklist items through the url scheme and recover the id", func(t *testing.T) {
		lookup := "T-URL\tBuy milk"
		f := newFixture(t, scriptStub(t, lookup, stubCase{pattern: "make new to do", output: "ok:WRONG"}))
		env := f.r.AddTodo(context.Background(), &TodoWrite{
			Title:     "Buy milk",
			Checklist: []string{"eggs", "bread"},
		})
		require.True(t, env.Success, env.Error)
		data := env.Data.(map[string]any)
		assert.Equal(t, "T-URL", data["todo_id"])
		assert.Equal(t, false, data["id_is_placeholder"])

		opened := f.openedURLs(t)
		assert.Contains(t, opened, "things:///add")
		assert.Contains(t, opened, "checklist-items")
	})
	t.Run("Should fall back to a marked placeholder id when the lookup fails", func(t *testing.T) {
		f := newFixture(t, failingStub(t))
		env := f.r.AddTodo(context.Background(), &TodoWrite{
			Title:     "Buy milk",
			Checklist: []string{"eggs"},
		})
		require.True(t, env.Success, env.Error)
		data := env.Data.(map[string]any)
		assert.True(t, strings.HasPrefix(data["todo_id"].(string), "pending-"))
		assert.Equal(t, true, data["id_is_placeholder"])
	})
}

func TestRouter_UpdateTodo(t *testing.T) {
	t.Run("Should reject an update with nothing to change", func(t *testing.T) {
		f := newFixture(t, failingStub(t))
		env := f.r.UpdateTodo(context.Background(), "A1", &TodoWrite{})
		require.False(t, env.Success)
		assert.Equal(t, core.CodeValidation, env.ErrorCode)
	})
	t.Run("Should write properties then schedule through the url scheme", func(t *testing.T) {
		f := newFixture(t, scriptStub(t, "", stubCase{pattern: "set name of t", output: "ok:A1"}))
		when, err := core.ParseWhen("2030-01-15", time.Now())
		require.NoError(t, err)
		env := f.r.UpdateTodo(context.Background(), "A1", &TodoWrite{Title: "Renamed", When: when})
		require.True(t, env.Success, env.Error)
		require.NotNil(t, env.Meta)
		assert.Equal(t, string(scheduler.MethodURLScheme), env.Meta.MethodUsed)
		assert.Contains(t, f.openedURLs(t), "things:///update")
	})
	t.Run("Should warn instead of failing when every scheduling strategy fails", func(t *testing.T) {
		f := newFixture(t, scriptStub(t, "err:cannot schedule",
			stubCase{pattern: "set name of t", output: "ok:A1"}))
		// No auth token: the url rung is unavailable, the script rungs fail.
		f.r.invoker.AuthToken = ""
		when, err := core.ParseWhen("2030-01-15", time.Now())
		require.NoError(t, err)
		env := f.r.UpdateTodo(context.Background(), "A1", &TodoWrite{Title: "Renamed", When: when})
		require.True(t, env.Success, env.Error)
		assert.Contains(t, env.Warnings, "scheduling_failed")
	})
}

func TestRouter_DeleteTodo(t *testing.T) {
	t.Run("Should move the todo to the trash", func(t *testing.T) {
		f := newFixture(t, scriptStub(t, "", stubCase{pattern: "Trash", output: "ok:A1"}))
		env := f.r.DeleteTodo(context.Background(), "A1")
		require.True(t, env.Success, env.Error)
		assert.Equal(t, "A1", env.Data.(map[string]any)["todo_id"])
		assert.Equal(t, "todo moved to trash", env.Message)
	})
}

func TestRouter_MoveRecord(t *testing.T) {
	t.Run("Should existence-check the project before moving", func(t *testing.T) {
		f := newFixture(t, scriptStub(t, "",
			stubCase{pattern: `to do id "A1"`, output: "ok:A1"},
			stubCase{pattern: "project id", output: "ok:P1"}))
		dest, err := core.ParseDestination("project:P1")
		require.NoError(t, err)
		env := f.r.MoveRecord(context.Background(), "A1", dest)
		require.True(t, env.Success, env.Error)
		assert.Equal(t, "A1", env.Data.(map[string]any)["todo_id"])
	})
	t.Run("Should fail fast with NotFound for a missing destination", func(t *testing.T) {
		f := newFixture(t, scriptStub(t, "",
			stubCase{pattern: "project id", output: `err:Can't get project id "nope"`}))
		dest, err := core.ParseDestination("project:nope")
		require.NoError(t, err)
		env := f.r.MoveRecord(context.Background(), "A1", dest)
		require.False(t, env.Success)
		assert.Equal(t, core.CodeNotFound, env.ErrorCode)
	})
}

func TestRouter_TagMutation(t *testing.T) {
	t.Run("Should merge added tags with the current set", func(t *testing.T) {
		capture := filepath.Join(t.TempDir(), "write.txt")
		bin := writeStub(t, fmt.Sprintf(
			"in=$(cat)\ncase \"$in\" in\n*\"set tag names of t\"*) printf '%%s' \"$in\" > %s; printf '%%s' 'ok:A1';;\n*) printf '%%s' 'A1\turgent';;\nesac\n",
			capture))
		f := newFixture(t, bin)

		env := f.r.AddTags(context.Background(), "A1", []string{"home"})
		require.True(t, env.Success, env.Error)

		written, err := os.ReadFile(capture)
		require.NoError(t, err)
		assert.Contains(t, string(written), `set tag names of t to "urgent,home"`)
	})
	t.Run("Should drop removed tags and keep the rest", func(t *testing.T) {
		capture := filepath.Join(t.TempDir(), "write.txt")
		bin := writeStub(t, fmt.Sprintf(
			"in=$(cat)\ncase \"$in\" in\n*\"set tag names of t\"*) printf '%%s' \"$in\" > %s; printf '%%s' 'ok:A1';;\n*) printf '%%s' 'A1\turgent,work';;\nesac\n",
			capture))
		f := newFixture(t, bin)

		env := f.r.RemoveTags(context.Background(), "A1", []string{"urgent"})
		require.True(t, env.Success, env.Error)

		written, err := os.ReadFile(capture)
		require.NoError(t, err)
		assert.Contains(t, string(written), `set tag names of t to "work"`)
	})
	t.Run("Should require at least one tag", func(t *testing.T) {
		f := newFixture(t, failingStub(t))
		env := f.r.AddTags(context.Background(), "A1", nil)
		require.False(t, env.Success)
		assert.Equal(t, core.CodeValidation, env.ErrorCode)
	})
}

func TestRouter_BulkUpdateTodos(t *testing.T) {
	t.Run("Should apply the update to every id in order", func(t *testing.T) {
		f := newFixture(t, scriptStub(t, "", stubCase{pattern: "set name of t", output: "ok:OK"}))
		env := f.r.BulkUpdateTodos(context.Background(), []string{"A1", "A2", "A3"}, &TodoWrite{Title: "Renamed"})
		require.True(t, env.Success, env.Error)
		res := env.Data.(*BulkResult)
		assert.Equal(t, 3, res.Total)
		assert.Equal(t, 3, res.Updated)
		assert.Equal(t, 0, res.Failed)
		require.Len(t, res.PerID, 3)
		assert.Equal(t, "A1", res.PerID[0].ID)
		assert.Equal(t, "A3", res.PerID[2].ID)
		require.NotNil(t, env.Meta)
		assert.Equal(t, string(shaper.ModeMinimal), env.Meta.Mode)
	})
	t.Run("Should report per-id failures without failing the whole call", func(t *testing.T) {
		f := newFixture(t, scriptStub(t, "ok:OK",
			stubCase{pattern: `to do id "A2"`, output: `err:Can't get to do id "A2"`}))
		env := f.r.BulkUpdateTodos(context.Background(), []string{"A1", "A2", "A3"}, &TodoWrite{Title: "Renamed"})
		require.True(t, env.Success, env.Error)
		res := env.Data.(*BulkResult)
		assert.Equal(t, 2, res.Updated)
		assert.Equal(t, 1, res.Failed)
		assert.False(t, res.PerID[1].Success)
		assert.Equal(t, core.CodeNotFound, res.PerID[1].ErrorCode)
		assert.Contains(t, env.Warnings, "some updates failed, see per_id")
	})
}

func TestRouter_System(t *testing.T) {
	t.Run("Should report backend states without launching anything", func(t *testing.T) {
		f := newFixture(t, failingStub(t))
		env := f.r.HealthCheck(context.Background())
		require.True(t, env.Success)
		data := env.Data.(map[string]any)
		assert.Equal(t, "ok", data["status"])
		assert.Equal(t, "unavailable", data["database"])
		assert.Equal(t, 0, data["queue_depth"])
	})
	t.Run("Should expose cache stats and the response budget", func(t *testing.T) {
		f := newFixture(t, failingStub(t))
		env := f.r.ContextStats(context.Background())
		require.True(t, env.Success)
		data := env.Data.(map[string]any)
		assert.Equal(t, shaper.DefaultMaxBytes, data["response_budget_bytes"])
		assert.Contains(t, data, "cache")
	})
	t.Run("Should report NotFound for cancelling an unknown operation", func(t *testing.T) {
		f := newFixture(t, failingStub(t))
		env := f.r.CancelOperation(context.Background(), "nope")
		require.False(t, env.Success)
		assert.Equal(t, core.CodeNotFound, env.ErrorCode)
	})
}
