// Package scheduler applies a scheduling value to an existing todo or
// project through a ladder of strategies: the URL scheme first, then a
// generated script with a numeric date object, then a plain list move.
// Each rung is tagged with an informational reliability tier so callers can
// observe which path actually ran.
package scheduler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/thingsmcp/thingsmcp/engine/applescript"
	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/pkg/logger"
)

// Method identifies the strategy that performed the scheduling.
type Method string

const (
	MethodURLScheme  Method = "url_scheme"
	MethodScriptDate Method = "script_date_object"
	MethodListMove   Method = "list_move"
)

// Historical success rates per method. Informational labels, not measured
// guarantees.
const (
	ReliabilityURLScheme  = 0.95
	ReliabilityScriptDate = 0.90
	ReliabilityListMove   = 0.85
)

// Result records which strategy scheduled the entity, if any. Succeeded
// false means every applicable strategy failed or none applied; the calling
// write still succeeds and surfaces a scheduling_failed warning.
type Result struct {
	Succeeded   bool
	Method      Method
	Reliability float64
	Details     string
}

// URLInvoker is the slice of urlscheme.Invoker the scheduler needs.
type URLInvoker interface {
	HasToken() bool
	Invoke(ctx context.Context, action string, params url.Values) error
}

// ScriptRunner is the slice of applescript.Executor the scheduler needs.
type ScriptRunner interface {
	Run(ctx context.Context, script string, timeout time.Duration) (*applescript.ExecResult, error)
}

// Scheduler owns the strategy ladder. Strategies are tried in strict order;
// the first success wins.
type Scheduler struct {
	invoker   URLInvoker
	runner    ScriptRunner
	formatter *applescript.Formatter
	parser    *applescript.Parser
	timeout   time.Duration
}

func New(invoker URLInvoker, runner ScriptRunner, formatter *applescript.Formatter, timeout time.Duration) *Scheduler {
	if formatter == nil {
		formatter = applescript.NewFormatter()
	}
	if timeout <= 0 {
		timeout = applescript.DefaultTimeout
	}
	return &Scheduler{
		invoker:   invoker,
		runner:    runner,
		formatter: formatter,
		parser:    applescript.NewParser(),
		timeout:   timeout,
	}
}

// Schedule applies when to the entity. kind is the AppleScript class name,
// "to do" or "project". A when carrying a time-of-day component can only be
// expressed by the URL scheme; the script dictionary has no reminder
// property, so the ladder is cut after the first rung in that case.
func (s *Scheduler) Schedule(ctx context.Context, kind, id string, when *core.When) Result {
	if when == nil {
		return Result{Details: "no scheduling value"}
	}
	log := logger.FromContext(ctx).With("kind", kind, "id", id, "when", when.Raw)
	var failures []string

	if err := s.viaURLScheme(ctx, kind, id, when); err == nil {
		return Result{Succeeded: true, Method: MethodURLScheme, Reliability: ReliabilityURLScheme}
	} else {
		log.Debug("url scheme strategy unavailable or failed", "error", err)
		failures = append(failures, fmt.Sprintf("url_scheme: %s", core.UserMessage(err)))
	}

	if when.HasTime {
		// Reminder times have no script equivalent; stop rather than
		// silently dropping the time component.
		return Result{Details: strings.Join(append(failures,
			"script_date_object: cannot express a reminder time",
			"list_move: cannot express a reminder time"), "; ")}
	}

	if err := s.viaScriptDate(ctx, kind, id, when); err == nil {
		return Result{Succeeded: true, Method: MethodScriptDate, Reliability: ReliabilityScriptDate}
	} else {
		log.Debug("script date strategy failed", "error", err)
		failures = append(failures, fmt.Sprintf("script_date_object: %s", core.UserMessage(err)))
	}

	if err := s.viaListMove(ctx, kind, id, when); err == nil {
		return Result{Succeeded: true, Method: MethodListMove, Reliability: ReliabilityListMove}
	} else {
		log.Debug("list move strategy failed", "error", err)
		failures = append(failures, fmt.Sprintf("list_move: %s", core.UserMessage(err)))
	}

	log.Warn("all scheduling strategies exhausted")
	return Result{Details: strings.Join(failures, "; ")}
}

// viaURLScheme updates the entity's when through things:///update, which
// routes the value through the application's own natural-language parser.
// Requires an auth token.
func (s *Scheduler) viaURLScheme(ctx context.Context, kind, id string, when *core.When) error {
	if s.invoker == nil || !s.invoker.HasToken() {
		return core.NewError(core.CodeUnsupported, "no auth token configured")
	}
	action := "update"
	if kind == "project" {
		action = "update-project"
	}
	params := url.Values{}
	params.Set("id", id)
	params.Set("when", when.URLValue())
	return s.invoker.Invoke(ctx, action, params)
}

// viaScriptDate schedules through Things' schedule command with a date built
// from numeric property assignments.
func (s *Scheduler) viaScriptDate(ctx context.Context, kind, id string, when *core.When) error {
	if !when.HasDate {
		return core.NewError(core.CodeUnsupported,
			fmt.Sprintf("%q has no concrete date", when.Raw))
	}
	script, err := s.formatter.NewWrite(kind, id).Schedule(when).Script()
	if err != nil {
		return err
	}
	return s.runScript(ctx, script)
}

// viaListMove moves the entity into the built-in list matching a relative
// bucket keyword. Explicit dates cannot be expressed this way.
func (s *Scheduler) viaListMove(ctx context.Context, kind, id string, when *core.When) error {
	bucket := when.Bucket()
	if bucket == "" {
		return core.NewError(core.CodeUnsupported,
			fmt.Sprintf("%q does not map to a built-in list", when.Raw))
	}
	script, err := s.formatter.NewWrite(kind, id).MoveToList(bucket).Script()
	if err != nil {
		return err
	}
	return s.runScript(ctx, script)
}

func (s *Scheduler) runScript(ctx context.Context, script string) error {
	res, err := s.runner.Run(ctx, script, s.timeout)
	if err != nil {
		return err
	}
	_, err = s.parser.ParseWriteResult(res.Stdout)
	return err
}
