package applescript

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/pkg/logger"
)

const (
	DefaultTimeout = 30 * time.Second
	MaxTimeout     = 300 * time.Second
)

// ExecResult is the raw outcome of one osascript invocation.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor runs AppleScript sources one subprocess per call. There is no
// long-lived pipe; on timeout the whole process group is killed so no
// orphaned osascript keeps the Things UI busy.
type Executor struct {
	Bin string
}

func NewExecutor(bin string) *Executor {
	if bin == "" {
		bin = "/usr/bin/osascript"
	}
	return &Executor{Bin: bin}
}

// Run executes the script with the given per-call timeout and classifies
// failures into the error taxonomy.
func (e *Executor) Run(ctx context.Context, script string, timeout time.Duration) (*ExecResult, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.Bin, "-")
	cmd.Stdin = strings.NewReader(script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid: the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	res := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runErr == nil {
		return res, nil
	}

	log := logger.FromContext(ctx)
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		log.Warn("osascript timed out", "timeout", timeout, "duration", res.Duration)
		return res, core.WrapError(core.CodeBackendTimeout, "automation call timed out", runErr)
	case errors.Is(ctx.Err(), context.Canceled):
		return res, core.WrapError(core.CodeCanceled, "automation call canceled", runErr)
	}

	stderrText := res.Stderr
	log.Debug("osascript failed", "exit_code", res.ExitCode, "stderr", stderrText)
	switch {
	case isNotRunning(stderrText):
		return res, core.NewError(core.CodeBackendUnavailable, "Things is not running")
	case isNotAuthorized(stderrText):
		return res, core.NewError(core.CodePermissionDenied,
			"automation permission denied; grant access in System Settings > Privacy & Security > Automation")
	case errors.Is(runErr, exec.ErrNotFound):
		return res, core.WrapError(core.CodeBackendUnavailable, "osascript binary not found", runErr)
	default:
		return res, core.NewError(core.CodeBackendError, "automation call failed")
	}
}

// isNotRunning matches the stderr signatures osascript emits when the target
// application is not running or cannot be reached over Apple Events.
func isNotRunning(stderr string) bool {
	return strings.Contains(stderr, "-600") ||
		strings.Contains(stderr, "isn't running") ||
		strings.Contains(stderr, "Application can't be found") ||
		strings.Contains(stderr, "-608")
}

// isNotAuthorized matches the TCC automation-consent error.
func isNotAuthorized(stderr string) bool {
	return strings.Contains(stderr, "-1743") ||
		strings.Contains(stderr, "Not authorized") ||
		strings.Contains(stderr, "not allowed assistive access")
}
