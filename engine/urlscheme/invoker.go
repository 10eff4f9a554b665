// Package urlscheme drives Things through its things:/// URL scheme. The
// scheme is required for anything the AppleScript dictionary cannot express:
// reminder times, checklist items, and the scheduler's primary strategy.
package urlscheme

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/pkg/logger"
)

const launchTimeout = 10 * time.Second

// Invoker opens things:/// URLs. It is fire-and-forget: the scheme never
// reports the created entity's id, so callers that need one must either look
// it up afterwards or accept a placeholder.
type Invoker struct {
	// AuthToken authorizes update operations. Empty disables the invoker
	// for updates; add actions still work without one.
	AuthToken string
	// OpenBin is the launcher binary, /usr/bin/open by default. Replaced in
	// tests to capture the URL instead of opening it.
	OpenBin string
}

func NewInvoker(authToken, openBin string) *Invoker {
	if openBin == "" {
		openBin = "/usr/bin/open"
	}
	return &Invoker{AuthToken: authToken, OpenBin: openBin}
}

// HasToken reports whether update actions are authorized.
func (i *Invoker) HasToken() bool {
	return i.AuthToken != ""
}

// BuildURL assembles things:///<action>?k=v with every parameter
// percent-encoded. Update actions get the auth token appended.
func (i *Invoker) BuildURL(action string, params url.Values) (string, error) {
	if action == "" {
		return "", core.NewError(core.CodeInternal, "url scheme action is empty")
	}
	if needsToken(action) {
		if !i.HasToken() {
			return "", core.NewError(core.CodeUnsupported,
				fmt.Sprintf("action %q requires a Things auth token", action))
		}
		params.Set("auth-token", i.AuthToken)
	}
	u := url.URL{Scheme: "things", Path: "/" + action, RawQuery: params.Encode()}
	// url.URL renders things:///add for an absolute single-segment path
	// only when the host is empty, which is exactly the scheme's shape.
	return u.String(), nil
}

// Invoke opens the URL. The Things app steals focus momentarily, which is
// one reason all writes are serialized upstream.
func (i *Invoker) Invoke(ctx context.Context, action string, params url.Values) error {
	target, err := i.BuildURL(action, params)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(ctx, launchTimeout)
	defer cancel()

	// -g keeps Things in the background instead of taking over the screen.
	cmd := exec.CommandContext(runCtx, i.OpenBin, "-g", target)
	out, err := cmd.CombinedOutput()
	if err != nil {
		logger.FromContext(ctx).Warn("url scheme launch failed",
			"action", action, "output", strings.TrimSpace(string(out)))
		if runCtx.Err() != nil {
			return core.WrapError(core.CodeBackendTimeout, "url scheme launch timed out", err)
		}
		return core.WrapError(core.CodeBackendUnavailable, "could not open things:// URL", err)
	}
	return nil
}

// needsToken lists the actions Things refuses without an auth token.
func needsToken(action string) bool {
	switch action {
	case "update", "update-project":
		return true
	default:
		return false
	}
}
