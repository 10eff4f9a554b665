package router

import (
	"context"
	"time"

	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/pkg/version"
)

// HealthCheck reports the state of every backend without forcing the Things
// application to launch: the database gets a live probe, the automation and
// URL paths are reported by configuration.
func (r *Router) HealthCheck(ctx context.Context) *core.Envelope {
	dbState := "unavailable"
	if r.db != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if _, err := r.db.ListTags(probeCtx, false); err == nil {
			dbState = "ok"
		} else {
			dbState = "error"
		}
	}
	return core.OK(map[string]any{
		"status":         "ok",
		"version":        version.Get().Version,
		"uptime_seconds": int(time.Since(r.started).Seconds()),
		"database":       dbState,
		"automation":     map[string]any{"binary": r.exec.Bin},
		"url_scheme":     map[string]any{"auth_token_configured": r.invoker.HasToken()},
		"queue_depth":    r.queue.Depth(),
	})
}

// QueueStatus exposes the write queue's observable state.
func (r *Router) QueueStatus(ctx context.Context) *core.Envelope {
	return core.OK(r.queue.Status())
}

// CancelOperation flags a queued write for cancellation.
func (r *Router) CancelOperation(ctx context.Context, opID string) *core.Envelope {
	if !r.queue.Cancel(opID) {
		return core.Fail(core.NewError(core.CodeNotFound, "no pending operation with that id"))
	}
	return core.OKMessage(map[string]any{"op_id": opID}, "cancellation requested")
}

// ContextStats reports cache efficiency and shaping limits so clients can
// reason about their context usage.
func (r *Router) ContextStats(ctx context.Context) *core.Envelope {
	hits, misses, entries := int64(0), int64(0), 0
	if r.cache != nil {
		hits, misses, entries = r.cache.Stats()
	}
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	return core.OK(map[string]any{
		"cache": map[string]any{
			"hits":     hits,
			"misses":   misses,
			"entries":  entries,
			"hit_rate": hitRate,
		},
		"response_budget_bytes": r.shaper.MaxBytes,
		"queue_depth":           r.queue.Depth(),
	})
}
