package router

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/engine/queue"
	"github.com/thingsmcp/thingsmcp/engine/shaper"
	"github.com/thingsmcp/thingsmcp/engine/tagpolicy"
)

// PerIDResult is one entry of a bulk operation's outcome report.
type PerIDResult struct {
	ID        string         `json:"id"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	ErrorCode core.ErrorCode `json:"error_code,omitempty"`
}

// BulkResult aggregates a fan-out write.
type BulkResult struct {
	Total   int           `json:"total"`
	Updated int           `json:"updated"`
	Failed  int           `json:"failed"`
	PerID   []PerIDResult `json:"per_id"`
}

// fanOut expands a bulk op into one queued write per id with bounded
// in-flight submissions. Results keep the caller's id order.
func (r *Router) fanOut(ctx context.Context, kind string, ids []string, run func(ctx context.Context, id string) (any, error)) *BulkResult {
	sem := semaphore.NewWeighted(int64(r.cfg.BulkInflight))
	results := make([]PerIDResult, len(ids))
	var wg sync.WaitGroup

	for i, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = PerIDResult{ID: id, Error: "canceled", ErrorCode: core.CodeCanceled}
			continue
		}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer sem.Release(1)
			_, err := r.queue.Submit(ctx, &queue.Operation{
				Kind:     kind,
				Priority: queue.PriorityNormal,
				Run: func(ctx context.Context) (any, error) {
					return run(ctx, id)
				},
			})
			if err != nil {
				results[i] = PerIDResult{ID: id, Error: core.UserMessage(err), ErrorCode: core.CodeOf(err)}
				return
			}
			results[i] = PerIDResult{ID: id, Success: true}
		}(i, id)
	}
	wg.Wait()

	out := &BulkResult{Total: len(ids), PerID: results}
	for _, res := range results {
		if res.Success {
			out.Updated++
		} else {
			out.Failed++
		}
	}
	return out
}

// BulkUpdateTodos applies the same partial update to every id.
func (r *Router) BulkUpdateTodos(ctx context.Context, ids []string, w *TodoWrite) *core.Envelope {
	plan, err := r.planTags(ctx, w.Tags)
	if err != nil {
		return core.Fail(err)
	}

	res := r.fanOut(ctx, "bulk_update_todos", ids, func(ctx context.Context, id string) (any, error) {
		return r.updateEntity(ctx, "to do", id, w, clonePlan(plan))
	})

	r.markWrite()
	tags := []string{"list:*"}
	if plan != nil {
		tags = append(tags, "tags:*")
	}
	for _, id := range ids {
		tags = append(tags, "entity:"+id)
	}
	r.invalidate(tags)

	env := core.OK(res).WithMeta(func(m *core.Meta) {
		m.Mode = string(shaper.ModeMinimal)
	})
	if plan != nil {
		for _, warn := range plan.Warnings {
			env.AddWarning(warn)
		}
	}
	if res.Failed > 0 {
		env.AddWarning("some updates failed, see per_id")
	}
	return env
}

// clonePlan copies a tag plan so concurrent per-id writes never share
// warning slices.
func clonePlan(p *tagpolicy.Plan) *tagpolicy.Plan {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// BulkMoveRecords moves every id to the same destination. The destination
// is existence-checked once up front.
func (r *Router) BulkMoveRecords(ctx context.Context, ids []string, dest *core.Destination) *core.Envelope {
	if dest == nil {
		return core.Fail(core.NewFieldError("destination", "is required"))
	}
	if err := r.checkDestination(ctx, dest); err != nil {
		return core.Fail(err)
	}

	res := r.fanOut(ctx, "bulk_move_records", ids, func(ctx context.Context, id string) (any, error) {
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

	r.markWrite()
	tags := []string{"list:*"}
	if dest.ProjectID != "" {
		tags = append(tags, "project:"+dest.ProjectID)
	}
	for _, id := range ids {
		tags = append(tags, "entity:"+id)
	}
	r.invalidate(tags)

	env := core.OK(res).WithMeta(func(m *core.Meta) {
		m.Mode = string(shaper.ModeMinimal)
	})
	if res.Failed > 0 {
		env.AddWarning("some moves failed, see per_id")
	}
	return env
}
