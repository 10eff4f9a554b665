// Package tagpolicy decides what happens when a write references tags that
// do not exist yet. The policy is fixed at process start; every write that
// carries tags runs its requested set through Plan before anything reaches
// the backend.
package tagpolicy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thingsmcp/thingsmcp/engine/core"
)

// Policy is the unknown-tag disposition.
type Policy string

const (
	// PolicyAllowAll creates any missing tag as part of the write.
	PolicyAllowAll Policy = "allow_all"
	// PolicyFilterUnknown silently drops missing tags.
	PolicyFilterUnknown Policy = "filter_unknown"
	// PolicyWarnUnknown drops missing tags and surfaces a warning.
	PolicyWarnUnknown Policy = "warn_unknown"
	// PolicyRejectUnknown aborts the write with suggestions.
	PolicyRejectUnknown Policy = "reject_unknown"
)

const defaultMaxSuggestions = 3

// Plan is the action plan for one write's tag set. Apply is what the write
// actually sends to the backend: existing tags plus any the policy creates.
type Plan struct {
	Apply    []string
	Existing []string
	Created  []string
	Filtered []string
	Warnings []string
}

// Engine partitions requested tags against the known set.
type Engine struct {
	policy         Policy
	maxSuggestions int
}

func New(policy Policy) (*Engine, error) {
	switch policy {
	case PolicyAllowAll, PolicyFilterUnknown, PolicyWarnUnknown, PolicyRejectUnknown:
		return &Engine{policy: policy, maxSuggestions: defaultMaxSuggestions}, nil
	default:
		return nil, core.NewFieldError("tags.policy",
			fmt.Sprintf("unknown policy %q, expected allow_all|filter_unknown|warn_unknown|reject_unknown", policy))
	}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Plan partitions requested into existing and missing and applies the
// policy. Matching is by exact, case-sensitive name. Under reject_unknown a
// missing tag fails the write with up to three closest known names attached
// as hints.
func (e *Engine) Plan(requested, known []string) (*Plan, error) {
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}

	plan := &Plan{}
	var missing []string
	for _, tag := range requested {
		if _, ok := knownSet[tag]; ok {
			plan.Existing = append(plan.Existing, tag)
		} else {
			missing = append(missing, tag)
		}
	}

	switch e.policy {
	case PolicyAllowAll:
		plan.Created = missing
	case PolicyFilterUnknown:
		plan.Filtered = missing
	case PolicyWarnUnknown:
		plan.Filtered = missing
		for _, tag := range missing {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("unknown tag %q was not applied", tag))
		}
	case PolicyRejectUnknown:
		if len(missing) > 0 {
			err := core.NewError(core.CodeUnknownTag,
				fmt.Sprintf("unknown tags: %s", strings.Join(missing, ", ")))
			var hints []string
			for _, tag := range missing {
				if close := e.suggest(tag, known); len(close) > 0 {
					hints = append(hints, fmt.Sprintf("%q: did you mean %s?", tag, strings.Join(close, ", ")))
				}
			}
			return nil, err.WithHints(hints...)
		}
	}

	plan.Apply = append(append([]string{}, plan.Existing...), plan.Created...)
	return plan, nil
}

// suggest ranks known tags by edit distance to name and returns the closest
// few within a sane distance bound.
func (e *Engine) suggest(name string, known []string) []string {
	type scored struct {
		tag  string
		dist int
	}
	// Anything further than half the name's length apart is noise.
	maxDist := len(name)/2 + 1
	candidates := make([]scored, 0, len(known))
	for _, k := range known {
		if d := levenshtein(name, k); d <= maxDist {
			candidates = append(candidates, scored{tag: k, dist: d})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].dist < candidates[j].dist
	})
	if len(candidates) > e.maxSuggestions {
		candidates = candidates[:e.maxSuggestions]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.tag
	}
	return out
}

// levenshtein computes edit distance over runes with a rolling single-row
// table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur := prev[0]
		prev[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			next := min3(prev[j]+1, prev[j-1]+1, cur+cost)
			cur = prev[j]
			prev[j] = next
		}
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
