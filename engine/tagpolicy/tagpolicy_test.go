package tagpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thingsmcp/thingsmcp/engine/core"
)

func TestNew(t *testing.T) {
	t.Run("Should accept every policy name", func(t *testing.T) {
		for _, p := range []Policy{PolicyAllowAll, PolicyFilterUnknown, PolicyWarnUnknown, PolicyRejectUnknown} {
			e, err := New(p)
			require.NoError(t, err)
			assert.Equal(t, p, e.Policy())
		}
	})
	t.Run("Should reject unknown policies", func(t *testing.T) {
		_, err := New("drop_all")
		assert.Equal(t, core.CodeValidation, core.CodeOf(err))
	})
}

func TestEngine_Plan(t *testing.T) {
	known := []string{"urgent", "work", "home"}

	t.Run("Should create missing tags under allow_all", func(t *testing.T) {
		e, _ := New(PolicyAllowAll)
		plan, err := e.Plan([]string{"urgent", "errands"}, known)
		require.NoError(t, err)
		assert.Equal(t, []string{"urgent"}, plan.Existing)
		assert.Equal(t, []string{"errands"}, plan.Created)
		assert.Equal(t, []string{"urgent", "errands"}, plan.Apply)
		assert.Empty(t, plan.Warnings)
	})
	t.Run("Should drop missing tags silently under filter_unknown", func(t *testing.T) {
		e, _ := New(PolicyFilterUnknown)
		plan, err := e.Plan([]string{"urgent", "errands"}, known)
		require.NoError(t, err)
		assert.Equal(t, []string{"urgent"}, plan.Apply)
		assert.Equal(t, []string{"errands"}, plan.Filtered)
		assert.Empty(t, plan.Warnings)
	})
	t.Run("Should drop and warn under warn_unknown", func(t *testing.T) {
		e, _ := New(PolicyWarnUnknown)
		plan, err := e.Plan([]string{"errands"}, known)
		require.NoError(t, err)
		assert.Empty(t, plan.Apply)
		require.Len(t, plan.Warnings, 1)
		assert.Contains(t, plan.Warnings[0], `"errands"`)
	})
	t.Run("Should fail the write under reject_unknown", func(t *testing.T) {
		e, _ := New(PolicyRejectUnknown)
		_, err := e.Plan([]string{"urgnet"}, known)
		require.Error(t, err)
		assert.Equal(t, core.CodeUnknownTag, core.CodeOf(err))
		var te *core.Error
		require.ErrorAs(t, err, &te)
		require.NotEmpty(t, te.Hints)
		assert.Contains(t, te.Hints[0], `"urgnet"`)
		assert.Contains(t, te.Hints[0], "did you mean urgent")
	})
	t.Run("Should pass a fully known set under reject_unknown", func(t *testing.T) {
		e, _ := New(PolicyRejectUnknown)
		plan, err := e.Plan([]string{"urgent", "work"}, known)
		require.NoError(t, err)
		assert.Equal(t, []string{"urgent", "work"}, plan.Apply)
	})
	t.Run("Should match case-sensitively", func(t *testing.T) {
		e, _ := New(PolicyFilterUnknown)
		plan, err := e.Plan([]string{"Urgent"}, known)
		require.NoError(t, err)
		assert.Empty(t, plan.Existing)
		assert.Equal(t, []string{"Urgent"}, plan.Filtered)
	})
}

func TestEngine_suggest(t *testing.T) {
	e, _ := New(PolicyRejectUnknown)
	t.Run("Should rank by edit distance and cap at three", func(t *testing.T) {
		got := e.suggest("work", []string{"work1", "worked", "workx", "worky", "home"})
		assert.Len(t, got, 3)
		assert.Equal(t, "work1", got[0])
	})
	t.Run("Should omit far-away names", func(t *testing.T) {
		assert.Empty(t, e.suggest("ab", []string{"completely-different"}))
	})
}

func TestLevenshtein(t *testing.T) {
	t.Run("Should compute edit distance over runes", func(t *testing.T) {
		assert.Equal(t, 0, levenshtein("tag", "tag"))
		assert.Equal(t, 1, levenshtein("tag", "tags"))
		assert.Equal(t, 2, levenshtein("urgnet", "urgent"))
		assert.Equal(t, 3, levenshtein("", "abc"))
		assert.Equal(t, 1, levenshtein("café", "cafe"))
	})
}
