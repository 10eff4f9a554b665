package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_MarshalJSON(t *testing.T) {
	t.Run("Should keep an empty data list in the output", func(t *testing.T) {
		b, err := json.Marshal(OK([]Todo{}))
		require.NoError(t, err)
		assert.Contains(t, string(b), `"data":[]`)
	})
	t.Run("Should omit data when never set", func(t *testing.T) {
		b, err := json.Marshal(&Envelope{Success: true, Message: "queued"})
		require.NoError(t, err)
		assert.NotContains(t, string(b), `"data"`)
	})
	t.Run("Should omit empty meta fields", func(t *testing.T) {
		env := OK([]Todo{}).WithMeta(func(m *Meta) { m.Mode = "standard" })
		b, err := json.Marshal(env)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"mode":"standard"`)
		assert.NotContains(t, string(b), "next_cursor")
	})
}

func TestFail(t *testing.T) {
	t.Run("Should map typed errors onto code and message", func(t *testing.T) {
		env := Fail(NewFieldError("limit", "must not exceed 500"))
		assert.False(t, env.Success)
		assert.Equal(t, CodeValidation, env.ErrorCode)
		assert.Equal(t, "limit: must not exceed 500", env.Error)
	})
	t.Run("Should surface structured hints", func(t *testing.T) {
		env := Fail(NewError(CodeUnknownTag, `unknown tag "urgnet"`).WithHints(`"urgnet": did you mean "urgent"?`))
		assert.Equal(t, []string{`"urgnet": did you mean "urgent"?`}, env.Hints)
	})
	t.Run("Should never leak raw backend detail", func(t *testing.T) {
		env := Fail(errors.New("osascript: dyld crash at 0xdeadbeef"))
		assert.Equal(t, CodeInternal, env.ErrorCode)
		assert.Equal(t, "internal error", env.Error)
	})
}

func TestErrorHelpers(t *testing.T) {
	t.Run("Should classify wrapped errors by their code", func(t *testing.T) {
		err := WrapError(CodeBackendTimeout, "script timed out", errors.New("signal: killed"))
		assert.Equal(t, CodeBackendTimeout, CodeOf(err))
		assert.True(t, IsTransient(err))
	})
	t.Run("Should treat only timeout and unavailable as transient", func(t *testing.T) {
		assert.True(t, IsTransient(NewError(CodeBackendUnavailable, "not running")))
		assert.False(t, IsTransient(NewError(CodeBackendError, "script failed")))
		assert.False(t, IsTransient(NewError(CodeValidation, "bad input")))
	})
	t.Run("Should unwrap to the cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := WrapError(CodeInternal, "wrapped", cause)
		assert.ErrorIs(t, err, cause)
	})
}
