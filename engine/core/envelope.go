package core

import (
	"encoding/json"
	"errors"
)

// Meta carries response-shaping and scheduling observability fields.
type Meta struct {
	Mode        string  `json:"mode,omitempty"`
	MethodUsed  string  `json:"method_used,omitempty"`
	Reliability float64 `json:"reliability,omitempty"`
	Truncated   bool    `json:"truncated,omitempty"`
	NextCursor  string  `json:"next_cursor,omitempty"`
}

// Envelope is the uniform result of every operation. No raw backend error
// ever crosses this boundary.
type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorCode ErrorCode `json:"error_code,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	Hints     []string  `json:"hints,omitempty"`
	Meta      *Meta     `json:"meta,omitempty"`
}

// MarshalJSON keeps "data" present whenever it was set, including empty
// lists: limit=0 must serialize as data:[] rather than dropping the field.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	type alias Envelope
	m := make(map[string]any)
	b, err := json.Marshal((*alias)(e))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if e.Data != nil {
		m["data"] = e.Data
	}
	return json.Marshal(m)
}

// OK returns a success Envelope with the given payload.
func OK(data any) *Envelope {
	return &Envelope{Success: true, Data: data}
}

// OKMessage returns a success Envelope with a short human message.
func OKMessage(data any, msg string) *Envelope {
	return &Envelope{Success: true, Data: data, Message: msg}
}

// Fail converts an error into a failure Envelope, mapping it through the
// taxonomy and surfacing structured hints when present.
func Fail(err error) *Envelope {
	env := &Envelope{
		Success:   false,
		Error:     UserMessage(err),
		ErrorCode: CodeOf(err),
	}
	var be *Error
	if errors.As(err, &be) {
		env.Hints = be.Hints
	}
	return env
}

// WithMeta attaches meta, creating it when absent.
func (e *Envelope) WithMeta(fn func(m *Meta)) *Envelope {
	if e.Meta == nil {
		e.Meta = &Meta{}
	}
	fn(e.Meta)
	return e
}

// AddWarning appends a user-visible warning.
func (e *Envelope) AddWarning(w string) *Envelope {
	e.Warnings = append(e.Warnings, w)
	return e
}
