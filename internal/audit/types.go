// Package audit records one entry per decision. Writes are fire-and-forget
// from the engine's point of view.
package audit

import (
	"context"
	"time"
)

// #region entry
// Entry is one audited decision.
type Entry struct {
	DecisionID   string    `json:"decision_id"`
	RequestID    string    `json:"request_id"`
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id,omitempty"`
	PersonaID    string    `json:"persona_id,omitempty"`
	DecisionType string    `json:"decision_type"` // "RECOMMEND" | "ESCALATE"
	ActionID     string    `json:"action_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Score        float64   `json:"score"`
	Risk         string    `json:"risk,omitempty"`
	Confidence   float64   `json:"confidence"`
	RequestJSON  string    `json:"request_json,omitempty"` // original request, for replay
	PayloadJSON  string    `json:"payload_json,omitempty"` // full response
	CreatedAt    time.Time `json:"created_at"`
}

// #endregion entry

// #region sink
// Sink persists audit entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

// Discard drops every entry.
var Discard Sink = SinkFunc(func(context.Context, Entry) error { return nil })

// #endregion sink
