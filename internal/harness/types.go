package harness

import (
	"time"

	"github.com/arcbond/bondengine/internal/engine"
)

// TraceEvent is one executed operation. Failed operations appear too, with
// the error code in place of seq and result.
type TraceEvent struct {
	Seq    int64             `json:"seq,omitempty"`
	Op     string            `json:"op"`
	Caller string            `json:"caller"`
	Holder string            `json:"holder,omitempty"`
	Amount string            `json:"amount,omitempty"`
	Flag   bool              `json:"flag,omitempty"`
	At     time.Time         `json:"at"`
	Result map[string]string `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// toCanonicalMap converts the event for canonical JSON serialization.
func (e TraceEvent) toCanonicalMap() map[string]any {
	m := map[string]any{
		"op":     e.Op,
		"caller": e.Caller,
		"at":     e.At.UTC().Format(time.RFC3339),
	}
	if e.Seq != 0 {
		m["seq"] = e.Seq
	}
	if e.Holder != "" {
		m["holder"] = e.Holder
	}
	if e.Amount != "" {
		m["amount"] = e.Amount
	}
	if e.Flag {
		m["flag"] = true
	}
	if e.Result != nil {
		m["result"] = e.Result
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause, invariant check and assertion held.
	Pass bool `json:"pass"`

	// Trace lists every attempted operation in order.
	Trace []TraceEvent `json:"trace"`

	// Errors explains each failure. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Params are the series parameters the scenario ran with.
	Params engine.Params `json:"-"`

	// Engine is the series after the last step, for callers that want to
	// inspect or persist it.
	Engine *engine.Engine `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
