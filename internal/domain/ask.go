package domain

import (
	"strings"
	"time"
)

// DefaultAskTimeout bounds an ask call when the request does not set one.
const DefaultAskTimeout = 120 * time.Second

// PromptRequest describes a single prompt to submit to the chat page.
type PromptRequest struct {
	// Prompt is the user prompt text. Must be non-empty after trimming.
	Prompt string
	// NewChat resets the conversation context before sending, so the prompt
	// is not appended to a stale exchange.
	NewChat bool
	// Timeout is the hard ceiling on the whole ask, retries included.
	// Zero means DefaultAskTimeout.
	Timeout time.Duration
	// Debug enables verbose diagnostics. It has no behavioral effect.
	Debug bool
}

// Validate normalizes and checks the request.
func (r *PromptRequest) Validate() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return NewDomainError("PromptRequest.Validate", ErrInvalidInput, "prompt is empty")
	}
	if r.Timeout < 0 {
		return NewDomainError("PromptRequest.Validate", ErrInvalidInput, "timeout is negative")
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultAskTimeout
	}
	return nil
}

// OutcomeKind classifies how an ask call terminated.
type OutcomeKind string

const (
	OutcomeCompleted    OutcomeKind = "completed"
	OutcomeSkipped      OutcomeKind = "skipped"
	OutcomeDisconnected OutcomeKind = "disconnected"
	OutcomeTimedOut     OutcomeKind = "timed_out"
)

// Outcome is the terminal result of one ask call. Exactly one Outcome is
// produced per call; Text is populated only for OutcomeCompleted.
type Outcome struct {
	Kind    OutcomeKind
	Text    string        // final stable response text (Completed only)
	Reason  string        // human-readable detail for non-completed outcomes
	Err     error         // typed error matching Kind (nil for Completed)
	Elapsed time.Duration // wall time spent in the ask call
}

// Completed reports whether the outcome carries a finished response.
func (o Outcome) Completed() bool { return o.Kind == OutcomeCompleted }

// Status renders the single-line human-readable status for this outcome.
func (o Outcome) Status() string {
	switch o.Kind {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		if o.Reason != "" {
			return "skipped: " + o.Reason
		}
		return "skipped"
	case OutcomeDisconnected:
		if o.Reason != "" {
			return "disconnected: " + o.Reason
		}
		return "disconnected"
	case OutcomeTimedOut:
		return "timed out"
	default:
		return string(o.Kind)
	}
}
