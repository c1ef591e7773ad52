package usecase

import (
	"context"
	"time"

	"comet-auto/internal/adapter/browser"
)

// ResponseSnapshot is one poll's worth of observed page state. Only the
// immediately-previous snapshot is ever kept, for stability comparison.
type ResponseSnapshot struct {
	// Text is the last-observed response text.
	Text string `json:"text"`
	// StopVisible reports a visible stop/generating control.
	StopVisible bool `json:"stopVisible"`
	// RetryVisible reports a visible retry/regenerate control.
	RetryVisible bool `json:"retryVisible"`
	// UserTurns counts user messages in the conversation, used to verify a
	// retry control corresponds to the prompt this ask submitted.
	UserTurns int `json:"userTurns"`
	// ComposeEmpty reports an empty compose area.
	ComposeEmpty bool `json:"composeEmpty"`
	// ObservedAt is when this snapshot was taken, from the engine clock.
	ObservedAt time.Time `json:"-"`
}

// takeSnapshot runs the status probe in the page and stamps the result.
func takeSnapshot(ctx context.Context, backend browser.Backend, clock Clock) (ResponseSnapshot, error) {
	var snap ResponseSnapshot
	if err := backend.Evaluate(ctx, statusProbeJS, &snap); err != nil {
		return ResponseSnapshot{}, err
	}
	snap.ObservedAt = clock.Now()
	return snap, nil
}

// changedSince reports whether the page shows any activity relative to the
// pre-submission baseline.
func (s ResponseSnapshot) changedSince(baseline ResponseSnapshot) bool {
	return s.Text != baseline.Text || s.StopVisible || s.UserTurns > baseline.UserTurns
}
