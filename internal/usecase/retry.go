package usecase

import (
	"context"
	"log/slog"

	"comet-auto/internal/adapter/browser"
)

// maxRetryAttempts bounds how many times one ask will click the page's retry
// control before reporting Skipped.
const maxRetryAttempts = 2

// RetryCoordinator decides whether a skipped reply is worth one more attempt
// via the page's own retry control, and performs the click.
type RetryCoordinator struct {
	backend browser.Backend
	logger  *slog.Logger
}

func NewRetryCoordinator(backend browser.Backend, logger *slog.Logger) *RetryCoordinator {
	return &RetryCoordinator{backend: backend, logger: logger}
}

// ShouldRetry reports whether the retry control in snap corresponds to the
// prompt this ask submitted. A conversation that has grown by more than one
// user turn since the baseline belongs to someone else's interaction, and
// clicking retry there would regenerate the wrong exchange.
func (r *RetryCoordinator) ShouldRetry(snap, baseline ResponseSnapshot, attempt int) bool {
	if attempt >= maxRetryAttempts {
		return false
	}
	if !snap.RetryVisible {
		return false
	}
	if snap.UserTurns > baseline.UserTurns+1 {
		r.logger.Warn("retry control belongs to a different exchange, not clicking",
			"user_turns", snap.UserTurns, "baseline_turns", baseline.UserTurns)
		return false
	}
	return true
}

// ClickRetry clicks the visible retry control. It reports false when the
// control vanished between the decision and the click.
func (r *RetryCoordinator) ClickRetry(ctx context.Context) (bool, error) {
	var res okResult
	if err := r.backend.Evaluate(ctx, clickRetryJS, &res); err != nil {
		return false, err
	}
	return res.OK, nil
}
