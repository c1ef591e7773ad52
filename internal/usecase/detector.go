package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"comet-auto/internal/adapter/browser"
	"comet-auto/internal/domain"
)

// State is a completion-detector state. Idle, Submitted and Streaming are
// transient; the rest are terminal.
type State string

const (
	StateIdle         State = "idle"
	StateSubmitted    State = "submitted"
	StateStreaming    State = "streaming"
	StateCompleted    State = "completed"
	StateSkipped      State = "skipped"
	StateDisconnected State = "disconnected"
	StateTimedOut     State = "timed_out"
)

// Terminal reports whether the state ends an ask attempt.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateSkipped, StateDisconnected, StateTimedOut:
		return true
	}
	return false
}

// Detection is the detector's terminal verdict for one attempt.
type Detection struct {
	State  State
	Text   string           // final stable response text (Completed only)
	Reason string           // detail for Skipped/Disconnected
	Last   ResponseSnapshot // snapshot that produced the verdict
}

// Detector infers completion of the assistant's reply purely from polled page
// state. Neither signal alone is trustworthy: response text can pause
// mid-stream during a network hiccup, and the stop control can flicker, so
// Completed requires the stability window AND an absent stop control.
type Detector struct {
	backend  browser.Backend
	clock    Clock
	interval time.Duration
	window   int
	logger   *slog.Logger
}

// NewDetector creates a Detector. window is the number of consecutive
// byte-identical response reads required before the reply counts as settled.
func NewDetector(backend browser.Backend, clock Clock, interval time.Duration, window int, logger *slog.Logger) *Detector {
	if window < 1 {
		window = 1
	}
	return &Detector{
		backend:  backend,
		clock:    clock,
		interval: interval,
		window:   window,
		logger:   logger,
	}
}

// Wait polls the page from the Submitted state until a terminal state or the
// deadline. baseline is the pre-submission snapshot; text is compared against
// it to tell a fresh reply from leftovers of the previous exchange.
//
// The returned error is non-nil only when ctx was cancelled externally;
// deadline expiry is reported as StateTimedOut.
func (d *Detector) Wait(ctx context.Context, baseline ResponseSnapshot, deadline time.Time) (Detection, error) {
	state := StateSubmitted
	stable := 0
	var prev ResponseSnapshot
	seen := false

	for {
		if !d.clock.Now().Before(deadline) {
			return Detection{State: StateTimedOut, Last: prev}, nil
		}

		snap, err := takeSnapshot(ctx, d.backend, d.clock)
		switch {
		case err == nil:
			if det, ok := d.step(&state, &stable, &prev, &seen, baseline, snap); ok {
				return det, nil
			}

		case errors.Is(err, domain.ErrConnectionLost):
			return Detection{State: StateDisconnected, Reason: err.Error(), Last: prev}, nil

		default:
			// A script failure on a single poll is indistinguishable from a
			// page mid-mutation; absorb it and poll again. Persistent
			// failures run into the deadline.
			d.logger.Warn("status probe failed, will re-poll", "error", err)
		}

		if err := d.clock.Sleep(ctx, d.interval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return Detection{State: StateTimedOut, Last: prev}, nil
			}
			return Detection{}, err
		}
	}
}

// step applies one snapshot to the state machine. It returns a terminal
// Detection when one is reached.
func (d *Detector) step(state *State, stable *int, prev *ResponseSnapshot, seen *bool, baseline, snap ResponseSnapshot) (Detection, bool) {
	// A visible retry control while the response region is empty or
	// unchanged means the page silently declined to answer.
	if snap.RetryVisible && (snap.Text == "" || snap.Text == baseline.Text) {
		d.logger.Debug("retry control with no fresh text, treating as skipped")
		return Detection{
			State:  StateSkipped,
			Reason: "page offered retry without producing an answer",
			Last:   snap,
		}, true
	}

	if *state == StateSubmitted {
		if snap.Text != baseline.Text || snap.StopVisible {
			*state = StateStreaming
			d.logger.Debug("reply streaming", "stop_visible", snap.StopVisible)
		}
	}

	if *state == StateStreaming {
		if *seen && snap.Text == prev.Text {
			*stable++
		} else {
			*stable = 1
		}

		if *stable >= d.window && !snap.StopVisible && snap.Text != "" && snap.Text != baseline.Text {
			d.logger.Debug("reply stable with stop control absent", "stable_polls", *stable)
			return Detection{State: StateCompleted, Text: snap.Text, Last: snap}, true
		}
	}

	*prev = snap
	*seen = true
	return Detection{}, false
}
