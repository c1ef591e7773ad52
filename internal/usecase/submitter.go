package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"comet-auto/internal/adapter/browser"
	"comet-auto/internal/domain"
)

// okResult is the shape every mutation script returns.
type okResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// Submitter writes a prompt into the page's compose area and triggers send.
type Submitter struct {
	backend  browser.Backend
	clock    Clock
	pageURL  string
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
}

// NewSubmitter creates a Submitter. grace bounds how long it waits for the
// page to show any reaction after triggering send.
func NewSubmitter(backend browser.Backend, clock Clock, pageURL string, interval, grace time.Duration, logger *slog.Logger) *Submitter {
	return &Submitter{
		backend:  backend,
		clock:    clock,
		pageURL:  pageURL,
		interval: interval,
		grace:    grace,
		logger:   logger,
	}
}

// Submit performs the full prompt submission: optional conversation reset,
// prompt write, send trigger, and a grace-window check that the page reacted
// at all. It returns the pre-submission snapshot the detector needs as its
// baseline.
func (s *Submitter) Submit(ctx context.Context, prompt string, newChat bool) (ResponseSnapshot, error) {
	if newChat {
		if err := s.resetConversation(ctx); err != nil {
			return ResponseSnapshot{}, err
		}
	}

	baseline, err := takeSnapshot(ctx, s.backend, s.clock)
	if err != nil {
		return ResponseSnapshot{}, err
	}

	if err := s.writePrompt(ctx, prompt); err != nil {
		return ResponseSnapshot{}, err
	}

	if err := s.triggerSend(ctx); err != nil {
		return ResponseSnapshot{}, err
	}

	// Grace window: if the page shows no reaction, the Enter likely missed;
	// try the send button once, then give up with SubmitFailed.
	reacted, err := s.awaitReaction(ctx, baseline, s.grace)
	if err != nil {
		return ResponseSnapshot{}, err
	}
	if !reacted {
		s.logger.Debug("no page reaction after send, clicking send button")
		var res okResult
		if err := s.backend.Evaluate(ctx, clickSendJS, &res); err != nil {
			return ResponseSnapshot{}, err
		}
		if !res.OK {
			return ResponseSnapshot{}, domain.NewDomainError("Submitter.Submit",
				domain.ErrSubmitFailed, "no send affordance found")
		}
		reacted, err = s.awaitReaction(ctx, baseline, s.grace)
		if err != nil {
			return ResponseSnapshot{}, err
		}
		if !reacted {
			return ResponseSnapshot{}, domain.NewDomainError("Submitter.Submit",
				domain.ErrSubmitFailed, "page showed no activity after send")
		}
	}

	return baseline, nil
}

// resetConversation returns the page to a fresh conversation and confirms
// the compose area is empty, so the prompt cannot land in a stale exchange.
func (s *Submitter) resetConversation(ctx context.Context) error {
	if err := s.backend.Navigate(ctx, s.pageURL); err != nil {
		return err
	}

	var res struct {
		Empty bool `json:"empty"`
	}
	if err := s.backend.Evaluate(ctx, clearComposeJS, &res); err != nil {
		return err
	}
	if !res.Empty {
		return domain.NewDomainError("Submitter.Submit",
			domain.ErrSubmitFailed, "compose area not empty after conversation reset")
	}
	return nil
}

func (s *Submitter) writePrompt(ctx context.Context, prompt string) error {
	encoded, err := json.Marshal(normalizePrompt(prompt))
	if err != nil {
		return domain.WrapOp("Submitter.Submit", err)
	}

	var res okResult
	if err := s.backend.Evaluate(ctx, fmt.Sprintf(writePromptJSTemplate, encoded), &res); err != nil {
		return err
	}
	if !res.OK {
		detail := "compose area rejected the prompt"
		if res.Reason != "" {
			detail = res.Reason
		}
		return domain.NewDomainError("Submitter.Submit", domain.ErrSubmitFailed, detail)
	}
	return nil
}

func (s *Submitter) triggerSend(ctx context.Context) error {
	var res okResult
	if err := s.backend.Evaluate(ctx, pressEnterJS, &res); err != nil {
		return err
	}
	if !res.OK {
		return domain.NewDomainError("Submitter.Submit", domain.ErrSubmitFailed, "compose area disappeared before send")
	}
	return nil
}

// awaitReaction polls until the page shows any change relative to baseline:
// new text, a stop control, a new user turn, or the compose area clearing.
func (s *Submitter) awaitReaction(ctx context.Context, baseline ResponseSnapshot, window time.Duration) (bool, error) {
	deadline := s.clock.Now().Add(window)
	for s.clock.Now().Before(deadline) {
		snap, err := takeSnapshot(ctx, s.backend, s.clock)
		if err == nil {
			if snap.changedSince(baseline) {
				return true, nil
			}
			if !baseline.ComposeEmpty && snap.ComposeEmpty {
				return true, nil
			}
		} else if isFatal(err) {
			return false, err
		}

		if err := s.clock.Sleep(ctx, s.interval); err != nil {
			return false, err
		}
	}
	return false, nil
}

// isFatal reports whether a probe error should abort the submission rather
// than be absorbed as a transient page hiccup.
func isFatal(err error) bool {
	return errors.Is(err, domain.ErrConnectionLost)
}

// normalizePrompt collapses bullet markers and newlines so multi-line prompts
// survive the single-line compose area intact.
func normalizePrompt(p string) string {
	p = strings.TrimSpace(p)
	var lines []string
	for _, line := range strings.Split(p, "\n") {
		line = strings.TrimRight(strings.TrimLeft(line, "-*• "), " \t")
		lines = append(lines, line)
	}
	return strings.Join(strings.Fields(strings.Join(lines, "\n")), " ")
}
