package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"comet-auto/internal/adapter/browser"
	"comet-auto/internal/domain"
	"comet-auto/internal/infra/config"
	"comet-auto/internal/infra/tracer"
)

// completionMarker trails a finished response so line-oriented consumers can
// split the response from whatever follows. It is emitted exactly once per
// completed ask and never for any other outcome.
const completionMarker = "===COMPLETED===\n"

// TabLocator finds and attaches the chat tab. *browser.Locator implements it.
type TabLocator interface {
	Locate(ctx context.Context, pageURL string, autoNavigate bool) (string, error)
}

// Session owns one attached chat tab and serializes asks against it. The
// page has a single compose area, so concurrent asks cannot be multiplexed;
// a second Ask while one is in flight fails fast with ErrBusy.
type Session struct {
	locator   TabLocator
	submitter *Submitter
	detector  *Detector
	retry     *RetryCoordinator
	clock     Clock
	cfg       config.EngineConfig
	pageURL   string
	output    io.Writer
	logger    *slog.Logger

	inFlight atomic.Bool
	located  atomic.Bool
}

// NewSession wires the engine over an established browser connection. output
// receives the response text and the completion sentinel; pass io.Discard
// when the caller consumes the Outcome programmatically.
func NewSession(backend browser.Backend, locator TabLocator, clock Clock, cfg config.EngineConfig, pageURL string, output io.Writer, logger *slog.Logger) *Session {
	return &Session{
		locator:   locator,
		submitter: NewSubmitter(backend, clock, pageURL, cfg.PollInterval, cfg.SubmitGrace, logger),
		detector:  NewDetector(backend, clock, cfg.PollInterval, cfg.StabilityWindow, logger),
		retry:     NewRetryCoordinator(backend, logger),
		clock:     clock,
		cfg:       cfg,
		pageURL:   pageURL,
		output:    output,
		logger:    logger,
	}
}

// Ask submits one prompt and blocks until a terminal outcome. Terminal page
// verdicts (Completed, Skipped, Disconnected, TimedOut) come back as an
// Outcome; failures to even reach a verdict (busy session, invalid request,
// tab location, submission) come back as an error.
func (s *Session) Ask(ctx context.Context, req domain.PromptRequest) (domain.Outcome, error) {
	if err := req.Validate(); err != nil {
		return domain.Outcome{}, err
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		return domain.Outcome{}, domain.NewDomainError("Session.Ask", domain.ErrBusy, "an ask is already in flight")
	}
	defer s.inFlight.Store(false)

	askID := newAskID(s.clock)
	log := s.logger.With("ask_id", askID)

	ctx, span := tracer.StartSpan(ctx, "session.ask")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("ask.id", askID),
		tracer.IntAttr("ask.prompt_len", len(req.Prompt)),
	)

	start := s.clock.Now()
	outcome, err := s.run(ctx, log, req, start)
	outcome.Elapsed = s.clock.Now().Sub(start)

	switch {
	case err != nil:
		tracer.RecordError(span, err)
		return domain.Outcome{}, err
	case outcome.Completed():
		tracer.SetOK(span)
	default:
		span.SetAttributes(tracer.StringAttr("ask.outcome", string(outcome.Kind)))
	}

	log.Info("ask finished", "outcome", outcome.Kind, "elapsed", outcome.Elapsed)
	return outcome, nil
}

func (s *Session) run(ctx context.Context, log *slog.Logger, req domain.PromptRequest, start time.Time) (domain.Outcome, error) {
	// Attach lazily and re-locate when the previous ask lost the tab, so a
	// closed tab heals on the next call instead of poisoning the session.
	if !s.located.Load() {
		if _, err := s.locator.Locate(ctx, s.pageURL, true); err != nil {
			return domain.Outcome{}, err
		}
		s.located.Store(true)
	}

	deadline := start.Add(req.Timeout)

	baseline, err := s.submitter.Submit(ctx, req.Prompt, req.NewChat)
	if err != nil {
		if errors.Is(err, domain.ErrConnectionLost) {
			s.located.Store(false)
			return disconnectedOutcome(err), nil
		}
		return domain.Outcome{}, err
	}
	log.Debug("prompt submitted", "baseline_turns", baseline.UserTurns)

	for attempt := 0; ; attempt++ {
		det, err := s.detector.Wait(ctx, baseline, deadline)
		if err != nil {
			return domain.Outcome{}, err
		}

		switch det.State {
		case StateCompleted:
			s.emitCompleted(log, det.Text)
			return domain.Outcome{Kind: domain.OutcomeCompleted, Text: det.Text}, nil

		case StateSkipped:
			if s.retry.ShouldRetry(det.Last, baseline, attempt) {
				clicked, err := s.retry.ClickRetry(ctx)
				if err != nil {
					if errors.Is(err, domain.ErrConnectionLost) {
						s.located.Store(false)
						return disconnectedOutcome(err), nil
					}
					return domain.Outcome{}, err
				}
				if clicked {
					log.Info("reply skipped, clicked retry", "attempt", attempt+1)
					continue
				}
			}
			return domain.Outcome{
				Kind:   domain.OutcomeSkipped,
				Reason: det.Reason,
				Err:    domain.NewDomainError("Session.Ask", domain.ErrSkipped, det.Reason),
			}, nil

		case StateDisconnected:
			s.located.Store(false)
			return domain.Outcome{
				Kind:   domain.OutcomeDisconnected,
				Reason: det.Reason,
				Err:    domain.NewDomainError("Session.Ask", domain.ErrConnectionLost, det.Reason),
			}, nil

		case StateTimedOut:
			return domain.Outcome{
				Kind:   domain.OutcomeTimedOut,
				Reason: "no stable reply before the deadline",
				Err:    domain.NewDomainError("Session.Ask", domain.ErrTimeout, "no stable reply before the deadline"),
			}, nil

		default:
			return domain.Outcome{}, domain.WrapOp("Session.Ask",
				errors.New("detector returned non-terminal state "+string(det.State)))
		}
	}
}

// emitCompleted writes the response text followed by the completion
// sentinel, once.
func (s *Session) emitCompleted(log *slog.Logger, text string) {
	if s.output == nil {
		return
	}
	if _, err := io.WriteString(s.output, text+"\n"+completionMarker); err != nil {
		log.Warn("failed to write completion output", "error", err)
	}
}

func disconnectedOutcome(err error) domain.Outcome {
	return domain.Outcome{
		Kind:   domain.OutcomeDisconnected,
		Reason: err.Error(),
		Err:    err,
	}
}

// newAskID mints a sortable correlation ID for one ask.
func newAskID(clock Clock) string {
	now := clock.Now()
	entropy := rand.New(rand.NewSource(now.UnixNano()))
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
