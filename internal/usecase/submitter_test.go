package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comet-auto/internal/domain"
)

const testPageURL = "https://www.perplexity.ai"

func newTestSubmitter(t *testing.T, b *scriptedBackend, clock Clock) *Submitter {
	t.Helper()
	return NewSubmitter(b, clock, testPageURL, time.Second, 3*time.Second, testLogger(t))
}

func TestSubmitReturnsBaselineOnReaction(t *testing.T) {
	clock := newFakeClock()
	backend := newScriptedBackend(
		probeStep{snap: ResponseSnapshot{Text: "previous reply", UserTurns: 1}},
		probeStep{snap: ResponseSnapshot{Text: "previous reply", UserTurns: 2, StopVisible: true}},
	)
	s := newTestSubmitter(t, backend, clock)

	baseline, err := s.Submit(context.Background(), "what is 2+2", false)
	require.NoError(t, err)
	assert.Equal(t, "previous reply", baseline.Text)
	assert.Equal(t, 1, baseline.UserTurns)
	assert.Equal(t, 1, backend.writeCalls)
	assert.Equal(t, 1, backend.enterCalls)
	assert.Zero(t, backend.sendCalls, "send button must not be clicked when Enter works")
}

func TestSubmitFallsBackToSendButton(t *testing.T) {
	// No reaction inside the grace window after Enter, then the page reacts
	// once the send button is clicked. Grace is 3s at 1s polls, so the first
	// window consumes three identical probes.
	clock := newFakeClock()
	idle := ResponseSnapshot{Text: "", UserTurns: 0}
	backend := newScriptedBackend(
		probeStep{snap: idle}, // baseline
		probeStep{snap: idle},
		probeStep{snap: idle},
		probeStep{snap: idle},
		probeStep{snap: ResponseSnapshot{Text: "", UserTurns: 1}},
	)
	s := newTestSubmitter(t, backend, clock)

	_, err := s.Submit(context.Background(), "hello", false)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.sendCalls)
	assert.Equal(t, 1, backend.enterCalls)
}

func TestSubmitFailsWhenPageNeverReacts(t *testing.T) {
	clock := newFakeClock()
	backend := newScriptedBackend(
		probeStep{snap: ResponseSnapshot{}},
	)
	s := newTestSubmitter(t, backend, clock)

	_, err := s.Submit(context.Background(), "hello", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubmitFailed)
	assert.Equal(t, 1, backend.sendCalls)
}

func TestSubmitFailsWhenPromptWriteRejected(t *testing.T) {
	clock := newFakeClock()
	backend := newScriptedBackend(probeStep{snap: ResponseSnapshot{}})
	backend.writeOK = false
	s := newTestSubmitter(t, backend, clock)

	_, err := s.Submit(context.Background(), "hello", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubmitFailed)
	assert.Zero(t, backend.enterCalls, "must not send a prompt that was never written")
}

func TestSubmitNewChatNavigatesAndClears(t *testing.T) {
	clock := newFakeClock()
	backend := newScriptedBackend(
		probeStep{snap: ResponseSnapshot{ComposeEmpty: true}},
		probeStep{snap: ResponseSnapshot{ComposeEmpty: true, UserTurns: 1}},
	)
	s := newTestSubmitter(t, backend, clock)

	_, err := s.Submit(context.Background(), "fresh question", true)
	require.NoError(t, err)
	assert.Equal(t, []string{testPageURL}, backend.navigations)
	assert.Equal(t, 1, backend.clearCalls)
}

func TestSubmitNewChatFailsWhenComposeNotClearable(t *testing.T) {
	clock := newFakeClock()
	backend := newScriptedBackend(probeStep{snap: ResponseSnapshot{}})
	backend.clearEmpty = false
	s := newTestSubmitter(t, backend, clock)

	_, err := s.Submit(context.Background(), "fresh question", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubmitFailed)
	assert.Zero(t, backend.writeCalls)
}

func TestSubmitAbortsOnConnectionLoss(t *testing.T) {
	clock := newFakeClock()
	backend := newScriptedBackend(
		probeStep{snap: ResponseSnapshot{}},
		probeStep{err: domain.NewDomainError("Backend.Evaluate", domain.ErrConnectionLost, "target closed")},
	)
	s := newTestSubmitter(t, backend, clock)

	_, err := s.Submit(context.Background(), "hello", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectionLost)
}

func TestSubmitDetectsComposeClearingAsReaction(t *testing.T) {
	// Some page states clear the compose area before any response text or
	// stop control shows up; that alone proves the prompt went through.
	clock := newFakeClock()
	backend := newScriptedBackend(
		probeStep{snap: ResponseSnapshot{ComposeEmpty: false}},
		probeStep{snap: ResponseSnapshot{ComposeEmpty: true}},
	)
	s := newTestSubmitter(t, backend, clock)

	_, err := s.Submit(context.Background(), "hello", false)
	require.NoError(t, err)
	assert.Zero(t, backend.sendCalls)
}

func TestNormalizePrompt(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "what is 2+2", "what is 2+2"},
		{"bullets collapse", "- first point\n- second point", "first point second point"},
		{"newlines collapse", "line one\nline two", "line one line two"},
		{"whitespace collapse", "  spaced\t\tout  ", "spaced out"},
		{"star bullets", "* a\n* b", "a b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizePrompt(tc.in))
		})
	}
}
