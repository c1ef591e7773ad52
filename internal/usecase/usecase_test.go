package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock advances instantly on Sleep so poll loops run without waiting.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// probeStep is one scripted status-probe result.
type probeStep struct {
	snap ResponseSnapshot
	err  error
}

// scriptedBackend plays back a fixed sequence of status-probe results and
// records every page mutation the engine attempts. Once the sequence is
// exhausted the last step repeats.
type scriptedBackend struct {
	mu    sync.Mutex
	steps []probeStep
	idx   int

	writeOK    bool
	enterOK    bool
	sendOK     bool
	retryOK    bool
	clearEmpty bool

	probeCalls  int
	writeCalls  int
	enterCalls  int
	sendCalls   int
	retryCalls  int
	clearCalls  int
	navigations []string
	lastPrompt  string
}

func newScriptedBackend(steps ...probeStep) *scriptedBackend {
	return &scriptedBackend{
		steps:      steps,
		writeOK:    true,
		enterOK:    true,
		sendOK:     true,
		retryOK:    true,
		clearEmpty: true,
	}
}

func (b *scriptedBackend) Evaluate(_ context.Context, expr string, out any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case expr == statusProbeJS:
		b.probeCalls++
		if len(b.steps) == 0 {
			return fmt.Errorf("scriptedBackend: no probe steps configured")
		}
		step := b.steps[b.idx]
		if b.idx < len(b.steps)-1 {
			b.idx++
		}
		if step.err != nil {
			return step.err
		}
		return setJSON(out, step.snap)

	case expr == clearComposeJS:
		b.clearCalls++
		return setJSON(out, map[string]bool{"empty": b.clearEmpty})

	case expr == pressEnterJS:
		b.enterCalls++
		return setJSON(out, map[string]bool{"ok": b.enterOK})

	case expr == clickSendJS:
		b.sendCalls++
		return setJSON(out, map[string]bool{"ok": b.sendOK})

	case expr == clickRetryJS:
		b.retryCalls++
		return setJSON(out, map[string]bool{"ok": b.retryOK})

	case strings.Contains(expr, "const prompt ="):
		b.writeCalls++
		b.lastPrompt = expr
		return setJSON(out, map[string]any{"ok": b.writeOK, "reason": "no input element"})

	default:
		return fmt.Errorf("scriptedBackend: unrecognized script: %.60s", expr)
	}
}

func (b *scriptedBackend) Navigate(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navigations = append(b.navigations, url)
	return nil
}

func (b *scriptedBackend) Close() error { return nil }

// setJSON round-trips v through JSON into out, mimicking the real backend's
// result decoding.
func setJSON(out, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
