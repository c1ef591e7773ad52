package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comet-auto/internal/domain"
	"comet-auto/internal/infra/config"
)

type askResult struct {
	out domain.Outcome
	err error
}

// fakeAsker plays back queued results; the last one repeats.
type fakeAsker struct {
	results []askResult
	idx     int
	calls   int
}

func (f *fakeAsker) Ask(_ context.Context, _ domain.PromptRequest) (domain.Outcome, error) {
	f.calls++
	if len(f.results) == 0 {
		return domain.Outcome{Kind: domain.OutcomeCompleted, Text: "ok"}, nil
	}
	r := f.results[f.idx]
	if f.idx < len(f.results)-1 {
		f.idx++
	}
	return r.out, r.err
}

func newTestServer(t *testing.T, asker Asker, prober HealthProber, key string) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg := config.APIConfig{
		Addr:           "127.0.0.1:0",
		Key:            key,
		RequestsPerMin: 6000,
		Burst:          100,
	}
	s := NewServer(asker, prober, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return s.Handler(ctx)
}

func doAsk(t *testing.T, h http.Handler, body string, headers map[string]string) (*httptest.ResponseRecorder, askResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp askResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestAskCompleted(t *testing.T) {
	asker := &fakeAsker{results: []askResult{{
		out: domain.Outcome{Kind: domain.OutcomeCompleted, Text: "Paris.", Elapsed: 4 * time.Second},
	}}}
	h := newTestServer(t, asker, nil, "")

	rec, resp := doAsk(t, h, `{"prompt":"capital of France?"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.OK)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "Paris.", resp.Text)
	assert.EqualValues(t, 4000, resp.ElapsedMS)
}

func TestAskSkippedIsHTTPOK(t *testing.T) {
	asker := &fakeAsker{results: []askResult{{
		out: domain.Outcome{
			Kind:   domain.OutcomeSkipped,
			Reason: "page offered retry without producing an answer",
			Err:    domain.NewDomainError("Session.Ask", domain.ErrSkipped, "no answer"),
		},
	}}}
	h := newTestServer(t, asker, nil, "")

	rec, resp := doAsk(t, h, `{"prompt":"hi"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.OK)
	assert.Equal(t, "skipped", resp.Status)
	assert.Equal(t, string(domain.CodeSkipped), resp.Code)
}

func TestAskBusyConflict(t *testing.T) {
	asker := &fakeAsker{results: []askResult{{
		err: domain.NewDomainError("Session.Ask", domain.ErrBusy, "an ask is already in flight"),
	}}}
	h := newTestServer(t, asker, nil, "")

	rec, resp := doAsk(t, h, `{"prompt":"hi"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(domain.CodeBusy), resp.Code)
}

func TestAskTimedOutGatewayTimeout(t *testing.T) {
	asker := &fakeAsker{results: []askResult{{
		out: domain.Outcome{
			Kind: domain.OutcomeTimedOut,
			Err:  domain.NewDomainError("Session.Ask", domain.ErrTimeout, "no stable reply before the deadline"),
		},
	}}}
	h := newTestServer(t, asker, nil, "")

	rec, resp := doAsk(t, h, `{"prompt":"hi"}`, nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "timed_out", resp.Status)
}

func TestAskMalformedBody(t *testing.T) {
	asker := &fakeAsker{}
	h := newTestServer(t, asker, nil, "")

	rec, resp := doAsk(t, h, `{"prompt": not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(domain.CodeInvalidInput), resp.Code)
	assert.Zero(t, asker.calls)
}

func TestBreakerOpensAfterRepeatedDisconnects(t *testing.T) {
	disconnected := domain.Outcome{
		Kind:   domain.OutcomeDisconnected,
		Reason: "websocket closed",
		Err:    domain.NewDomainError("Session.Ask", domain.ErrConnectionLost, "websocket closed"),
	}
	asker := &fakeAsker{results: []askResult{{out: disconnected}}}
	h := newTestServer(t, asker, nil, "")

	for i := 0; i < 3; i++ {
		rec, resp := doAsk(t, h, `{"prompt":"hi"}`, nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code, "request %d", i)
		assert.Equal(t, "disconnected", resp.Status)
	}

	// Breaker is now open; the engine must not be touched again.
	callsBefore := asker.calls
	rec, resp := doAsk(t, h, `{"prompt":"hi"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(domain.CodeNoBrowser), resp.Code)
	assert.Equal(t, callsBefore, asker.calls)
}

func TestBreakerIgnoresBusyAndSkipped(t *testing.T) {
	asker := &fakeAsker{results: []askResult{
		{err: domain.NewDomainError("Session.Ask", domain.ErrBusy, "busy")},
		{err: domain.NewDomainError("Session.Ask", domain.ErrBusy, "busy")},
		{err: domain.NewDomainError("Session.Ask", domain.ErrBusy, "busy")},
		{err: domain.NewDomainError("Session.Ask", domain.ErrBusy, "busy")},
		{out: domain.Outcome{Kind: domain.OutcomeCompleted, Text: "fine"}},
	}}
	h := newTestServer(t, asker, nil, "")

	for i := 0; i < 4; i++ {
		rec, _ := doAsk(t, h, `{"prompt":"hi"}`, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	}
	rec, resp := doAsk(t, h, `{"prompt":"hi"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fine", resp.Text)
}

func TestAuthRequiredWhenKeySet(t *testing.T) {
	asker := &fakeAsker{}
	h := newTestServer(t, asker, nil, "sekret")

	rec, resp := doAsk(t, h, `{"prompt":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", resp.Code)
	assert.Zero(t, asker.calls)

	rec, _ = doAsk(t, h, `{"prompt":"hi"}`, map[string]string{"Authorization": "Bearer sekret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doAsk(t, h, `{"prompt":"hi"}`, map[string]string{"X-API-Key": "sekret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doAsk(t, h, `{"prompt":"hi"}`, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthOpenWithoutKey(t *testing.T) {
	h := newTestServer(t, &fakeAsker{}, nil, "sekret")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsBrowserState(t *testing.T) {
	okProber := func(context.Context) error { return nil }
	h := newTestServer(t, &fakeAsker{}, okProber, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Browser)

	badProber := func(context.Context) error { return errors.New("connection refused") }
	h = newTestServer(t, &fakeAsker{}, badProber, "")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
