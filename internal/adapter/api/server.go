package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"comet-auto/internal/domain"
	"comet-auto/internal/infra/config"
	"comet-auto/internal/infra/middleware"
)

// Asker is the engine surface the API exposes. *usecase.Session implements it.
type Asker interface {
	Ask(ctx context.Context, req domain.PromptRequest) (domain.Outcome, error)
}

// HealthProber checks browser connectivity for /health.
type HealthProber func(ctx context.Context) error

// Server is the local HTTP API. It exposes the single-tab engine to LAN
// consumers and shields the browser behind a circuit breaker: repeated
// connectivity failures stop asks early instead of hammering a dead endpoint.
type Server struct {
	asker   Asker
	prober  HealthProber
	cfg     config.APIConfig
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[domain.Outcome]

	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates the API server. prober may be nil, in which case /health
// reports process liveness only.
func NewServer(asker Asker, prober HealthProber, cfg config.APIConfig, logger *slog.Logger) *Server {
	s := &Server{
		asker:  asker,
		prober: prober,
		cfg:    cfg,
		logger: logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker[domain.Outcome](gobreaker.Settings{
		Name:        "browser",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			// Only connectivity failures count against the breaker. A busy
			// session or a skipped answer says nothing about the browser.
			return !isConnectivityErr(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

func isConnectivityErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, domain.ErrConnectionLost) ||
		errors.Is(err, domain.ErrNoBrowser) ||
		errors.Is(err, domain.ErrHandshakeForbidden)
}

// Handler builds the full middleware chain. Split from Start so tests can
// drive it through httptest without binding a port.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /health", s.handleHealth)

	var h http.Handler = mux
	h = s.authenticate(h)
	h = middleware.RateLimit(ctx, s.cfg.RequestsPerMin, s.cfg.Burst)(h)
	h = middleware.SecurityHeaders(h)
	return h
}

// Start begins serving. Blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("api started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual listen address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// askRequest is the POST /ask body.
type askRequest struct {
	Prompt         string `json:"prompt"`
	NewChat        bool   `json:"new_chat"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Debug          bool   `json:"debug"`
}

// askResponse is the POST /ask reply for both success and failure.
type askResponse struct {
	OK        bool   `json:"ok"`
	Status    string `json:"status"`
	Text      string `json:"text,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, askResponse{Status: "error", Code: string(domain.CodeInvalidInput), Error: "unreadable body"})
		return
	}
	var req askRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, askResponse{Status: "error", Code: string(domain.CodeInvalidInput), Error: "malformed JSON body"})
		return
	}

	promptReq := domain.PromptRequest{
		Prompt:  req.Prompt,
		NewChat: req.NewChat,
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
		Debug:   req.Debug,
	}

	start := time.Now()
	out, err := s.breaker.Execute(func() (domain.Outcome, error) {
		out, err := s.asker.Ask(r.Context(), promptReq)
		if err != nil {
			return out, err
		}
		// Surface a Disconnected verdict to the breaker as a failure while
		// keeping the outcome for the response body.
		if out.Kind == domain.OutcomeDisconnected {
			return out, out.Err
		}
		return out, nil
	})
	elapsed := time.Since(start).Milliseconds()

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		writeJSON(w, http.StatusServiceUnavailable, askResponse{
			Status:    "error",
			Code:      string(domain.CodeNoBrowser),
			Error:     "browser endpoint is failing, backing off",
			ElapsedMS: elapsed,
		})
		return

	case err != nil && out.Kind == domain.OutcomeDisconnected:
		// Breaker failure carrying a real outcome.
		writeJSON(w, statusForOutcome(out), outcomeResponse(out))
		return

	case err != nil:
		s.logger.Warn("ask failed", "error", err)
		code := domain.ErrorCodeOf(err)
		writeJSON(w, statusForCode(code), askResponse{
			Status:    "error",
			Code:      string(code),
			Error:     err.Error(),
			ElapsedMS: elapsed,
		})
		return
	}

	writeJSON(w, statusForOutcome(out), outcomeResponse(out))
}

func outcomeResponse(out domain.Outcome) askResponse {
	resp := askResponse{
		OK:        out.Completed(),
		Status:    string(out.Kind),
		Text:      out.Text,
		ElapsedMS: out.Elapsed.Milliseconds(),
	}
	if out.Err != nil {
		resp.Code = string(domain.ErrorCodeOf(out.Err))
		resp.Error = out.Status()
	}
	return resp
}

func statusForOutcome(out domain.Outcome) int {
	switch out.Kind {
	case domain.OutcomeCompleted, domain.OutcomeSkipped:
		// Skipped is a page verdict, not a transport failure.
		return http.StatusOK
	case domain.OutcomeTimedOut:
		return http.StatusGatewayTimeout
	case domain.OutcomeDisconnected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeBusy:
		return http.StatusConflict
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeNoBrowser, domain.CodeHandshakeForbidden, domain.CodeConnectionLost,
		domain.CodeSubmitFailed, domain.CodeScriptError:
		return http.StatusBadGateway
	case domain.CodeLoginRequired:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// healthResponse is the GET /health reply.
type healthResponse struct {
	Status  string `json:"status"`
	Browser string `json:"browser"`
	Breaker string `json:"breaker"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Browser: "unknown",
		Breaker: s.breaker.State().String(),
	}
	if s.prober != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.prober(ctx); err != nil {
			resp.Browser = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Browser = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
