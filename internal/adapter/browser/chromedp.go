package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"comet-auto/internal/domain"
	"comet-auto/internal/infra/config"
)

// Remote attaches to an already-running browser through its remote-debugging
// endpoint. It never launches or kills the browser process; Close only tears
// down the debugging connection.
type Remote struct {
	mu            sync.Mutex
	endpoint      string
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabCtx        context.Context
	tabCancel     context.CancelFunc
	timeout       time.Duration
	logger        *slog.Logger
}

// versionInfo is the relevant slice of the /json/version payload.
type versionInfo struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Probe checks that the debug endpoint answers and returns the browser-level
// WebSocket URL. An unreachable endpoint maps to domain.ErrNoBrowser.
func Probe(ctx context.Context, endpoint string, timeout time.Duration) (string, error) {
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/json/version", nil)
	if err != nil {
		return "", domain.WrapOp("browser.Probe", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", domain.NewDomainError("browser.Probe", domain.ErrNoBrowser, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.NewDomainError("browser.Probe", domain.ErrNoBrowser,
			fmt.Sprintf("endpoint returned %d", resp.StatusCode))
	}

	var v versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", domain.NewDomainError("browser.Probe", domain.ErrNoBrowser, "invalid /json/version payload")
	}
	if v.WebSocketDebuggerURL == "" {
		return "", domain.NewDomainError("browser.Probe", domain.ErrNoBrowser, "no webSocketDebuggerUrl in /json/version")
	}
	return v.WebSocketDebuggerURL, nil
}

// Connect probes the endpoint and establishes the browser-level debugging
// session. A rejected WebSocket handshake (browser running without
// --remote-allow-origins) surfaces as domain.ErrHandshakeForbidden so callers
// can offer a relaunch instead of a generic failure.
func Connect(ctx context.Context, cfg config.BrowserConfig, logger *slog.Logger) (*Remote, error) {
	wsURL, err := Probe(ctx, cfg.Endpoint(), cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	r := &Remote{
		endpoint:      cfg.Endpoint(),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		timeout:       cfg.ConnectTimeout,
		logger:        logger,
	}

	// Listing targets forces the browser-level handshake without creating a
	// tab; this is where a missing --remote-allow-origins flag shows up.
	if _, err := r.Targets(ctx); err != nil {
		r.Close()
		return nil, err
	}

	logger.Info("attached to browser debug endpoint", "endpoint", r.endpoint)
	return r, nil
}

// Targets lists debuggable page targets, excluding browser-internal pages.
func (r *Remote) Targets(ctx context.Context) ([]TargetInfo, error) {
	infos, err := chromedp.Targets(r.browserCtx)
	if err != nil {
		if isForbiddenHandshake(err) {
			return nil, domain.NewDomainError("browser.Targets", domain.ErrHandshakeForbidden, err.Error())
		}
		if isConnectionErr(err) {
			return nil, domain.NewDomainError("browser.Targets", domain.ErrConnectionLost, err.Error())
		}
		return nil, domain.WrapOp("browser.Targets", err)
	}

	var out []TargetInfo
	for _, t := range infos {
		if t.Type != "page" || internalURL(t.URL) {
			continue
		}
		out = append(out, TargetInfo{ID: string(t.TargetID), Title: t.Title, URL: t.URL})
	}
	return out, nil
}

// AttachTab binds the debugging session to the given page target. Any
// previously attached tab context is released first.
func (r *Remote) AttachTab(ctx context.Context, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tabCancel != nil {
		r.tabCancel()
		r.tabCtx, r.tabCancel = nil, nil
	}

	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx, chromedp.WithTargetID(target.ID(targetID)))

	// The CDP session binds to the context passed to the first Run, so the
	// attach must not happen under a derived timeout context.
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx) }()
	select {
	case err := <-done:
		if err != nil {
			tabCancel()
			if isForbiddenHandshake(err) {
				return domain.NewDomainError("browser.AttachTab", domain.ErrHandshakeForbidden, err.Error())
			}
			return domain.NewDomainError("browser.AttachTab", domain.ErrConnectionLost, err.Error())
		}
	case <-time.After(r.timeout):
		tabCancel()
		return domain.NewDomainError("browser.AttachTab", domain.ErrConnectionLost,
			fmt.Sprintf("attach timed out after %v", r.timeout))
	}

	r.tabCtx, r.tabCancel = tabCtx, tabCancel
	r.logger.Debug("attached tab", "target_id", targetID)
	return nil
}

// NewTab creates a fresh page target at url and attaches to it.
func (r *Remote) NewTab(ctx context.Context, url string) (string, error) {
	if url == "" {
		url = "about:blank"
	}

	// target.CreateTarget guarantees a new tab; chromedp.NewContext without
	// WithTargetID may silently reuse an existing blank target.
	var newID target.ID
	if err := chromedp.Run(r.browserCtx,
		chromedp.ActionFunc(func(actx context.Context) error {
			var err error
			newID, err = target.CreateTarget(url).Do(actx)
			return err
		}),
	); err != nil {
		if isForbiddenHandshake(err) {
			return "", domain.NewDomainError("browser.NewTab", domain.ErrHandshakeForbidden, err.Error())
		}
		return "", domain.NewDomainError("browser.NewTab", domain.ErrConnectionLost, err.Error())
	}

	if err := r.AttachTab(ctx, string(newID)); err != nil {
		return "", err
	}
	return string(newID), nil
}

// activeTab returns the attached tab context. Caller must hold mu.
func (r *Remote) activeTab() (context.Context, error) {
	if r.tabCtx == nil {
		return nil, domain.NewDomainError("browser", domain.ErrConnectionLost, "no tab attached")
	}
	return r.tabCtx, nil
}

// Evaluate implements Backend. The raw JSON result is unmarshaled into out
// when out is non-nil.
func (r *Remote) Evaluate(ctx context.Context, expr string, out any) error {
	r.mu.Lock()
	tab, err := r.activeTab()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	tctx, cancel := context.WithTimeout(tab, r.timeout)
	defer cancel()

	var raw []byte
	if err := chromedp.Run(tctx,
		chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	); err != nil {
		return classifyEvalErr(err)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.NewDomainError("browser.Evaluate", domain.ErrScriptError,
			"script returned unexpected shape: "+err.Error())
	}
	return nil
}

// Navigate implements Backend.
func (r *Remote) Navigate(ctx context.Context, url string) error {
	r.mu.Lock()
	tab, err := r.activeTab()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	tctx, cancel := context.WithTimeout(tab, r.timeout)
	defer cancel()

	if err := chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		if isConnectionErr(err) {
			return domain.NewDomainError("browser.Navigate", domain.ErrConnectionLost, err.Error())
		}
		return domain.WrapOp("browser.Navigate", err)
	}
	return nil
}

// Close implements Backend. The browser process is left running.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tabCancel != nil {
		r.tabCancel()
		r.tabCtx, r.tabCancel = nil, nil
	}
	if r.browserCancel != nil {
		r.browserCancel()
		r.browserCancel = nil
	}
	if r.allocCancel != nil {
		r.allocCancel()
		r.allocCancel = nil
	}
	r.logger.Debug("detached from browser")
	return nil
}
