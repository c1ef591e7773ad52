package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/chromedp/cdproto/runtime"

	"comet-auto/internal/domain"
)

// Backend is the single seam between the engine and the live page. Every
// higher-level behavior (read state, write prompt, click control) is a script
// dispatched through Evaluate, so all page-structure fragility stays behind
// this interface and the engine can be driven by a scripted fake in tests.
type Backend interface {
	// Evaluate runs a JavaScript expression in page context and unmarshals
	// its JSON return value into out (out may be nil to discard the result).
	// Errors are classified: domain.ErrConnectionLost when the tab session
	// died, domain.ErrScriptError when the expression threw.
	Evaluate(ctx context.Context, expr string, out any) error
	// Navigate loads a URL in the attached tab and waits for the document
	// to become ready.
	Navigate(ctx context.Context, url string) error
	// Close releases the tab attachment. It never closes the browser.
	Close() error
}

// TargetInfo describes one debuggable page target.
type TargetInfo struct {
	ID    string
	Title string
	URL   string
}

// internalURL reports whether a target URL belongs to browser chrome rather
// than web content. Such targets are never candidates for attachment.
func internalURL(u string) bool {
	u = strings.ToLower(strings.TrimSpace(u))
	for _, prefix := range []string{
		"chrome://", "edge://", "devtools://", "about:", "chrome-extension://",
	} {
		if strings.HasPrefix(u, prefix) {
			return true
		}
	}
	return false
}

// classifyEvalErr maps a chromedp evaluation failure onto the domain taxonomy
// so callers can tell a dead session apart from a page-logic failure.
func classifyEvalErr(err error) error {
	if err == nil {
		return nil
	}

	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) {
		return domain.NewDomainError("browser.Evaluate", domain.ErrScriptError, exc.Error())
	}

	if isConnectionErr(err) {
		return domain.NewDomainError("browser.Evaluate", domain.ErrConnectionLost, err.Error())
	}

	return domain.NewDomainError("browser.Evaluate", domain.ErrScriptError, err.Error())
}

// isConnectionErr recognizes transport-level failures from chromedp and the
// underlying websocket.
func isConnectionErr(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"websocket",
		"connection refused",
		"connection reset",
		"broken pipe",
		"target closed",
		"browser closed",
		"session with given id not found",
		"use of closed network connection",
		"unexpected eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isForbiddenHandshake recognizes the WebSocket upgrade rejection Chrome
// produces when started without --remote-allow-origins.
func isForbiddenHandshake(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "403") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "rejected an incoming websocket connection") ||
		strings.Contains(msg, "remote-allow-origins")
}
