package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"comet-auto/internal/domain"
)

// TabClient is the browser surface the locator drives. *Remote implements it;
// tests substitute a scripted fake.
type TabClient interface {
	Targets(ctx context.Context) ([]TargetInfo, error)
	AttachTab(ctx context.Context, targetID string) error
	NewTab(ctx context.Context, url string) (string, error)
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expr string, out any) error
}

// loginWallJS detects an auth wall on the attached page. The probe is a page
// marker check, not a guess: a visible password field or the page's own
// sign-in prompt text.
const loginWallJS = `(() => {
  const pw = document.querySelector('input[type="password"]');
  if (pw) {
    const r = pw.getBoundingClientRect();
    if (r.width > 0 && r.height > 0) return { loginWall: true };
  }
  const body = (document.body && document.body.innerText) || '';
  const markers = [
    'Sign in or create an account',
    'Log in to continue',
    'Continue with Google',
    'Inicia sesión',
  ];
  const compose = document.querySelector('[contenteditable="true"], textarea');
  if (!compose && markers.some(m => body.includes(m))) return { loginWall: true };
  return { loginWall: false };
})()`

// Locator finds or opens the chat tab and attaches the debugging session.
type Locator struct {
	client TabClient
	logger *slog.Logger
}

// NewLocator creates a Locator over an established browser connection.
func NewLocator(client TabClient, logger *slog.Logger) *Locator {
	return &Locator{client: client, logger: logger}
}

// Locate scans open tabs for one whose URL matches the chat page's host,
// attaches to it, and verifies the page is usable. When no tab matches and
// autoNavigate is set, an existing content tab is navigated to pageURL, or a
// fresh tab is opened if none exist.
func (l *Locator) Locate(ctx context.Context, pageURL string, autoNavigate bool) (string, error) {
	host, err := pageHost(pageURL)
	if err != nil {
		return "", domain.NewDomainError("Locator.Locate", domain.ErrInvalidInput, err.Error())
	}

	targets, err := l.client.Targets(ctx)
	if err != nil {
		return "", err
	}

	var match, fallback *TargetInfo
	for i := range targets {
		t := &targets[i]
		if strings.Contains(t.URL, host) {
			match = t
			break
		}
		if fallback == nil {
			fallback = t
		}
	}

	switch {
	case match != nil:
		if err := l.client.AttachTab(ctx, match.ID); err != nil {
			return "", err
		}
		l.logger.Debug("located chat tab", "target_id", match.ID, "url", match.URL)
		return match.ID, l.checkLoginWall(ctx)

	case !autoNavigate:
		return "", domain.WrapOp("Locator.Locate",
			fmt.Errorf("no open tab matches %q and auto-navigate is disabled", host))

	case fallback != nil:
		if err := l.client.AttachTab(ctx, fallback.ID); err != nil {
			return "", err
		}
		if err := l.client.Navigate(ctx, pageURL); err != nil {
			return "", err
		}
		l.logger.Debug("navigated existing tab to chat page", "target_id", fallback.ID)
		return fallback.ID, l.checkLoginWall(ctx)

	default:
		id, err := l.client.NewTab(ctx, pageURL)
		if err != nil {
			return "", err
		}
		l.logger.Debug("opened chat tab", "target_id", id)
		return id, l.checkLoginWall(ctx)
	}
}

// checkLoginWall fails with domain.ErrLoginRequired when the attached page
// shows an auth wall instead of the chat compose area.
func (l *Locator) checkLoginWall(ctx context.Context) error {
	var probe struct {
		LoginWall bool `json:"loginWall"`
	}
	if err := l.client.Evaluate(ctx, loginWallJS, &probe); err != nil {
		// A failed probe is not evidence of an auth wall; surface the
		// transport error as-is.
		return err
	}
	if probe.LoginWall {
		return domain.NewDomainError("Locator.Locate", domain.ErrLoginRequired, "page shows a sign-in wall")
	}
	return nil
}

func pageHost(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("page URL %q has no host", pageURL)
	}
	return strings.TrimPrefix(u.Host, "www."), nil
}
