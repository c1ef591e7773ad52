package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chromedp/cdproto/runtime"

	"comet-auto/internal/domain"
)

func TestClassifyEvalErrScriptThrew(t *testing.T) {
	exc := &runtime.ExceptionDetails{Text: "Uncaught", LineNumber: 3}
	err := classifyEvalErr(fmt.Errorf("evaluate: %w", exc))
	if !errors.Is(err, domain.ErrScriptError) {
		t.Fatalf("err = %v, want ErrScriptError", err)
	}
	if errors.Is(err, domain.ErrConnectionLost) {
		t.Fatal("script exception must not classify as connection loss")
	}
}

func TestClassifyEvalErrConnectionLost(t *testing.T) {
	cases := []error{
		errors.New("websocket: close 1006 (abnormal closure)"),
		errors.New("dial tcp 127.0.0.1:9223: connection refused"),
		errors.New("read: connection reset by peer"),
		errors.New("Target closed"),
		context.Canceled,
	}
	for _, cause := range cases {
		err := classifyEvalErr(cause)
		if !errors.Is(err, domain.ErrConnectionLost) {
			t.Errorf("classifyEvalErr(%v) = %v, want ErrConnectionLost", cause, err)
		}
	}
}

func TestClassifyEvalErrNil(t *testing.T) {
	if err := classifyEvalErr(nil); err != nil {
		t.Fatalf("classifyEvalErr(nil) = %v, want nil", err)
	}
}

func TestIsForbiddenHandshake(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("websocket: bad handshake: 403 Forbidden"), true},
		{errors.New("Rejected an incoming WebSocket connection"), true},
		{errors.New("restart with --remote-allow-origins"), true},
		{errors.New("dial tcp: connection refused"), false},
		{nil, false},
	}
	for _, tt := range cases {
		if got := isForbiddenHandshake(tt.err); got != tt.want {
			t.Errorf("isForbiddenHandshake(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestInternalURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"chrome://newtab/", true},
		{"devtools://devtools/bundled/inspector.html", true},
		{"about:blank", true},
		{"chrome-extension://abcdef/popup.html", true},
		{"https://www.perplexity.ai/", false},
		{"", false},
	}
	for _, tt := range cases {
		if got := internalURL(tt.url); got != tt.want {
			t.Errorf("internalURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
