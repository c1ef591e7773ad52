package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. Every terminal condition the engine
// can report maps to exactly one sentinel so front-ends can react differently
// (e.g. offer a browser relaunch only on ErrHandshakeForbidden).
var (
	// ErrNoBrowser means the remote-debugging endpoint is unreachable.
	ErrNoBrowser = fmt.Errorf("browser debug endpoint unreachable")
	// ErrHandshakeForbidden means the endpoint is reachable but rejected the
	// debugging WebSocket handshake, which happens when the browser was
	// started without --remote-allow-origins.
	ErrHandshakeForbidden = fmt.Errorf("debugging handshake rejected (browser missing --remote-allow-origins)")
	// ErrLoginRequired means the chat page is reachable but shows an auth wall.
	ErrLoginRequired = fmt.Errorf("chat page requires login")
	// ErrConnectionLost means an established tab session died mid-operation.
	ErrConnectionLost = fmt.Errorf("browser connection lost")
	// ErrScriptError means an injected script threw inside the page.
	ErrScriptError = fmt.Errorf("page script failed")
	// ErrSubmitFailed means no send affordance was found, or the page showed
	// no activity within the post-submit grace window.
	ErrSubmitFailed = fmt.Errorf("prompt submission failed")
	// ErrSkipped means the page declined to answer and retries are exhausted.
	ErrSkipped = fmt.Errorf("page skipped the answer")
	// ErrTimeout means the overall ask deadline elapsed.
	ErrTimeout = fmt.Errorf("ask timed out")
	// ErrBusy means another ask is already in flight on the same connection.
	ErrBusy = fmt.Errorf("ask already in flight")

	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Session.Ask")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for API responses and
// monitoring. Every sentinel error maps to exactly one code.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNoBrowser          ErrorCode = "NO_BROWSER"
	CodeHandshakeForbidden ErrorCode = "HANDSHAKE_FORBIDDEN"
	CodeLoginRequired      ErrorCode = "LOGIN_REQUIRED"
	CodeConnectionLost     ErrorCode = "CONNECTION_LOST"
	CodeScriptError        ErrorCode = "SCRIPT_ERROR"
	CodeSubmitFailed       ErrorCode = "SUBMIT_FAILED"
	CodeSkipped            ErrorCode = "SKIPPED"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeBusy               ErrorCode = "BUSY"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNoBrowser:          CodeNoBrowser,
	ErrHandshakeForbidden: CodeHandshakeForbidden,
	ErrLoginRequired:      CodeLoginRequired,
	ErrConnectionLost:     CodeConnectionLost,
	ErrScriptError:        CodeScriptError,
	ErrSubmitFailed:       CodeSubmitFailed,
	ErrSkipped:            CodeSkipped,
	ErrTimeout:            CodeTimeout,
	ErrBusy:               CodeBusy,
	ErrInvalidInput:       CodeInvalidInput,
	ErrConfigLoad:         CodeConfigLoad,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
