// Package gwerr defines voicegate's two-kind error taxonomy.
//
// Every error raised by a provider, the agent-runtime client, or the
// orchestrator is either user-kind (safe to expose verbatim to an HTTP
// caller) or operator-kind (carries a detail field that must never leave the
// process). The orchestrator never reclassifies a kind; it only serializes
// the (code, message) pair into the HTTP response and logs the detail
// separately.
package gwerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error as safe for external exposure or not.
type Kind int

const (
	// User errors carry a message safe to return to an HTTP caller.
	User Kind = iota
	// Operator errors carry operational detail that must stay server-side.
	Operator
)

func (k Kind) String() string {
	if k == Operator {
		return "operator"
	}
	return "user"
}

// Stable error codes, matching spec §7 exactly.
const (
	CodeInvalidAudio           = "INVALID_AUDIO"
	CodeAudioTooLarge          = "AUDIO_TOO_LARGE"
	CodeInvalidContentType     = "INVALID_CONTENT_TYPE"
	CodeSTTTimeout             = "STT_TIMEOUT"
	CodeSTTTranscriptionFailed = "STT_TRANSCRIPTION_FAILED"
	CodeOpenclawTimeout        = "OPENCLAW_TIMEOUT"
	CodeRateLimited            = "RATE_LIMITED"
	CodeCORSRejected           = "CORS_REJECTED"
	CodeNotReady               = "NOT_READY"

	CodeSTTUnavailable       = "STT_UNAVAILABLE"
	CodeOpenclawUnavailable  = "OPENCLAW_UNAVAILABLE"
	CodeOpenclawSessionError = "OPENCLAW_SESSION_ERROR"
	CodeMissingConfig        = "MISSING_CONFIG"
	CodeInvalidConfig        = "INVALID_CONFIG"
	CodeInternalError        = "INTERNAL_ERROR"
)

// kindByCode gives each code's default Kind per the taxonomy table in spec
// §7. STT_TRANSCRIPTION_FAILED's default here is User (empty-text flavor);
// callers on the backend-failure path use NewWithKind(Operator, ...) instead.
var kindByCode = map[string]Kind{
	CodeInvalidAudio:           User,
	CodeAudioTooLarge:          User,
	CodeInvalidContentType:     User,
	CodeSTTTimeout:             User,
	CodeSTTTranscriptionFailed: User, // kind depends on context; see WithKind
	CodeOpenclawTimeout:        User,
	CodeRateLimited:            User,
	CodeCORSRejected:           User,
	CodeNotReady:               User,

	CodeSTTUnavailable:       Operator,
	CodeOpenclawUnavailable:  Operator,
	CodeOpenclawSessionError: Operator,
	CodeMissingConfig:        Operator,
	CodeInvalidConfig:        Operator,
	CodeInternalError:        Operator,
}

// Error is a taxonomy-classified error. Message is always safe to log;
// whether it is safe to return to the HTTP caller is determined by Kind.
// Detail, when present, is never serialized into an HTTP response.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Detail  string
	cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given code with its canonical kind from the
// taxonomy table. Use NewWithKind for STT_TRANSCRIPTION_FAILED, whose kind
// depends on whether the backend failed (operator) or returned empty text
// (user).
func New(code, message string) *Error {
	k, ok := kindByCode[code]
	if !ok {
		k = Operator
	}
	return &Error{Kind: k, Code: code, Message: message}
}

// NewWithKind constructs an Error overriding the table's default kind; used
// for codes whose kind is context-dependent (STT_TRANSCRIPTION_FAILED).
func NewWithKind(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WithDetail attaches operator-only detail (e.g. a backend error body) and
// returns e for chaining.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithCause wraps an underlying error for errors.Is/As while keeping the
// taxonomy's Code/Message/Kind as the public shape.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// InvalidConfig is a convenience constructor for the common
// operator-kind INVALID_CONFIG case raised by branded-identifier
// constructors and config patch validation.
func InvalidConfig(message string) *Error {
	return New(CodeInvalidConfig, message)
}

// IsUser reports whether err is a *Error of User kind.
func IsUser(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == User
	}
	return false
}
