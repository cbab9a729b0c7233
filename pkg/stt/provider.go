// Package stt defines the single-shot speech-to-text provider contract used
// by the voice-turn orchestrator. Unlike a streaming session API, a Provider
// here transcribes one complete audio payload per call and returns a single
// SttResult; this matches the gateway's request/response turn shape rather
// than a continuous session.
//
// Implementations must be safe for concurrent use: the orchestrator invokes
// Transcribe from many goroutines, one per in-flight HTTP request.
package stt

import (
	"context"

	"github.com/glyphgate/voicegate/pkg/ids"
)

// Context carries per-call correlation and hints into Transcribe. It holds
// no context.Context; cancellation arrives through Transcribe's ctx
// argument (the orchestrator's derived child context), and cancelling it
// must cause Transcribe to return promptly with a user-kind STT_TIMEOUT or
// the ctx.Err() wrapped appropriately.
type Context struct {
	TurnId       ids.TurnId
	LanguageHint string
}

// AudioPayload is the raw audio blob handed to a provider, already validated
// against the gateway's content-type allowlist and size limit.
type AudioPayload struct {
	Bytes       []byte
	ContentType string
	SampleRate  int // 0 when unknown
}

// SttResult is the normalized transcription outcome. Text is never empty;
// providers must raise a gwerr STT_TRANSCRIPTION_FAILED error instead of
// returning a zero-value result with empty Text.
type SttResult struct {
	Text       string
	Language   string
	Confidence *float64
	ProviderId ids.ProviderId
	Model      *string
	DurationMs int64
}

// HealthStatus is the result of a provider's HealthCheck.
type HealthStatus struct {
	Healthy   bool
	Message   string
	LatencyMs int64
}

// Provider is the capability set every STT backend adapter implements.
type Provider interface {
	// ProviderId identifies this provider's branded identity.
	ProviderId() ids.ProviderId
	// Name is a human-readable label for logs and startup summaries.
	Name() string
	// Transcribe converts audio into a normalized SttResult. ctx carries
	// cancellation and the turn correlation id; tctx carries the language
	// hint and turn id for providers that want them in their request.
	Transcribe(ctx context.Context, audio AudioPayload, tctx Context) (SttResult, error)
	// HealthCheck reports whether the backend is currently reachable.
	HealthCheck(ctx context.Context) (HealthStatus, error)
}
