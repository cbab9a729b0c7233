// Package orchestrator implements the per-turn voice pipeline: validate
// audio, transcribe it via the configured STT provider, dispatch the
// transcript to the agent runtime, shape the reply, and build the
// GatewayReply envelope. See spec.md §4.4.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glyphgate/voicegate/internal/agentclient"
	"github.com/glyphgate/voicegate/internal/config"
	"github.com/glyphgate/voicegate/internal/observe"
	"github.com/glyphgate/voicegate/internal/providerset"
	"github.com/glyphgate/voicegate/internal/resilience"
	"github.com/glyphgate/voicegate/internal/shaper"
	"github.com/glyphgate/voicegate/pkg/gwerr"
	"github.com/glyphgate/voicegate/pkg/ids"
	"github.com/glyphgate/voicegate/pkg/stt"
)

// allowedContentTypes is the audio content-type allowlist from spec.md §3.
var allowedContentTypes = map[string]bool{
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/pcm":   true,
	"audio/ogg":   true,
	"audio/mpeg":  true,
	"audio/webm":  true,
}

const (
	// defaultSTTTimeout backstops an STT provider whose own per-call timeout
	// configuration is zero or absent.
	defaultSTTTimeout = 15 * time.Second
	// defaultChatTimeoutMs is the chat.send wire timeout handed to the
	// agent-runtime client when no per-turn override applies.
	defaultChatTimeoutMs = 20000
	// chatCtxSlackMs is subtracted from the configured chat timeout
	// (defaultChatTimeoutMs unless WithChatTimeoutMs overrides it) to derive
	// the Go context deadline; when the timeout is not larger than the slack,
	// half the timeout is used instead. Either way the orchestrator's own
	// cancellation fires strictly before the wire-level timeoutMs would — see
	// DESIGN.md's "Turn deadline vs chat.send.timeoutMs" decision.
	chatCtxSlackMs = 2000
)

// Assistant is the shaped reply portion of a GatewayReply.
type Assistant struct {
	FullText  string           `json:"fullText"`
	Segments  []shaper.Segment `json:"segments"`
	Truncated bool             `json:"truncated"`
}

// Timing reports the duration of each pipeline stage, in milliseconds.
type Timing struct {
	SttMs   int64 `json:"sttMs"`
	AgentMs int64 `json:"agentMs"`
	TotalMs int64 `json:"totalMs"`
}

// Meta carries attribution for the reply.
type Meta struct {
	Provider ids.ProviderId `json:"provider"`
	Model    *string        `json:"model"`
}

// GatewayReply is the response envelope for POST /api/voice/turn.
type GatewayReply struct {
	TurnId     ids.TurnId     `json:"turnId"`
	SessionKey ids.SessionKey `json:"sessionKey"`
	Assistant  Assistant      `json:"assistant"`
	Timing     Timing         `json:"timing"`
	Meta       Meta           `json:"meta"`
}

// Option configures an Orchestrator during construction.
type Option func(*Orchestrator)

// WithShaperLimits overrides the default response-shaping limits.
func WithShaperLimits(limits shaper.Limits) Option {
	return func(o *Orchestrator) { o.shaperLimits = limits }
}

// WithChatTimeoutMs overrides the chat.send wire timeout (and the derived,
// strictly shorter, context deadline).
func WithChatTimeoutMs(ms int) Option {
	return func(o *Orchestrator) { o.chatTimeoutMs = ms }
}

// Orchestrator coordinates one voice turn at a time per call; all exported
// methods are safe for concurrent use across many in-flight HTTP requests.
type Orchestrator struct {
	providers   *providerset.Set
	agentClient *agentclient.Holder
	store       *config.Store

	shaperLimits  shaper.Limits
	chatTimeoutMs int

	breakersMu sync.Mutex
	breakers   map[ids.ProviderId]*resilience.CircuitBreaker
}

// New creates an Orchestrator wired to the given provider set, agent-client
// holder, and config store. The holder and provider set must be read through
// their accessor methods on every turn, never captured, so that rebuilder
// swaps take effect without restarting the orchestrator.
func New(providers *providerset.Set, agentClient *agentclient.Holder, store *config.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers:     providers,
		agentClient:   agentClient,
		store:         store,
		shaperLimits:  shaper.DefaultLimits,
		chatTimeoutMs: defaultChatTimeoutMs,
		breakers:      make(map[ids.ProviderId]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// breakerFor returns the circuit breaker guarding calls to the given STT
// provider, creating one lazily on first use. Each provider id gets its own
// breaker so a failing whisperx backend never trips the breaker for openai.
func (o *Orchestrator) breakerFor(id ids.ProviderId) *resilience.CircuitBreaker {
	o.breakersMu.Lock()
	defer o.breakersMu.Unlock()
	cb, ok := o.breakers[id]
	if !ok {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "stt/" + string(id)})
		o.breakers[id] = cb
	}
	return cb
}

// STTBreakerState reports the current circuit-breaker state for the given
// STT provider id, creating an idle (closed) breaker for it if none has run
// yet. Exposed so GET /readyz can surface a tripped breaker as an
// unready dependency instead of only discovering it on the next turn.
func (o *Orchestrator) STTBreakerState(id ids.ProviderId) resilience.State {
	return o.breakerFor(id).State()
}

// HandleTurn runs the full per-turn pipeline described in spec.md §4.4.
func (o *Orchestrator) HandleTurn(ctx context.Context, audio stt.AudioPayload, languageHint string) (reply GatewayReply, err error) {
	start := time.Now()
	metrics := observe.DefaultMetrics()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			metrics.RecordTurnError(ctx, turnErrorCode(err))
		}
		metrics.RecordTurn(ctx, time.Since(start).Seconds(), status)
	}()

	ctx, span := observe.StartSpan(ctx, "orchestrator.HandleTurn")
	defer span.End()

	turnID, err := ids.NewTurnId(uuid.NewString())
	if err != nil {
		return GatewayReply{}, gwerr.InvalidConfig("orchestrator: generated turn id invalid").WithCause(err)
	}

	cfg := o.store.Get()

	if err := validateAudio(audio, cfg); err != nil {
		return GatewayReply{}, err
	}

	provider, ok := o.providers.Get(cfg.STTProvider)
	if !ok {
		return GatewayReply{}, gwerr.New(gwerr.CodeMissingConfig, "orchestrator: no STT provider registered for configured provider id")
	}

	sttCtx, sttCancel := context.WithTimeout(ctx, sttTimeout(cfg))
	defer sttCancel()

	breaker := o.breakerFor(cfg.STTProvider)
	sttStart := time.Now()
	var result stt.SttResult
	cbErr := breaker.Execute(func() error {
		var transcribeErr error
		result, transcribeErr = provider.Transcribe(sttCtx, audio, stt.Context{TurnId: turnID, LanguageHint: languageHint})
		return transcribeErr
	})
	sttMs := time.Since(sttStart).Milliseconds()
	metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	if cbErr != nil {
		metrics.RecordProviderRequest(ctx, string(cfg.STTProvider), "error")
		if errors.Is(cbErr, resilience.ErrCircuitOpen) {
			err := gwerr.New(gwerr.CodeSTTUnavailable, "orchestrator: stt provider circuit open after repeated failures")
			metrics.RecordProviderError(ctx, string(cfg.STTProvider), gwerr.CodeSTTUnavailable)
			return GatewayReply{}, err
		}
		metrics.RecordProviderError(ctx, string(cfg.STTProvider), turnErrorCode(cbErr))
		return GatewayReply{}, wrapCancellation(ctx, cbErr)
	}
	metrics.RecordProviderRequest(ctx, string(cfg.STTProvider), "ok")

	chatCtxMs := o.chatTimeoutMs - chatCtxSlackMs
	if chatCtxMs <= 0 {
		chatCtxMs = o.chatTimeoutMs / 2
	}
	chatCtx, chatCancel := context.WithTimeout(ctx, time.Duration(chatCtxMs)*time.Millisecond)
	defer chatCancel()

	agentStart := time.Now()
	replyText, err := o.agentClient.Current().Send(chatCtx, cfg.AgentSessionKey.String(), result.Text, o.chatTimeoutMs)
	agentMs := time.Since(agentStart).Milliseconds()
	metrics.AgentSendDuration.Record(ctx, time.Since(agentStart).Seconds())
	if err != nil {
		return GatewayReply{}, wrapCancellation(ctx, err)
	}

	shaped := shaper.Shape(replyText, o.shaperLimits)

	return GatewayReply{
		TurnId:     turnID,
		SessionKey: cfg.AgentSessionKey,
		Assistant: Assistant{
			FullText:  shaped.FullText,
			Segments:  shaped.Segments,
			Truncated: shaped.Truncated,
		},
		Timing: Timing{
			SttMs:   sttMs,
			AgentMs: agentMs,
			TotalMs: time.Since(start).Milliseconds(),
		},
		Meta: Meta{
			Provider: result.ProviderId,
			Model:    result.Model,
		},
	}, nil
}

// turnErrorCode extracts the taxonomy code from err for error-metric
// attribution, falling back to a generic label for non-gwerr errors (e.g.
// context cancellation).
func turnErrorCode(err error) string {
	if gerr, ok := err.(*gwerr.Error); ok {
		return gerr.Code
	}
	return "UNKNOWN"
}

// validateAudio checks content-type and size against the pinned config
// snapshot, per spec.md §4.4 step 2.
func validateAudio(audio stt.AudioPayload, cfg config.GatewayConfig) error {
	if !allowedContentTypes[audio.ContentType] {
		return gwerr.New(gwerr.CodeInvalidContentType, fmt.Sprintf("orchestrator: unsupported content type %q", audio.ContentType))
	}
	if cfg.Server.MaxAudioBytes > 0 && int64(len(audio.Bytes)) > cfg.Server.MaxAudioBytes {
		return gwerr.New(gwerr.CodeAudioTooLarge, "orchestrator: audio payload exceeds the configured size limit")
	}
	return nil
}

// sttTimeout picks the per-provider timeout configured for cfg.STTProvider,
// falling back to defaultSTTTimeout when unset. The STT adapter itself
// enforces the same value on its own HTTP calls; this context deadline is a
// backstop that guarantees Transcribe returns even if the adapter doesn't.
func sttTimeout(cfg config.GatewayConfig) time.Duration {
	var ms int
	switch cfg.STTProvider {
	case ids.ProviderWhisperX:
		ms = cfg.WhisperX.TimeoutMs
	case ids.ProviderOpenAI:
		ms = cfg.OpenAI.TimeoutMs
	case ids.ProviderCustom:
		ms = cfg.Custom.TimeoutMs
	}
	if ms <= 0 {
		return defaultSTTTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// wrapCancellation reports ctx's own cancellation as-is (so callers can
// distinguish client-abort from a backend failure and skip operator-severity
// logging for it) and passes every other error through unchanged.
func wrapCancellation(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
