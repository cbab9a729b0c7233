// Package openai provides an STT provider backed by the OpenAI audio
// transcription API, built on the official github.com/openai/openai-go
// client.
package openai

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/tidwall/gjson"

	"github.com/glyphgate/voicegate/pkg/gwerr"
	"github.com/glyphgate/voicegate/pkg/ids"
	"github.com/glyphgate/voicegate/pkg/stt"
)

const defaultModel = "whisper-1"

// Option is a functional option for configuring the Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *config) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithModel overrides the default transcription model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout bounds how long a single Transcribe call may run.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient overrides the HTTP client used by the underlying SDK client,
// primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) { cfg.httpClient = c }
}

// config holds optional configuration for the provider.
type config struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// Provider implements stt.Provider backed by the OpenAI transcription API.
type Provider struct {
	client  oai.Client
	model   string
	timeout time.Duration
}

// New creates an OpenAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, gwerr.New(gwerr.CodeMissingConfig, "openai: api key must not be empty")
	}

	cfg := &config{
		model:   defaultModel,
		timeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &Provider{
		client:  oai.NewClient(reqOpts...),
		model:   cfg.model,
		timeout: cfg.timeout,
	}, nil
}

func (p *Provider) ProviderId() ids.ProviderId { return ids.ProviderOpenAI }
func (p *Provider) Name() string               { return "openai" }

// Transcribe uploads the audio to the OpenAI audio transcription endpoint via
// the SDK's Audio.Transcriptions resource and normalizes the response.
func (p *Provider) Transcribe(ctx context.Context, audio stt.AudioPayload, tctx stt.Context) (stt.SttResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(p.model),
		File:  oai.File(bytes.NewReader(audio.Bytes), "audio"+extensionFor(audio.ContentType), audio.ContentType),
	}
	if tctx.LanguageHint != "" {
		params.Language = param.NewOpt(tctx.LanguageHint)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return stt.SttResult{}, gwerr.New(gwerr.CodeSTTTimeout, "openai: request timed out").WithCause(err)
		}
		return stt.SttResult{}, gwerr.NewWithKind(gwerr.Operator, gwerr.CodeSTTTranscriptionFailed, "openai: transcription request failed").WithCause(err)
	}

	var segments []string
	for _, s := range gjson.Get(resp.RawJSON(), "segments.#.text").Array() {
		segments = append(segments, s.String())
	}
	text, err := stt.Normalize(segments, resp.Text)
	if err != nil {
		return stt.SttResult{}, err
	}

	lang := tctx.LanguageHint
	model := p.model
	return stt.SttResult{
		Text:       text,
		Language:   lang,
		ProviderId: ids.ProviderOpenAI,
		Model:      &model,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// extensionFor picks a filename extension the OpenAI API can sniff the codec
// from. Unknown content types fall back to ".wav" since the multipart field
// name matters more to the backend than the extension.
func extensionFor(contentType string) string {
	switch contentType {
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".wav"
	}
}

// HealthCheck reports whether the OpenAI API is reachable with the
// configured credentials by listing models.
func (p *Provider) HealthCheck(ctx context.Context) (stt.HealthStatus, error) {
	start := time.Now()
	_, err := p.client.Models.List(ctx)
	if err != nil {
		return stt.HealthStatus{Healthy: false, Message: err.Error()}, nil
	}
	return stt.HealthStatus{
		Healthy:   true,
		Message:   "ok",
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

var _ stt.Provider = (*Provider)(nil)
