// Package custom provides an STT provider for a generic HTTP transcription
// backend whose request auth header and response field names are supplied
// via configuration, rather than hard-coded for a specific vendor.
package custom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/glyphgate/voicegate/pkg/gwerr"
	"github.com/glyphgate/voicegate/pkg/ids"
	"github.com/glyphgate/voicegate/pkg/stt"
)

// FieldMapping names the JSON fields a custom backend uses in its response,
// for backends that don't use the default "text"/"segments"/"language" keys.
type FieldMapping struct {
	TextField     string
	SegmentsField string
	SegmentText   string
	LanguageField string
}

func (m FieldMapping) withDefaults() FieldMapping {
	if m.TextField == "" {
		m.TextField = "text"
	}
	if m.SegmentsField == "" {
		m.SegmentsField = "segments"
	}
	if m.SegmentText == "" {
		m.SegmentText = "text"
	}
	if m.LanguageField == "" {
		m.LanguageField = "language"
	}
	return m
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithHTTPClient overrides the default http.Client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithAuthHeader sets the exact header line sent with every request
// (e.g. "X-Api-Key: secret" or "Authorization: Bearer secret").
func WithAuthHeader(header string) Option {
	return func(p *Provider) { p.authHeader = header }
}

// WithModel records a model label reported in SttResult.Model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithFieldMapping overrides the default response field names.
func WithFieldMapping(m FieldMapping) Option {
	return func(p *Provider) { p.fields = m.withDefaults() }
}

// WithTimeout bounds how long a single Transcribe call may run.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// Provider implements stt.Provider against a generic HTTP transcription
// backend described entirely by configuration.
type Provider struct {
	url        string
	authHeader string
	model      string
	fields     FieldMapping
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a custom Provider. url must be non-empty.
func New(url string, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(url) == "" {
		return nil, gwerr.New(gwerr.CodeMissingConfig, "custom: url must not be empty")
	}
	p := &Provider{
		url:        url,
		fields:     FieldMapping{}.withDefaults(),
		timeout:    15 * time.Second,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Provider) ProviderId() ids.ProviderId { return ids.ProviderCustom }
func (p *Provider) Name() string               { return "custom" }

// Transcribe posts the raw audio body to the configured URL and normalizes
// the response using the configured field mapping.
func (p *Provider) Transcribe(ctx context.Context, audio stt.AudioPayload, tctx stt.Context) (stt.SttResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(audio.Bytes))
	if err != nil {
		return stt.SttResult{}, gwerr.New(gwerr.CodeInternalError, "custom: build request").WithCause(err)
	}
	req.Header.Set("Content-Type", audio.ContentType)
	if p.authHeader == "" {
		return stt.SttResult{}, gwerr.New(gwerr.CodeMissingConfig, "custom: no auth header configured")
	}
	if key, val, ok := strings.Cut(p.authHeader, ":"); ok {
		req.Header.Set(strings.TrimSpace(key), strings.TrimSpace(val))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return stt.SttResult{}, gwerr.New(gwerr.CodeSTTTimeout, "custom: request timed out").WithCause(err)
		}
		return stt.SttResult{}, gwerr.New(gwerr.CodeSTTUnavailable, "custom: network error").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return stt.SttResult{}, gwerr.NewWithKind(gwerr.Operator, gwerr.CodeSTTTranscriptionFailed, "custom: backend returned an error").WithDetail(fmt.Sprintf("status %d: %s", resp.StatusCode, string(raw)))
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return stt.SttResult{}, gwerr.New(gwerr.CodeSTTUnavailable, "custom: decode response").WithCause(err)
	}

	topText, _ := raw[p.fields.TextField].(string)
	segTexts := extractSegmentTexts(raw[p.fields.SegmentsField], p.fields.SegmentText)
	text, err := stt.Normalize(segTexts, topText)
	if err != nil {
		return stt.SttResult{}, err
	}

	lang, _ := raw[p.fields.LanguageField].(string)
	if lang == "" {
		lang = tctx.LanguageHint
	}
	var model *string
	if p.model != "" {
		m := p.model
		model = &m
	}
	return stt.SttResult{
		Text:       text,
		Language:   lang,
		ProviderId: ids.ProviderCustom,
		Model:      model,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func extractSegmentTexts(raw any, textKey string) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := m[textKey].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

// HealthCheck issues a HEAD request against the configured URL.
func (p *Provider) HealthCheck(ctx context.Context) (stt.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return stt.HealthStatus{}, gwerr.New(gwerr.CodeInternalError, "custom: build health request").WithCause(err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.HealthStatus{Healthy: false, Message: "unreachable"}, nil
	}
	defer resp.Body.Close()
	return stt.HealthStatus{
		Healthy:   resp.StatusCode < 500,
		Message:   resp.Status,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

var _ stt.Provider = (*Provider)(nil)
