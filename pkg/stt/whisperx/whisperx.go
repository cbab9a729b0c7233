// Package whisperx provides an STT provider backed by a self-hosted WhisperX
// HTTP service. Transcription is asynchronous: a job is submitted, then
// polled at pollIntervalMs until it reports completion or timeoutMs elapses.
package whisperx

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

const defaultPollInterval = 250 * time.Millisecond

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithHTTPClient overrides the default http.Client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithModel sets the WhisperX model name reported in SttResult.Model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language sent with each job.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithPollInterval overrides the default job-status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) { p.pollInterval = d }
}

// WithTimeout bounds how long Transcribe waits for a job to complete.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// Provider implements stt.Provider backed by a WhisperX HTTP service.
type Provider struct {
	baseURL      string
	model        string
	language     string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
}

// New creates a WhisperX Provider. baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, gwerr.New(gwerr.CodeMissingConfig, "whisperx: base URL must not be empty")
	}
	p := &Provider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: defaultPollInterval,
		timeout:      10 * time.Second,
		httpClient:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Provider) ProviderId() ids.ProviderId { return ids.ProviderWhisperX }
func (p *Provider) Name() string               { return "whisperx" }

type submitJobResponse struct {
	JobID string `json:"jobId"`
}

type jobStatusResponse struct {
	Status   string            `json:"status"` // "queued", "running", "completed", "failed"
	Error    string            `json:"error"`
	Text     string            `json:"text"`
	Language string            `json:"language"`
	Segments []whisperxSegment `json:"segments"`
}

type whisperxSegment struct {
	Text string `json:"text"`
}

// Transcribe submits the audio to WhisperX and polls until completion,
// timeout, or cancellation.
func (p *Provider) Transcribe(ctx context.Context, audio stt.AudioPayload, tctx stt.Context) (stt.SttResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	lang := p.language
	if tctx.LanguageHint != "" {
		lang = tctx.LanguageHint
	}

	submitURL := fmt.Sprintf("%s/jobs?language=%s", p.baseURL, lang)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(audio.Bytes))
	if err != nil {
		return stt.SttResult{}, gwerr.New(gwerr.CodeInternalError, "whisperx: build request").WithCause(err)
	}
	req.Header.Set("Content-Type", audio.ContentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.SttResult{}, classifyNetErr(ctx, err)
	}
	var submitted submitJobResponse
	if err := decodeAndClose(resp, &submitted); err != nil {
		return stt.SttResult{}, gwerr.New(gwerr.CodeSTTUnavailable, "whisperx: decode job submission").WithCause(err)
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return stt.SttResult{}, gwerr.New(gwerr.CodeSTTTimeout, "whisperx: job did not complete in time")
			}
			return stt.SttResult{}, gwerr.New(gwerr.CodeSTTTimeout, "whisperx: cancelled").WithCause(ctx.Err())
		case <-ticker.C:
			status, err := p.pollOnce(ctx, submitted.JobID)
			if err != nil {
				return stt.SttResult{}, err
			}
			switch status.Status {
			case "completed":
				return p.finalize(status, start, lang)
			case "failed":
				return stt.SttResult{}, gwerr.NewWithKind(gwerr.Operator, gwerr.CodeSTTTranscriptionFailed, "whisperx: job failed").WithDetail(status.Error)
			default:
				continue
			}
		}
	}
}

func (p *Provider) pollOnce(ctx context.Context, jobID string) (jobStatusResponse, error) {
	statusURL := fmt.Sprintf("%s/jobs/%s", p.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return jobStatusResponse{}, gwerr.New(gwerr.CodeInternalError, "whisperx: build poll request").WithCause(err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return jobStatusResponse{}, classifyNetErr(ctx, err)
	}
	var status jobStatusResponse
	if err := decodeAndClose(resp, &status); err != nil {
		return jobStatusResponse{}, gwerr.New(gwerr.CodeSTTUnavailable, "whisperx: decode job status").WithCause(err)
	}
	return status, nil
}

func (p *Provider) finalize(status jobStatusResponse, start time.Time, lang string) (stt.SttResult, error) {
	segTexts := make([]string, len(status.Segments))
	for i, s := range status.Segments {
		segTexts[i] = s.Text
	}
	text, err := stt.Normalize(segTexts, status.Text)
	if err != nil {
		return stt.SttResult{}, err
	}
	if status.Language != "" {
		lang = status.Language
	}
	var model *string
	if p.model != "" {
		m := p.model
		model = &m
	}
	return stt.SttResult{
		Text:       text,
		Language:   lang,
		ProviderId: ids.ProviderWhisperX,
		Model:      model,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// HealthCheck reports whether the WhisperX service answers its health route.
func (p *Provider) HealthCheck(ctx context.Context) (stt.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/healthz", nil)
	if err != nil {
		return stt.HealthStatus{}, gwerr.New(gwerr.CodeInternalError, "whisperx: build health request").WithCause(err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.HealthStatus{Healthy: false, Message: "unreachable"}, nil
	}
	defer resp.Body.Close()
	return stt.HealthStatus{
		Healthy:   resp.StatusCode == http.StatusOK,
		Message:   resp.Status,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func decodeAndClose(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func classifyNetErr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return gwerr.New(gwerr.CodeSTTTimeout, "whisperx: request timed out").WithCause(err)
	}
	return gwerr.New(gwerr.CodeSTTUnavailable, "whisperx: network error").WithCause(err)
}

var _ stt.Provider = (*Provider)(nil)
