// Package mock provides a test double for stt.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/glyphgate/voicegate/pkg/ids"
	"github.com/glyphgate/voicegate/pkg/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Audio stt.AudioPayload
	Ctx   stt.Context
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	Id    ids.ProviderId
	Name_ string

	// Result is returned by Transcribe when TranscribeErr is nil.
	Result stt.SttResult
	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error
	// Health is returned by HealthCheck when HealthErr is nil.
	Health stt.HealthStatus
	// HealthErr, if non-nil, is returned as the error from HealthCheck.
	HealthErr error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Result, TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, audio stt.AudioPayload, tctx stt.Context) (stt.SttResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Audio: audio, Ctx: tctx})
	if p.TranscribeErr != nil {
		return stt.SttResult{}, p.TranscribeErr
	}
	return p.Result, nil
}

// HealthCheck returns Health, HealthErr.
func (p *Provider) HealthCheck(ctx context.Context) (stt.HealthStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.HealthErr != nil {
		return stt.HealthStatus{}, p.HealthErr
	}
	return p.Health, nil
}

func (p *Provider) ProviderId() ids.ProviderId {
	if p.Id == "" {
		return ids.ProviderCustom
	}
	return p.Id
}

func (p *Provider) Name() string {
	if p.Name_ == "" {
		return "mock"
	}
	return p.Name_
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

var _ stt.Provider = (*Provider)(nil)
