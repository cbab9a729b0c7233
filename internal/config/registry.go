package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/glyphgate/voicegate/pkg/ids"
	"github.com/glyphgate/voicegate/pkg/stt"
)

// ErrProviderNotRegistered is returned by CreateSTT when no factory has been
// registered under the requested provider id.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps ProviderId to the constructor used to build an stt.Provider
// from a GatewayConfig snapshot. It is safe for concurrent use; the startup
// seed (internal/app) calls CreateSTT for the configured provider, and the
// STT rebuilder (internal/rebuild) calls Create for each provider section a
// config change touches.
type Registry struct {
	mu  sync.RWMutex
	stt map[ids.ProviderId]func(GatewayConfig) (stt.Provider, error)
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[ids.ProviderId]func(GatewayConfig) (stt.Provider, error)),
	}
}

// RegisterSTT registers an STT provider factory under id. Subsequent calls
// with the same id overwrite the previous registration.
func (r *Registry) RegisterSTT(id ids.ProviderId, factory func(GatewayConfig) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[id] = factory
}

// CreateSTT instantiates the STT provider registered under cfg.STTProvider.
// Returns ErrProviderNotRegistered if no factory has been registered for
// that id.
func (r *Registry) CreateSTT(cfg GatewayConfig) (stt.Provider, error) {
	return r.Create(cfg.STTProvider, cfg)
}

// Create instantiates the STT provider registered under id, independent of
// cfg.STTProvider. The rebuilder uses this to rebuild a single patched
// provider's section (e.g. "openai") without regard to which provider is
// currently selected.
func (r *Registry) Create(id ids.ProviderId, cfg GatewayConfig) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, id)
	}
	return factory(cfg)
}
