// Package providerset holds the live, constructed STT providers keyed by
// provider id. It is the "provider map" of spec.md §5: seeded once by the app
// at startup and then mutated by the STT rebuilder on config change, read by
// the orchestrator once per turn.
package providerset

import (
	"sync"

	"github.com/glyphgate/voicegate/pkg/ids"
	"github.com/glyphgate/voicegate/pkg/stt"
)

// Set is a concurrency-safe publish/lookup map from ProviderId to the
// currently active stt.Provider instance. Swaps are rare (only on config
// patches touching STT settings); lookups happen on every turn.
type Set struct {
	mu        sync.RWMutex
	providers map[ids.ProviderId]stt.Provider
}

// New returns an empty Set.
func New() *Set {
	return &Set{providers: make(map[ids.ProviderId]stt.Provider)}
}

// Get returns the provider registered under id, if any.
func (s *Set) Get(id ids.ProviderId) (stt.Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	return p, ok
}

// Set publishes p under id, replacing any prior provider for that id. The
// previous instance (if any) is returned so the caller can decide whether it
// needs draining; STT providers in this gateway are stateless HTTP adapters
// and require no explicit teardown.
func (s *Set) Set(id ids.ProviderId, p stt.Provider) stt.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.providers[id]
	s.providers[id] = p
	return prev
}

// All returns a snapshot of every registered provider. The /readyz STT check
// does not use it; it looks up only the active provider via Get.
func (s *Set) All() []stt.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]stt.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	return out
}
