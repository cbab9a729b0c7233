package agentclient

import "sync"

// Holder is the mutable shared holder for the process-lifetime agent-runtime
// client (spec.md §9). The agent-client rebuilder is the only writer; every
// turn and the shutdown path read through Current so that a hot-reloaded
// client is what shutdown actually disconnects, never a value captured at
// startup.
type Holder struct {
	mu      sync.RWMutex
	current *Client
}

// NewHolder wraps an initial Client.
func NewHolder(c *Client) *Holder {
	return &Holder{current: c}
}

// Current returns the presently active Client.
func (h *Holder) Current() *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Swap installs next as the current Client and returns the one it replaced.
func (h *Holder) Swap(next *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.current
	h.current = next
	return prev
}
