package gateway

import (
	"sync"
	"time"
)

// Status is the queryable health signal of the gateway.
type Status struct {
	Degraded      bool      `json:"degraded"`
	Since         time.Time `json:"since,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	PendingWrites int       `json:"pending_writes"`
}

// Health is process-wide connectivity state. It starts online, turns
// degraded on the first failed remote call and returns to online only when a
// later regular call succeeds. Nothing checks the remote side in between.
type Health struct {
	mu       sync.RWMutex
	degraded bool
	since    time.Time
	lastErr  string
	now      func() time.Time
}

func NewHealth() *Health {
	return &Health{now: time.Now}
}

// markDegraded records err and reports whether this call flipped the state.
func (h *Health) markDegraded(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.lastErr = err.Error()
	}
	if h.degraded {
		return false
	}
	h.degraded = true
	h.since = h.now().UTC()
	return true
}

// markOnline reports whether this call cleared a degraded state.
func (h *Health) markOnline() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.degraded {
		return false
	}
	h.degraded = false
	h.since = h.now().UTC()
	h.lastErr = ""
	return true
}

func (h *Health) Degraded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.degraded
}

func (h *Health) Snapshot() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Status{Degraded: h.degraded, Since: h.since, LastError: h.lastErr}
}
