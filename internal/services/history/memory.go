package history

import (
	"context"
	"sync"
)

// MemoryHistory is the in-process History used when no Redis is configured.
type MemoryHistory struct {
	mu       sync.Mutex
	capacity int
	turns    map[string][]Turn
}

// NewMemory keeps at most capacity turns per user.
func NewMemory(capacity int) *MemoryHistory {
	if capacity < 0 {
		capacity = 0
	}
	return &MemoryHistory{capacity: capacity, turns: make(map[string][]Turn)}
}

func (h *MemoryHistory) Append(_ context.Context, userID string, turns ...Turn) error {
	if h.capacity == 0 || len(turns) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.turns[userID], turns...)
	if over := len(list) - h.capacity; over > 0 {
		list = append([]Turn(nil), list[over:]...)
	}
	h.turns[userID] = list
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, userID string, n int) ([]Turn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.turns[userID]
	if n <= 0 || len(list) == 0 {
		return nil, nil
	}
	if n < len(list) {
		list = list[len(list)-n:]
	}
	return append([]Turn(nil), list...), nil
}

func (h *MemoryHistory) Clear(_ context.Context, userID string) error {
	h.mu.Lock()
	delete(h.turns, userID)
	h.mu.Unlock()
	return nil
}

func (h *MemoryHistory) Close() error { return nil }
