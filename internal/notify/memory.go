package notify

import (
	"context"
	"slices"
	"sync"

	"github.com/example/taxi-dispatch/internal/models"
)

type MemoryFeed struct {
	mu       sync.RWMutex
	capacity int
	feeds    map[string][]models.Notification // newest first
}

func NewMemoryFeed(capacity int) *MemoryFeed {
	if capacity <= 0 {
		capacity = DefaultLimit
	}
	return &MemoryFeed{capacity: capacity, feeds: make(map[string][]models.Notification)}
}

func (m *MemoryFeed) Append(_ context.Context, ns ...models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range ns {
		k := key(n)
		f := append([]models.Notification{n}, m.feeds[k]...)
		if len(f) > m.capacity {
			f = f[:m.capacity]
		}
		m.feeds[k] = f
	}
	return nil
}

func (m *MemoryFeed) List(_ context.Context, userID int64, role models.Role, limit int) ([]models.Notification, error) {
	m.mu.RLock()
	own := slices.Clone(m.feeds[userKey(userID)])
	var broadcast []models.Notification
	if role != "" {
		broadcast = slices.Clone(m.feeds[roleKey(role)])
	}
	m.mu.RUnlock()
	return merge(limit, own, broadcast), nil
}
