package quota

import (
	"context"
	"sync"
	"time"

	"github.com/nevindra/vybe"
)

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	usage map[string]vybe.QuotaUsage
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{usage: make(map[string]vybe.QuotaUsage), now: time.Now}
}

func (m *MemoryStore) ConsumeUsage(_ context.Context, key string, points int, window time.Duration) (vybe.QuotaUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UnixMilli()
	u := m.usage[key]
	if u.ExpireAt <= now {
		u = vybe.QuotaUsage{Key: key, ExpireAt: now + window.Milliseconds()}
	}
	u.Points += points
	m.usage[key] = u
	return u, nil
}

func (m *MemoryStore) GetUsage(_ context.Context, key string) (vybe.QuotaUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usage[key]
	if !ok || u.ExpireAt <= m.now().UnixMilli() {
		return vybe.QuotaUsage{Key: key}, nil
	}
	return u, nil
}
