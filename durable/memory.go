package durable

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Records do not survive the process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[stepKey]StepRecord
	now     func() time.Time
}

type stepKey struct{ run, name string }

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[stepKey]StepRecord), now: time.Now}
}

func (m *MemoryStore) ClaimStep(_ context.Context, runID, name, owner string, lease time.Duration) (StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := stepKey{runID, name}
	now := m.now().UnixMilli()
	rec, ok := m.records[k]
	switch {
	case !ok:
		rec = StepRecord{RunID: runID, Name: name, Owner: owner, ClaimedAt: now}
	case rec.Completed():
		return rec, nil
	case rec.Owner == owner || rec.ClaimedAt+lease.Milliseconds() <= now:
		rec.Owner = owner
		rec.ClaimedAt = now
	default:
		return StepRecord{}, ErrStepInFlight
	}
	m.records[k] = rec
	return rec, nil
}

func (m *MemoryStore) CompleteStep(_ context.Context, runID, name, owner string, result []byte) (StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := stepKey{runID, name}
	rec, ok := m.records[k]
	if ok && rec.Completed() {
		return rec, nil
	}
	if !ok || rec.Owner != owner {
		return StepRecord{}, ErrClaimLost
	}
	rec.Result = append([]byte(nil), result...)
	rec.CompletedAt = m.now().UnixMilli()
	m.records[k] = rec
	return rec, nil
}

func (m *MemoryStore) ReleaseStep(_ context.Context, runID, name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := stepKey{runID, name}
	if rec, ok := m.records[k]; ok && !rec.Completed() && rec.Owner == owner {
		delete(m.records, k)
	}
	return nil
}

func (m *MemoryStore) ListSteps(_ context.Context, runID string) ([]StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []StepRecord
	for k, rec := range m.records {
		if k.run == runID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ClaimedAt != out[j].ClaimedAt {
			return out[i].ClaimedAt < out[j].ClaimedAt
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
