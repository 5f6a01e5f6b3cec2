package receipts

import (
	"context"
	"sync"

	"github.com/mbd888/driveledger/internal/channels"
)

// MemoryStore is an in-memory receipt store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.RWMutex
	history map[Triple][]*Record // oldest first
}

// NewMemoryStore creates a new in-memory receipt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{history: make(map[Triple][]*Record)}
}

func (m *MemoryStore) Latest(_ context.Context, t Triple) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.history[t]
	if len(recs) == 0 || recs[len(recs)-1].Superseded {
		return nil, ErrReceiptNotFound
	}
	cp := *recs[len(recs)-1]
	return &cp, nil
}

func (m *MemoryStore) Append(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := rec.Triple()
	for _, old := range m.history[t] {
		old.Superseded = true
	}
	cp := *rec
	cp.Superseded = false
	m.history[t] = append(m.history[t], &cp)
	return nil
}

func (m *MemoryStore) History(_ context.Context, t Triple, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.history[t]
	out := make([]*Record, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *recs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SupersedeChannel(_ context.Context, ch channels.ChannelID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t, recs := range m.history {
		if t.Channel != ch {
			continue
		}
		for _, r := range recs {
			r.Superseded = true
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
