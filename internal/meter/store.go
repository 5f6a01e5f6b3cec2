package meter

import (
	"context"
	"sync"

	"github.com/mbd888/driveledger/internal/channels"
)

// Store checkpoints counters so a restart does not lose accounting.
type Store interface {
	Save(ctx context.Context, entries []Entry) error
	Load(ctx context.Context) ([]Entry, error)
	DeleteChannel(ctx context.Context, ch channels.ChannelID) error
}

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Pair]Counters
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Pair]Counters)}
}

func (s *MemoryStore) Save(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.Pair] = e.Counters
	}
	return nil
}

func (s *MemoryStore) Load(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for p, c := range s.entries {
		out = append(out, Entry{Pair: p, Counters: c})
	}
	return out, nil
}

func (s *MemoryStore) DeleteChannel(_ context.Context, ch channels.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.entries {
		if p.Channel == ch {
			delete(s.entries, p)
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
