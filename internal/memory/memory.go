// Package memory defines the cross-game agent memory store. Sessions buffer
// records and flush them here only once the game has ended, so a crashed
// session never leaves partial memories behind.
package memory

import (
	"context"
	"sync"

	"mafiasim/internal/domain"
)

// Store loads and extends per-agent memories. Implementations must be safe
// for concurrent use.
type Store interface {
	Load(ctx context.Context, agent string) (domain.Memory, error)
	Append(ctx context.Context, agent string, recs []domain.MemoryRecord) error
}

// InMemory is the store used by tests and one-shot CLI games without a
// workspace.
type InMemory struct {
	mu      sync.Mutex
	byAgent map[string][]domain.MemoryRecord
}

func NewInMemory() *InMemory {
	return &InMemory{byAgent: map[string][]domain.MemoryRecord{}}
}

func (s *InMemory) Load(_ context.Context, agent string) (domain.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.byAgent[agent]
	out := make([]domain.MemoryRecord, len(recs))
	copy(out, recs)
	return domain.Memory{Agent: agent, Records: out}, nil
}

func (s *InMemory) Append(_ context.Context, agent string, recs []domain.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAgent[agent] = append(s.byAgent[agent], recs...)
	return nil
}
