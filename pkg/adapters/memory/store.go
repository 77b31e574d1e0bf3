package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
)

// Store implements ports.TrackerStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]domain.Events
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]domain.Events),
	}
}

// Save keeps a copy of the event list. Events themselves are immutable once
// stamped, so they are shared.
func (s *Store) Save(_ context.Context, dlg *domain.Dialogue) error {
	events := make(domain.Events, len(dlg.Events))
	copy(events, dlg.Events)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[dlg.SenderID] = events
	return nil
}

// Load retrieves a conversation.
func (s *Store) Load(_ context.Context, senderID string) (*domain.Dialogue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, ok := s.data[senderID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}

	// copy on read so callers cannot grow the stored slice
	out := make(domain.Events, len(events))
	copy(out, events)
	return &domain.Dialogue{SenderID: senderID, Events: out}, nil
}

// Delete removes a conversation.
func (s *Store) Delete(_ context.Context, senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, senderID)
	return nil
}

// List returns stored conversation ids, sorted.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
