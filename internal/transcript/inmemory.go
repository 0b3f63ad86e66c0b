package transcript

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

var newID = uuid.NewString

// InMemoryStore keeps replies in process for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	replies map[string][]Reply
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{replies: make(map[string][]Reply)}
}

func (s *InMemoryStore) SaveReply(_ context.Context, reply Reply) error {
	reply = prepare(reply)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[reply.SessionID] = append(s.replies[reply.SessionID], reply)
	return nil
}

func (s *InMemoryStore) SessionReplies(_ context.Context, sessionID string, limit int) ([]Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr, ok := s.replies[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Reply, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
