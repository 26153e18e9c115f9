package mailstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/objectmail/objectmail/internal/errvalues"
)

// InMemoryStore is a map-backed Store for fast test runs with no real
// IMAP server — a simple in-process stand-in for the external resource,
// keyed by a generated message ID instead of a filesystem path.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string][]byte)}
}

func (s *InMemoryStore) StoreChunk(ctx context.Context, hash string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	messageID := uuid.NewString()
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.data[messageID] = buf
	s.mu.Unlock()
	return messageID, nil
}

func (s *InMemoryStore) FetchChunk(ctx context.Context, messageID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[messageID]
	if !ok {
		return nil, errvalues.ErrChunkMissing
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (s *InMemoryStore) DeleteChunk(ctx context.Context, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.data, messageID)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
