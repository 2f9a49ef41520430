package store

import (
	"context"

	"github.com/google/uuid"

	"listbridge/internal/pkg/kvstore"
)

// MemoryStore keeps routing targets and archived messages in process
// memory. It backs the "memory" storage driver and tests; archived
// messages do not survive restarts.
type MemoryStore struct {
	lists    *kvstore.KVStore[string, *RoutingTarget]
	messages *kvstore.KVStore[string, *MessageRecord]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:    kvstore.New[string, *RoutingTarget](),
		messages: kvstore.New[string, *MessageRecord](),
	}
}

// AddList registers a routing target under its key.
func (s *MemoryStore) AddList(list *RoutingTarget) {
	s.lists.Set(list.Key, list)
}

func (s *MemoryStore) FindByKey(_ context.Context, key string) (*RoutingTarget, error) {
	list, ok := s.lists.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return list, nil
}

func (s *MemoryStore) PrimaryEmails(_ context.Context, members []Member) ([]string, error) {
	return DedupEmails(members), nil
}

func (s *MemoryStore) StoreMessage(_ context.Context, record *MessageRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	s.messages.Set(record.ID, record)
	return nil
}

// Message returns an archived message by id.
func (s *MemoryStore) Message(id string) (*MessageRecord, bool) {
	return s.messages.Get(id)
}
