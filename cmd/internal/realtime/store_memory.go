package realtime

import (
	"context"
	"sort"
	"sync"
)

// MemoryConnectionStore is an in-process ConnectionStore for dev mode and tests.
type MemoryConnectionStore struct {
	mu   sync.RWMutex
	rows map[string]ConnectionRecord
}

// NewMemoryConnectionStore constructs an empty store.
func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{rows: make(map[string]ConnectionRecord)}
}

func (s *MemoryConnectionStore) Insert(ctx context.Context, rec ConnectionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[rec.ConnectionID]; ok {
		return ErrDuplicateConnection
	}
	s.rows[rec.ConnectionID] = rec
	return nil
}

func (s *MemoryConnectionStore) Delete(ctx context.Context, connectionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.rows[connectionID]
	delete(s.rows, connectionID)
	return ok, nil
}

func (s *MemoryConnectionStore) ListByUser(ctx context.Context, userID string, channel Channel) ([]string, error) {
	return s.list(ctx, func(r ConnectionRecord) bool {
		return r.Channel == channel && r.UserID == userID
	})
}

func (s *MemoryConnectionStore) ListByChannelExcept(ctx context.Context, channel Channel, userID string) ([]string, error) {
	return s.list(ctx, func(r ConnectionRecord) bool {
		return r.Channel == channel && r.UserID != userID
	})
}

func (s *MemoryConnectionStore) list(ctx context.Context, keep func(ConnectionRecord) bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, r := range s.rows {
		if keep(r) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
