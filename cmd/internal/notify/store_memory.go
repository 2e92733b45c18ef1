package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"relay/cmd/identity/ids"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Notification
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Notification)}
}

func (s *MemoryStore) Create(ctx context.Context, in NewNotification) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}
	if err := in.validate(); err != nil {
		return Notification{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Notification{}, err
	}
	n := Notification{
		ID:          id,
		UserID:      in.UserID,
		Kind:        in.Kind,
		Title:       in.Title,
		Description: in.Description,
		CreatedAt:   now,
	}

	s.mu.Lock()
	s.rows[id] = n
	s.mu.Unlock()
	return n, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var out []Notification
	for _, n := range s.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.IsRead = true
	s.rows[id] = n
	return nil
}
