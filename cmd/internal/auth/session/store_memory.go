package session

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"relay/cmd/identity/ids"
)

// MemoryStore implements Store in process memory for dev mode and tests.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Session
	byHash map[string]string // refresh hash -> session id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Session),
		byHash: make(map[string]string),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, in NewSession) (Session, error) {
	if err := in.validate(); err != nil {
		return Session{}, err
	}
	now := normalizeNow(in.Now)

	id, err := ids.NewULID(now)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byHash[in.RefreshTokenHash]; taken {
		return Session{}, ErrDuplicateToken
	}

	if in.Cap > 0 && m.countLocked(in.UserID, now) >= in.Cap {
		m.deleteUserLocked(in.UserID)
	}

	s := &Session{
		ID:               id,
		UserID:           in.UserID,
		RefreshTokenHash: in.RefreshTokenHash,
		Fingerprint:      in.Fingerprint,
		UserAgent:        in.UserAgent,
		IP:               cloneIP(in.IP),
		CreatedAt:        now,
		LastUsedAt:       now,
		ExpiresAt:        now.Add(in.TTL),
	}
	m.byID[id] = s
	m.byHash[s.RefreshTokenHash] = id
	return *s, nil
}

func (m *MemoryStore) RotateSession(_ context.Context, r Rotation) (Session, error) {
	if err := r.validate(); err != nil {
		return Session{}, err
	}
	now := normalizeNow(r.Now)

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[r.OldTokenHash]
	if !ok {
		if m.previousLocked(r.OldTokenHash) != nil {
			return Session{}, ErrReplayDetected
		}
		return Session{}, ErrSessionNotFound
	}
	s := m.byID[id]
	if !s.Active(now) {
		return Session{}, ErrSessionExpired
	}
	if _, taken := m.byHash[r.NewTokenHash]; taken {
		return Session{}, ErrDuplicateToken
	}

	delete(m.byHash, r.OldTokenHash)
	s.PreviousTokenHash = r.OldTokenHash
	s.RefreshTokenHash = r.NewTokenHash
	s.ExpiresAt = now.Add(r.TTL)
	s.UserAgent = r.UserAgent
	s.IP = cloneIP(r.IP)
	s.LastUsedAt = now
	m.byHash[r.NewTokenHash] = id
	return *s, nil
}

func (m *MemoryStore) RevokeSession(_ context.Context, refreshHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[refreshHash]
	if !ok {
		return ErrSessionNotFound
	}
	m.deleteLocked(id)
	return nil
}

func (m *MemoryStore) FindByToken(_ context.Context, refreshHash string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[refreshHash]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *m.byID[id], nil
}

func (m *MemoryStore) FindByPreviousToken(_ context.Context, refreshHash string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.previousLocked(refreshHash); s != nil {
		return *s, nil
	}
	return Session{}, ErrSessionNotFound
}

func (m *MemoryStore) RevokeByID(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[sessionID]; !ok {
		return ErrSessionNotFound
	}
	m.deleteLocked(sessionID)
	return nil
}

func (m *MemoryStore) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteUserLocked(userID), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, now time.Time) ([]Session, error) {
	now = normalizeNow(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.byID {
		if s.UserID == userID && s.Active(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CountByUser(_ context.Context, userID string, now time.Time) (int, error) {
	now = normalizeNow(now)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(userID, now), nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	now = normalizeNow(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.byID {
		if !s.Active(now) {
			m.deleteLocked(id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) countLocked(userID string, now time.Time) int {
	n := 0
	for _, s := range m.byID {
		if s.UserID == userID && s.Active(now) {
			n++
		}
	}
	return n
}

func (m *MemoryStore) previousLocked(hash string) *Session {
	if hash == "" {
		return nil
	}
	for _, s := range m.byID {
		if s.PreviousTokenHash == hash {
			return s
		}
	}
	return nil
}

func (m *MemoryStore) deleteUserLocked(userID string) int64 {
	var n int64
	for id, s := range m.byID {
		if s.UserID == userID {
			m.deleteLocked(id)
			n++
		}
	}
	return n
}

func (m *MemoryStore) deleteLocked(id string) {
	if s, ok := m.byID[id]; ok {
		delete(m.byHash, s.RefreshTokenHash)
		delete(m.byID, id)
	}
}

func normalizeNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}

func cloneIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}
