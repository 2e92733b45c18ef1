package realtime

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipStore answers which posts a user follows. Post membership itself is
// owned by the posts domain; this is a read boundary.
type MembershipStore interface {
	ListPostIDs(ctx context.Context, userID string) ([]string, error)
}

// PostgresMembershipStore reads <schema>.post_members.
type PostgresMembershipStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresMembershipStore constructs a membership store backed by PostgreSQL.
func NewPostgresMembershipStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresMembershipStore, error) {
	schema, err := applySchema(opts)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return &PostgresMembershipStore{pool: pool, schema: schema}, nil
}

// ListPostIDs returns the posts userID belongs to, oldest membership first.
func (s *PostgresMembershipStore) ListPostIDs(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT post_id FROM `+pgIdent(s.schema, "post_members")+`
		WHERE user_id = $1
		ORDER BY joined_at, post_id
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Join records membership. Used by the posts domain and tests.
func (s *PostgresMembershipStore) Join(ctx context.Context, postID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+pgIdent(s.schema, "post_members")+` (post_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, postID, userID)
	return err
}

// Leave removes membership.
func (s *PostgresMembershipStore) Leave(ctx context.Context, postID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgIdent(s.schema, "post_members")+` WHERE post_id = $1 AND user_id = $2`,
		postID, userID,
	)
	return err
}

// MemoryMembershipStore is an in-process MembershipStore.
type MemoryMembershipStore struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
}

// NewMemoryMembershipStore constructs an empty store.
func NewMemoryMembershipStore() *MemoryMembershipStore {
	return &MemoryMembershipStore{byUser: make(map[string]map[string]struct{})}
}

func (s *MemoryMembershipStore) ListPostIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryMembershipStore) Join(_ context.Context, postID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]struct{})
	}
	s.byUser[userID][postID] = struct{}{}
	return nil
}

func (s *MemoryMembershipStore) Leave(_ context.Context, postID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byUser[userID], postID)
	return nil
}
