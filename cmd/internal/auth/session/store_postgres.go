package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"relay/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (<schema>.sessions).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return s, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

const sessionColumns = `id, user_id, refresh_token_hash, previous_token_hash, fingerprint,
	user_agent, ip, created_at, last_used_at, expires_at`

func scanSession(row pgx.Row) (Session, error) {
	var (
		out  Session
		prev *string
		ua   *string
		ip   *net.IP
	)
	err := row.Scan(
		&out.ID,
		&out.UserID,
		&out.RefreshTokenHash,
		&prev,
		&out.Fingerprint,
		&ua,
		&ip,
		&out.CreatedAt,
		&out.LastUsedAt,
		&out.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if prev != nil {
		out.PreviousTokenHash = *prev
	}
	if ua != nil {
		out.UserAgent = *ua
	}
	if ip != nil {
		out.IP = *ip
	}
	return out, nil
}

// CreateSession runs cap eviction and the insert in one transaction, serialized
// per user by a transaction-scoped advisory lock.
func (s *PostgresStore) CreateSession(ctx context.Context, in NewSession) (Session, error) {
	if err := in.validate(); err != nil {
		return Session{}, err
	}
	now := normalizeNow(in.Now)

	id, err := ids.NewULID(now)
	if err != nil {
		return Session{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Session{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockUserTx(ctx, tx, in.UserID); err != nil {
		return Session{}, err
	}

	if in.Cap > 0 {
		n, err := countActiveTx(ctx, tx, s.table(), in.UserID, now)
		if err != nil {
			return Session{}, err
		}
		if n >= in.Cap {
			if _, err := deleteUserTx(ctx, tx, s.table(), in.UserID); err != nil {
				return Session{}, err
			}
		}
	}

	out, err := insertTx(ctx, tx, s.table(), id, in, now)
	if err != nil {
		return Session{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, err
	}
	return out, nil
}

// RotateSession is a single conditional UPDATE on the current token hash.
// When it matches nothing, one read classifies the miss.
func (s *PostgresStore) RotateSession(ctx context.Context, r Rotation) (Session, error) {
	if err := r.validate(); err != nil {
		return Session{}, err
	}
	now := normalizeNow(r.Now)

	out, err := scanSession(s.pool.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET refresh_token_hash = $2,
		    previous_token_hash = $1,
		    expires_at = $3,
		    user_agent = $4,
		    ip = $5,
		    last_used_at = $6
		WHERE refresh_token_hash = $1
		  AND expires_at > $6
		RETURNING `+sessionColumns,
		r.OldTokenHash, r.NewTokenHash, now.Add(r.TTL), nullIfEmpty(r.UserAgent), nullIP(r.IP), now,
	))
	if err == nil {
		return out, nil
	}
	if pgIsUniqueViolation(err) {
		return Session{}, ErrDuplicateToken
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return Session{}, err
	}

	var state string
	err = s.pool.QueryRow(ctx, `
		SELECT CASE WHEN refresh_token_hash = $1 THEN 'expired' ELSE 'replayed' END
		FROM `+s.table()+`
		WHERE refresh_token_hash = $1 OR previous_token_hash = $1
		LIMIT 1
	`, r.OldTokenHash).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if state == "expired" {
		return Session{}, ErrSessionExpired
	}
	return Session{}, ErrReplayDetected
}

// RevokeSession deletes the session holding refreshHash.
func (s *PostgresStore) RevokeSession(ctx context.Context, refreshHash string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE refresh_token_hash = $1`, refreshHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) FindByToken(ctx context.Context, refreshHash string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table()+`
		WHERE refresh_token_hash = $1
	`, refreshHash))
}

func (s *PostgresStore) FindByPreviousToken(ctx context.Context, refreshHash string) (Session, error) {
	if refreshHash == "" {
		return Session{}, ErrSessionNotFound
	}
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table()+`
		WHERE previous_token_hash = $1
		LIMIT 1
	`, refreshHash))
}

func (s *PostgresStore) RevokeByID(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table()+`
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY created_at DESC, id DESC
	`, userID, normalizeNow(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	return countActive(ctx, s.pool, s.table(), userID, normalizeNow(now))
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE expires_at <= $1`, normalizeNow(now))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIP(ip net.IP) any {
	if ip == nil {
		return nil
	}
	return ip
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
