package notify

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"relay/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by <schema>.notifications.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema (default: "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRE.MatchString(schema) {
			return errors.New("notify: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs the store. It does not own the pool.
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
	if pool == nil {
		return nil, errors.New("notify: nil pool")
	}
	return s, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "notifications"}.Sanitize()
}

func (s *PostgresStore) Create(ctx context.Context, in NewNotification) (Notification, error) {
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.table()+` (id, user_id, kind, title, description, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
	`, id, in.UserID, string(in.Kind), in.Title, in.Description, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Notification{}, ErrInvalidInput
		}
		return Notification{}, err
	}

	return Notification{
		ID:          id,
		UserID:      in.UserID,
		Kind:        in.Kind,
		Title:       in.Title,
		Description: in.Description,
		CreatedAt:   now,
	}, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, title, description, is_read, created_at
		FROM `+s.table()+`
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Notification, error) {
		var n Notification
		var kind string
		err := row.Scan(&n.ID, &n.UserID, &kind, &n.Title, &n.Description, &n.IsRead, &n.CreatedAt)
		n.Kind = Kind(kind)
		return n, err
	})
}

func (s *PostgresStore) MarkRead(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+` SET is_read = true WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
