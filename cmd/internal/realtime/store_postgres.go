package realtime

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConnectionStore is a ConnectionStore backed by <schema>.connections.
//
// It does not own the pool. Rows left behind by a crashed process are not
// reclaimed automatically.
type PostgresConnectionStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures Postgres-backed realtime stores.
type PostgresOption func(*string) error

// WithSchema sets the DB schema (default: "public").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(dst *string) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		*dst = schema
		return nil
	}
}

func applySchema(opts []PostgresOption) (string, error) {
	schema := "public"
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&schema); err != nil {
			return "", err
		}
	}
	return schema, nil
}

// NewPostgresConnectionStore constructs the store.
func NewPostgresConnectionStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresConnectionStore, error) {
	schema, err := applySchema(opts)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return &PostgresConnectionStore{pool: pool, schema: schema}, nil
}

func (s *PostgresConnectionStore) Insert(ctx context.Context, rec ConnectionRecord) error {
	at := rec.ConnectedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+pgIdent(s.schema, "connections")+` (connection_id, user_id, channel, ip, connected_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ConnectionID, rec.UserID, string(rec.Channel), rec.IP, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrDuplicateConnection
			case "23503":
				return ErrIdentityNotFound
			}
		}
		return err
	}
	return nil
}

func (s *PostgresConnectionStore) Delete(ctx context.Context, connectionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgIdent(s.schema, "connections")+` WHERE connection_id = $1`,
		connectionID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresConnectionStore) ListByUser(ctx context.Context, userID string, channel Channel) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT connection_id FROM `+pgIdent(s.schema, "connections")+`
		WHERE channel = $1 AND user_id = $2
		ORDER BY connection_id
	`, string(channel), userID)
}

func (s *PostgresConnectionStore) ListByChannelExcept(ctx context.Context, channel Channel, userID string) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT connection_id FROM `+pgIdent(s.schema, "connections")+`
		WHERE channel = $1 AND user_id <> $2
		ORDER BY connection_id
	`, string(channel), userID)
}

func (s *PostgresConnectionStore) queryIDs(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
