package session

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// lockUserTx serializes session creation per user until the transaction ends.
func lockUserTx(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('relay.sessions:' || $1))`, userID)
	return err
}

func countActive(ctx context.Context, q querier, table, userID string, now time.Time) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*)
		FROM `+table+`
		WHERE user_id = $1 AND expires_at > $2
	`, userID, now).Scan(&n)
	return n, err
}

func countActiveTx(ctx context.Context, tx pgx.Tx, table, userID string, now time.Time) (int, error) {
	return countActive(ctx, tx, table, userID, now)
}

func deleteUserTx(ctx context.Context, tx pgx.Tx, table, userID string) (int64, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func insertTx(ctx context.Context, tx pgx.Tx, table, id string, in NewSession, now time.Time) (Session, error) {
	out, err := scanSession(tx.QueryRow(ctx, `
		INSERT INTO `+table+` (
			id, user_id, refresh_token_hash, previous_token_hash, fingerprint,
			user_agent, ip, created_at, last_used_at, expires_at
		) VALUES (
			$1, $2, $3, NULL, $4,
			$5, $6, $7, $7, $8
		)
		RETURNING `+sessionColumns,
		id, in.UserID, in.RefreshTokenHash, in.Fingerprint,
		nullIfEmpty(in.UserAgent), nullIP(in.IP), now, now.Add(in.TTL),
	))
	if pgIsUniqueViolation(err) {
		return Session{}, ErrDuplicateToken
	}
	return out, err
}
