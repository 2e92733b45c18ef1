package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"relay/cmd/identity/ids"
	"relay/cmd/security/password"
	"relay/cmd/security/token"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory implements Directory and Verifications over PostgreSQL.
//
// The pool is owned by the caller. Schema identifiers are validated and quoted.
type PostgresDirectory struct {
	pool      *pgxpool.Pool
	schema    string
	passwords password.Hasher
	tokens    token.Hasher
	dummyHash string
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "public").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, passwords password.Hasher, tokens token.Hasher, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:      pool,
		schema:    "public",
		passwords: passwords,
		tokens:    tokens,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	if h, err := passwords.Hash(dummyPassword); err == nil {
		d.dummyHash = h
	}
	return d, nil
}

const userColumns = `id, email, role, password_hash, email_confirmed_at, created_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &role, &u.PasswordHash, &u.EmailConfirmedAt, &u.CreatedAt); err != nil {
		return User{}, err
	}
	u.Role = ParseRole(role)
	return u, nil
}

// CreateUser inserts a user. Used by seeding and tests; registration flows live elsewhere.
func (d *PostgresDirectory) CreateUser(ctx context.Context, in NewUser) (User, error) {
	const op = "identity.CreateUser"

	email := NormalizeEmail(in.Email)
	if !validEmail(email) {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid email"}
	}
	hash, err := d.passwords.Hash(in.Password)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	var confirmedAt *time.Time
	if in.Confirmed {
		confirmedAt = &now
	}

	u, err := scanUser(d.pool.QueryRow(ctx,
		`INSERT INTO `+d.table("users")+` (id, email, role, password_hash, email_confirmed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+userColumns,
		id, email, string(ParseRole(string(in.Role))), hash, confirmedAt, now,
	))
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, err
	}
	return u, nil
}

func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, OpError{Op: "identity.FindByID", Kind: ErrNotFound}
	}

	u, err := scanUser(d.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+d.table("users")+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: "identity.FindByID", Kind: ErrNotFound}
	}
	return u, err
}

func (d *PostgresDirectory) FindByEmail(ctx context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, OpError{Op: "identity.FindByEmail", Kind: ErrNotFound}
	}

	u, err := scanUser(d.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+d.table("users")+` WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: "identity.FindByEmail", Kind: ErrNotFound}
	}
	return u, err
}

func (d *PostgresDirectory) CheckPassword(_ context.Context, u User, plain string) (bool, error) {
	return checkPassword(d.passwords, d.dummyHash, u, plain)
}

func (d *PostgresDirectory) IsEmailConfirmed(u User) bool { return isConfirmed(u) }

func (d *PostgresDirectory) IssueVerification(ctx context.Context, userID string, purpose Purpose, ttl time.Duration, now time.Time) (string, error) {
	const op = "identity.IssueVerification"
	if ttl <= 0 {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "ttl must be positive"}
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	plain, err := token.NewOpaque(32)
	if err != nil {
		return "", err
	}

	_, err = d.pool.Exec(ctx,
		`INSERT INTO `+d.table("verification_tokens")+` (id, user_id, purpose, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userID, string(purpose), d.tokens.Hash(plain), now.Add(ttl), now,
	)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return "", OpError{Op: op, Kind: ErrNotFound, Msg: "user"}
		}
		return "", err
	}
	return plain, nil
}

// ConsumeEmailConfirmation consumes the token and confirms the email in one transaction.
func (d *PostgresDirectory) ConsumeEmailConfirmation(ctx context.Context, plain string, now time.Time) (User, error) {
	const op = "identity.ConsumeEmailConfirmation"

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID string
	err = tx.QueryRow(ctx,
		`UPDATE `+d.table("verification_tokens")+`
		 SET consumed_at = $3
		 WHERE token_hash = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
		 RETURNING user_id`,
		d.tokens.Hash(strings.TrimSpace(plain)), string(PurposeEmailConfirm), now,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, verificationNotActive(op)
	}
	if err != nil {
		return User{}, err
	}

	u, err := scanUser(tx.QueryRow(ctx,
		`UPDATE `+d.table("users")+`
		 SET email_confirmed_at = COALESCE(email_confirmed_at, $2)
		 WHERE id = $1
		 RETURNING `+userColumns,
		userID, now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, verificationNotActive(op)
	}
	if err != nil {
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

func (d *PostgresDirectory) ValidatePasswordReset(ctx context.Context, plain string, now time.Time) (User, error) {
	const op = "identity.ValidatePasswordReset"

	u, err := scanUser(d.pool.QueryRow(ctx,
		`SELECT u.id, u.email, u.role, u.password_hash, u.email_confirmed_at, u.created_at
		 FROM `+d.table("verification_tokens")+` v
		 JOIN `+d.table("users")+` u ON u.id = v.user_id
		 WHERE v.token_hash = $1 AND v.purpose = $2 AND v.consumed_at IS NULL AND v.expires_at > $3`,
		d.tokens.Hash(strings.TrimSpace(plain)), string(PurposePasswordReset), now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, verificationNotActive(op)
	}
	return u, err
}

func (d *PostgresDirectory) table(name string) string {
	return pgx.Identifier{d.schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
