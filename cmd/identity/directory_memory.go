package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"relay/cmd/identity/ids"
	"relay/cmd/security/password"
	"relay/cmd/security/token"
)

const dummyPassword = "dummy-password-for-timing-only"

// MemoryDirectory is an in-process Directory and Verifications for dev mode and tests.
type MemoryDirectory struct {
	passwords password.Hasher
	tokens    token.Hasher
	dummyHash string

	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string

	verifications map[string]memVerification // keyed by token hash
}

type memVerification struct {
	userID     string
	purpose    Purpose
	expiresAt  time.Time
	consumedAt *time.Time
}

// NewMemoryDirectory constructs an empty MemoryDirectory.
func NewMemoryDirectory(passwords password.Hasher, tokens token.Hasher) *MemoryDirectory {
	d := &MemoryDirectory{
		passwords:     passwords,
		tokens:        tokens,
		byID:          make(map[string]User),
		byEmail:       make(map[string]string),
		verifications: make(map[string]memVerification),
	}
	if h, err := passwords.Hash(dummyPassword); err == nil {
		d.dummyHash = h
	}
	return d
}

// CreateUser adds a user, failing with ConflictError on a duplicate email.
func (d *MemoryDirectory) CreateUser(_ context.Context, in NewUser) (User, error) {
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

	u := User{ID: id, Email: email, Role: ParseRole(string(in.Role)), PasswordHash: hash, CreatedAt: now}
	if in.Confirmed {
		at := now
		u.EmailConfirmedAt = &at
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.byEmail[email]; dup {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	d.byID[id] = u
	d.byEmail[email] = id
	return u, nil
}

func (d *MemoryDirectory) FindByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, OpError{Op: "identity.FindByID", Kind: ErrNotFound}
	}
	return u, nil
}

func (d *MemoryDirectory) FindByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, OpError{Op: "identity.FindByEmail", Kind: ErrNotFound}
	}
	return d.byID[id], nil
}

func (d *MemoryDirectory) CheckPassword(_ context.Context, u User, plain string) (bool, error) {
	return checkPassword(d.passwords, d.dummyHash, u, plain)
}

func (d *MemoryDirectory) IsEmailConfirmed(u User) bool { return isConfirmed(u) }

func (d *MemoryDirectory) IssueVerification(_ context.Context, userID string, purpose Purpose, ttl time.Duration, now time.Time) (string, error) {
	const op = "identity.IssueVerification"
	if ttl <= 0 {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "ttl must be positive"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[userID]; !ok {
		return "", OpError{Op: op, Kind: ErrNotFound, Msg: "user"}
	}

	plain, err := token.NewOpaque(32)
	if err != nil {
		return "", err
	}
	d.verifications[d.tokens.Hash(plain)] = memVerification{
		userID:    userID,
		purpose:   purpose,
		expiresAt: now.Add(ttl),
	}
	return plain, nil
}

func (d *MemoryDirectory) ConsumeEmailConfirmation(_ context.Context, plain string, now time.Time) (User, error) {
	const op = "identity.ConsumeEmailConfirmation"

	d.mu.Lock()
	defer d.mu.Unlock()

	key := d.tokens.Hash(strings.TrimSpace(plain))
	v, ok := d.verifications[key]
	if !ok || v.purpose != PurposeEmailConfirm || v.consumedAt != nil || !v.expiresAt.After(now) {
		return User{}, verificationNotActive(op)
	}
	u, ok := d.byID[v.userID]
	if !ok {
		return User{}, verificationNotActive(op)
	}

	at := now
	v.consumedAt = &at
	d.verifications[key] = v
	if u.EmailConfirmedAt == nil {
		u.EmailConfirmedAt = &at
		d.byID[u.ID] = u
	}
	return u, nil
}

func (d *MemoryDirectory) ValidatePasswordReset(_ context.Context, plain string, now time.Time) (User, error) {
	const op = "identity.ValidatePasswordReset"

	d.mu.RLock()
	defer d.mu.RUnlock()

	v, ok := d.verifications[d.tokens.Hash(strings.TrimSpace(plain))]
	if !ok || v.purpose != PurposePasswordReset || v.consumedAt != nil || !v.expiresAt.After(now) {
		return User{}, verificationNotActive(op)
	}
	u, ok := d.byID[v.userID]
	if !ok {
		return User{}, verificationNotActive(op)
	}
	return u, nil
}

func checkPassword(h password.Hasher, dummyHash string, u User, plain string) (bool, error) {
	if u.PasswordHash == "" {
		// Keep the miss path as slow as the hit path.
		if dummyHash != "" {
			_, _ = h.Verify(dummyHash, plain)
		}
		return false, nil
	}
	ok, err := h.Verify(u.PasswordHash, plain)
	if err != nil {
		return false, OpError{Op: "identity.CheckPassword", Kind: ErrInvalidInput, Msg: "stored hash unreadable"}
	}
	return ok, nil
}
