package session

import (
	"context"
	"net"
	"strings"
	"time"
)

// Session is one authenticated device. It is mutated in place on every rotation.
type Session struct {
	ID                string
	UserID            string
	RefreshTokenHash  string
	PreviousTokenHash string
	Fingerprint       string
	UserAgent         string
	IP                net.IP
	CreatedAt         time.Time
	LastUsedAt        time.Time
	ExpiresAt         time.Time
}

// Active reports whether the session is unexpired at now.
func (s Session) Active(now time.Time) bool { return s.ExpiresAt.After(now) }

// NewSession describes a session to insert.
type NewSession struct {
	UserID           string
	RefreshTokenHash string
	Fingerprint      string
	UserAgent        string
	IP               net.IP
	TTL              time.Duration
	Now              time.Time

	// Cap is the per-user session limit. When the user already holds Cap or more
	// unexpired sessions, all of them are deleted before the insert. Zero disables the cap.
	Cap int
}

func (in NewSession) validate() error {
	if strings.TrimSpace(in.UserID) == "" || len(in.RefreshTokenHash) != 64 || in.TTL <= 0 {
		return ErrInvalidInput
	}
	return nil
}

// Rotation describes a compare-and-swap of a session's refresh token.
type Rotation struct {
	OldTokenHash string
	NewTokenHash string
	TTL          time.Duration
	UserAgent    string
	IP           net.IP
	Now          time.Time
}

func (r Rotation) validate() error {
	if len(r.OldTokenHash) != 64 {
		return ErrSessionNotFound
	}
	if len(r.NewTokenHash) != 64 || r.TTL <= 0 {
		return ErrInvalidInput
	}
	return nil
}

// Store abstracts persistence for sessions. All token arguments are hashes.
//
// Implementations must make RotateSession single-use: of two concurrent calls
// presenting the same OldTokenHash at most one succeeds.
type Store interface {
	// CreateSession evicts at the cap and inserts, atomically per user.
	CreateSession(ctx context.Context, in NewSession) (Session, error)

	// RotateSession swaps OldTokenHash for NewTokenHash. It returns ErrSessionExpired
	// when the matched row is expired, ErrReplayDetected when OldTokenHash was the
	// previous token of a live row, and ErrSessionNotFound otherwise.
	RotateSession(ctx context.Context, r Rotation) (Session, error)

	// RevokeSession deletes the session holding refreshHash. Absent returns ErrSessionNotFound.
	RevokeSession(ctx context.Context, refreshHash string) error

	FindByToken(ctx context.Context, refreshHash string) (Session, error)

	// FindByPreviousToken finds the session whose last rotated-away token is refreshHash.
	FindByPreviousToken(ctx context.Context, refreshHash string) (Session, error)

	RevokeByID(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)

	// ListByUser returns the user's unexpired sessions, newest first.
	ListByUser(ctx context.Context, userID string, now time.Time) ([]Session, error)
	CountByUser(ctx context.Context, userID string, now time.Time) (int, error)

	// DeleteExpired removes sessions whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
