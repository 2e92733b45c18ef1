package identity

import (
	"context"
	"time"
)

// Role is the authorization role carried in access tokens.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps stored values to a Role, defaulting to RoleUser.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// User is the security principal referenced by sessions and connections.
type User struct {
	ID               string
	Email            string
	Role             Role
	PasswordHash     string
	EmailConfirmedAt *time.Time
	CreatedAt        time.Time
}

// NewUser describes a user to seed into a directory.
type NewUser struct {
	Email     string
	Password  string
	Role      Role
	Confirmed bool
	Now       time.Time
}

// Directory is the read side of the user store.
type Directory interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)

	// CheckPassword verifies password against u. A user without a password
	// hash still pays the hashing cost and never matches.
	CheckPassword(ctx context.Context, u User, password string) (bool, error)

	IsEmailConfirmed(u User) bool
}

// Purpose scopes a verification token to one flow.
type Purpose string

const (
	PurposeEmailConfirm  Purpose = "email_confirm"
	PurposePasswordReset Purpose = "password_reset"
)

// Verifications manages single-use links sent out of band.
type Verifications interface {
	// IssueVerification stores a hashed token and returns the plain value
	// exactly once.
	IssueVerification(ctx context.Context, userID string, purpose Purpose, ttl time.Duration, now time.Time) (string, error)

	// ConsumeEmailConfirmation marks the token used and the user's email confirmed.
	ConsumeEmailConfirmation(ctx context.Context, plainToken string, now time.Time) (User, error)

	// ValidatePasswordReset checks a reset token without consuming it.
	ValidatePasswordReset(ctx context.Context, plainToken string, now time.Time) (User, error)
}

func isConfirmed(u User) bool {
	return u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero()
}
