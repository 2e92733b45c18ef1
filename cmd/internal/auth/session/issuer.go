package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"time"

	"relay/cmd/security/token"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the identity envelope recovered from an access token and
// propagated across HTTP and WS.
type AccessClaims struct {
	UserID    string
	Email     string
	Role      string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// TokenIssuer issues and validates access/refresh token pairs.
type TokenIssuer interface {
	IssueAccessToken(userID, email, role string, now time.Time) (tok string, exp time.Time, err error)
	IssueRefreshToken() (string, error)

	// ValidateAccessToken verifies signature, algorithm, issuer, audience and expiry.
	ValidateAccessToken(tok string, now time.Time) (AccessClaims, error)

	// ValidateExpiredAccessToken is ValidateAccessToken without the expiry check.
	// It is only used by the refresh flow.
	ValidateExpiredAccessToken(tok string) (AccessClaims, error)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// JWTIssuer implements TokenIssuer with HS256 JWTs.
type JWTIssuer struct {
	key          []byte
	issuer       string
	audience     string
	ttl          time.Duration
	clockSkew    time.Duration
	refreshBytes int
}

// NewJWTIssuer builds a JWTIssuer. It fails with ErrConfig on a short signing key.
func NewJWTIssuer(cfg Config) (*JWTIssuer, error) {
	if len(cfg.SigningKey) < MinSigningKeyBytes || cfg.AccessTokenTTL <= 0 {
		return nil, ErrConfig
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, ErrConfig
	}
	key := make([]byte, len(cfg.SigningKey))
	copy(key, cfg.SigningKey)

	return &JWTIssuer{
		key:          key,
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		ttl:          cfg.AccessTokenTTL,
		clockSkew:    cfg.ClockSkew,
		refreshBytes: cfg.RefreshTokenBytes,
	}, nil
}

func (j *JWTIssuer) IssueAccessToken(userID, email, role string, now time.Time) (string, time.Time, error) {
	jti, err := newJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now = now.UTC()
	exp := now.Add(j.ttl)

	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    j.issuer,
			Audience:  jwt.ClaimStrings{j.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: email,
		Role:  role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (j *JWTIssuer) IssueRefreshToken() (string, error) {
	return token.NewOpaque(j.refreshBytes)
}

func (j *JWTIssuer) ValidateAccessToken(tok string, now time.Time) (AccessClaims, error) {
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithAudience(j.audience),
		jwt.WithLeeway(j.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	return j.parse(p, tok, false)
}

func (j *JWTIssuer) ValidateExpiredAccessToken(tok string) (AccessClaims, error) {
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return j.parse(p, tok, true)
}

func (j *JWTIssuer) parse(p *jwt.Parser, tok string, checkIssuer bool) (AccessClaims, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" || len(tok) > 8192 {
		return AccessClaims{}, ErrTokenMalformed
	}

	var claims jwtClaims
	parsed, err := p.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenSignatureInvalid
		}
		return j.key, nil
	})
	if err != nil {
		return AccessClaims{}, mapJWTError(err)
	}
	if !parsed.Valid {
		return AccessClaims{}, ErrTokenSignatureInvalid
	}

	// Claims validation is off for expired tokens, so iss/aud are checked here.
	if checkIssuer {
		if claims.Issuer != j.issuer || !slices.Contains([]string(claims.Audience), j.audience) {
			return AccessClaims{}, ErrTokenSignatureInvalid
		}
	}
	if claims.Subject == "" {
		return AccessClaims{}, ErrTokenMalformed
	}

	out := AccessClaims{
		UserID:  claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
		TokenID: claims.ID,
		Issuer:  claims.Issuer,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, ErrTokenSignatureInvalid):
		return ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrTokenMalformed
	default:
		return ErrTokenMalformed
	}
}

func newJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
