package session

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SigningKey = []byte(testSigningKey)
	cfg.AccessTokenTTL = 30 * time.Minute
	cfg.ClockSkew = 30 * time.Second
	cfg.SweepInterval = 0
	return cfg
}

func mustIssuer(t *testing.T, cfg Config) *JWTIssuer {
	t.Helper()
	iss, err := NewJWTIssuer(cfg)
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}
	return iss
}

func TestJWTIssuer_IssueAndValidate(t *testing.T) {
	iss := mustIssuer(t, testConfig())
	now := time.Now().UTC()

	tok, exp, err := iss.IssueAccessToken("01HZZZZZZZZZZZZZZZZZZZZZZZ", "ada@example.com", "admin", now)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := iss.ValidateAccessToken(tok, now.Add(time.Second))
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != "01HZZZZZZZZZZZZZZZZZZZZZZZ" || claims.Email != "ada@example.com" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "relay" || claims.TokenID == "" {
		t.Fatalf("missing registered claims: %+v", claims)
	}
}

func TestJWTIssuer_Expiry(t *testing.T) {
	cfg := testConfig()
	iss := mustIssuer(t, cfg)
	now := time.Now().UTC()

	tok, _, err := iss.IssueAccessToken("u1", "u1@example.com", "user", now)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	// Within clock skew after expiry still validates.
	if _, err := iss.ValidateAccessToken(tok, now.Add(cfg.AccessTokenTTL+cfg.ClockSkew/2)); err != nil {
		t.Fatalf("expected token valid within skew, got %v", err)
	}

	late := now.Add(cfg.AccessTokenTTL + time.Hour)
	if _, err := iss.ValidateAccessToken(tok, late); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	claims, err := iss.ValidateExpiredAccessToken(tok)
	if err != nil {
		t.Fatalf("ValidateExpiredAccessToken on expired token: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("unexpected subject %q", claims.UserID)
	}
}

func TestJWTIssuer_RejectsForeignTokens(t *testing.T) {
	cfg := testConfig()
	iss := mustIssuer(t, cfg)
	now := time.Now().UTC()

	otherKey := cfg
	otherKey.SigningKey = []byte("another-signing-key-0123456789abcdef-xyz")
	otherIssuer := cfg
	otherIssuer.Issuer = "someone-else"
	otherAudience := cfg
	otherAudience.Audience = "other-clients"

	for name, c := range map[string]Config{"key": otherKey, "issuer": otherIssuer, "audience": otherAudience} {
		t.Run(name, func(t *testing.T) {
			tok, _, err := mustIssuer(t, c).IssueAccessToken("u1", "u1@example.com", "user", now)
			if err != nil {
				t.Fatalf("IssueAccessToken: %v", err)
			}
			if _, err := iss.ValidateAccessToken(tok, now); !errors.Is(err, ErrTokenSignatureInvalid) {
				t.Fatalf("ValidateAccessToken: expected ErrTokenSignatureInvalid, got %v", err)
			}
			if _, err := iss.ValidateExpiredAccessToken(tok); !errors.Is(err, ErrTokenSignatureInvalid) {
				t.Fatalf("ValidateExpiredAccessToken: expected ErrTokenSignatureInvalid, got %v", err)
			}
		})
	}
}

func TestJWTIssuer_RejectsOtherAlgorithms(t *testing.T) {
	cfg := testConfig()
	iss := mustIssuer(t, cfg)
	now := time.Now().UTC()

	claims := jwtClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    cfg.Issuer,
		Audience:  jwt.ClaimStrings{cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}}

	hs384, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString(cfg.SigningKey)
	if err != nil {
		t.Fatalf("sign HS384: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	for name, tok := range map[string]string{"hs384": hs384, "none": none} {
		if _, err := iss.ValidateExpiredAccessToken(tok); !errors.Is(err, ErrTokenSignatureInvalid) {
			t.Fatalf("%s: expected ErrTokenSignatureInvalid, got %v", name, err)
		}
	}
}

func TestJWTIssuer_Malformed(t *testing.T) {
	iss := mustIssuer(t, testConfig())
	for _, tok := range []string{"", "not-a-jwt", "a.b.c", "...."} {
		if _, err := iss.ValidateExpiredAccessToken(tok); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("%q: expected ErrTokenMalformed, got %v", tok, err)
		}
	}
}

func TestJWTIssuer_RefreshTokenShape(t *testing.T) {
	iss := mustIssuer(t, testConfig())

	a, err := iss.IssueRefreshToken()
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	b, err := iss.IssueRefreshToken()
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if a == b {
		t.Fatalf("refresh tokens must be unique")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("refresh token is not base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 256-bit refresh token, got %d bytes", len(raw))
	}
}

func TestNewJWTIssuer_ShortKey(t *testing.T) {
	cfg := testConfig()
	cfg.SigningKey = []byte("short")
	if _, err := NewJWTIssuer(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
