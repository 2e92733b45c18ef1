package app

import (
	"errors"

	"relay/cmd/security/token"
)

// refreshTokenHasher builds the hasher used for refresh and verification token digests.
//
// With RequireTokenHMAC set, a missing or short key fails startup instead of
// falling back to plain SHA-256.
func refreshTokenHasher(cfg Config, key string) (token.Hasher, error) {
	if !cfg.RequireTokenHMAC {
		return token.NewHasher(key), nil
	}

	h, err := token.NewRequiredHasher(key)
	switch {
	case err == nil:
		return h, nil
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, errors.New("security policy: RELAY_REQUIRE_TOKEN_HMAC=true but RELAY_TOKEN_HMAC_KEY is missing")
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, errors.New("security policy: RELAY_REQUIRE_TOKEN_HMAC=true but RELAY_TOKEN_HMAC_KEY is too short (min 32 bytes)")
	default:
		return token.Hasher{}, err
	}
}
