package app

import (
	"strings"
	"testing"
)

func TestRefreshTokenHasher(t *testing.T) {
	t.Parallel()

	h, err := refreshTokenHasher(Config{}, "")
	if err != nil || h.Keyed() {
		t.Fatalf("optional, no key: keyed=%v err=%v", h.Keyed(), err)
	}

	if _, err := refreshTokenHasher(Config{RequireTokenHMAC: true}, ""); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("required, no key: err=%v", err)
	}
	if _, err := refreshTokenHasher(Config{RequireTokenHMAC: true}, "short"); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("required, short key: err=%v", err)
	}

	h, err = refreshTokenHasher(Config{RequireTokenHMAC: true}, strings.Repeat("k", 32))
	if err != nil || !h.Keyed() {
		t.Fatalf("required, valid key: keyed=%v err=%v", h.Keyed(), err)
	}
}
