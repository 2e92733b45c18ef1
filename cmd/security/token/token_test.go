package token

import (
	"encoding/base64"
	"testing"
)

func TestHasher_SHA256Fallback(t *testing.T) {
	h := NewHasher("  ")
	if h.Keyed() {
		t.Fatalf("expected unkeyed hasher for blank key")
	}
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := h.Hash("abc"); got != want {
		t.Fatalf("Hash(abc)=%q want=%q", got, want)
	}
}

func TestHasher_HMACDiffersByKey(t *testing.T) {
	a := NewHasher("key-a-0123456789-0123456789-0123")
	b := NewHasher("key-b-0123456789-0123456789-0123")

	ha, hb := a.Hash("token"), b.Hash("token")
	if len(ha) != 64 || len(hb) != 64 {
		t.Fatalf("expected 64-char digests, got %d and %d", len(ha), len(hb))
	}
	if ha == hb {
		t.Fatalf("expected different digests for different keys")
	}
	if ha != a.Hash("token") {
		t.Fatalf("expected deterministic digest")
	}
}

func TestNewRequiredHasher(t *testing.T) {
	if _, err := NewRequiredHasher(""); err != ErrHMACKeyMissing {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}
	if _, err := NewRequiredHasher("short"); err != ErrHMACKeyTooShort {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
	h, err := NewRequiredHasher("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewRequiredHasher: %v", err)
	}
	if !h.Keyed() {
		t.Fatalf("expected keyed hasher")
	}
}

func TestEqual(t *testing.T) {
	h := NewHasher("")
	a := h.Hash("x")
	if !Equal(a, h.Hash("x")) {
		t.Fatalf("expected equal digests")
	}
	if Equal(a, h.Hash("y")) {
		t.Fatalf("expected different digests")
	}
	if Equal("abc", "abc") {
		t.Fatalf("short inputs must never match")
	}
}

func TestNewOpaque_MinimumEntropy(t *testing.T) {
	s, err := NewOpaque(8)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 random bytes, got %d", len(raw))
	}
}
