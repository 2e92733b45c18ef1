// Package token hashes opaque bearer secrets (refresh tokens, email and
// password-reset links) for server-side storage.
//
// With a key configured the digest is HMAC-SHA256(token, key); without one it
// falls back to plain SHA-256, which is only acceptable for local development.
// Output is always 64 hex characters.
package token
