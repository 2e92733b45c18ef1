// Package session implements relay's device session lifecycle.
//
// Access tokens are HS256 JWTs. Refresh tokens are opaque random strings stored
// only as hashes (HMAC-SHA256 when RELAY_TOKEN_HMAC_KEY is set). Each device holds
// one session row which is mutated in place on every refresh by a single
// compare-and-swap on the current token hash. The previous hash is remembered so a
// rotated token presented again is reported as a replay.
//
// A user holds at most Config.SessionCap sessions. A login at the cap deletes all
// of the user's sessions before inserting the new one.
package session
