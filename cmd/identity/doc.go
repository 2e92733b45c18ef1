// Package identity is the user directory consumed by the session and realtime
// layers: lookup by id or email, password checks, email-confirmation state,
// and single-use verification links (email confirmation, password reset).
//
// Account CRUD beyond what tests and dev seeding need lives elsewhere.
package identity
