// Package password hashes and verifies user passwords with Argon2id.
//
// Encoded hashes use the PHC string format, so rows written by other
// Argon2id implementations verify here as long as their cost stays within
// the configured bounds.
package password
