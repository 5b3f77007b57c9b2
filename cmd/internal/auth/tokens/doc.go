// Package tokens signs and verifies the compact credentials estate hands to
// clients: access tokens, device-bound refresh tokens, and the signed wrapper
// around password-reset tickets.
//
// A Codec is pure: it consults no store, so verification is safe to run
// concurrently. Two wire formats are available behind the same interface:
// HS256 JWTs with a kid-addressed key set, and PASETO v4.public. Both reject
// with exactly one of ErrMalformed, ErrSignatureInvalid, or ErrExpired.
package tokens
