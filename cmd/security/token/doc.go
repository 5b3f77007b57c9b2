// Package token provides opaque credential generation and the at-rest hashing
// applied before any opaque credential (reset tickets today) touches storage.
//
// Stored form is a 64-char hex digest: HMAC-SHA256(token, key) when
// ESTATE_TOKEN_HMAC_KEY is configured, plain SHA-256 otherwise (dev only).
package token
