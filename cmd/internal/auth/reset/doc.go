// Package reset issues and redeems single-use password reset tickets.
//
// A ticket is an opaque random string handed to the user (wrapped in a signed
// token by the session layer). Only its keyed hash is persisted, so a leaked
// table cannot be replayed. Consume is an atomic delete-returning: of two
// concurrent redemptions of the same ticket exactly one sees the row.
//
// Several tickets may be outstanding for one email at a time; issuing a new
// one does not revoke the others.
package reset
