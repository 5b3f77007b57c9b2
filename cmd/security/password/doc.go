// Package password implements the one-way credential hashing contract used by
// estate: Hash produces a salted, deliberately slow digest and Verify reports
// whether a plaintext matches a stored digest.
//
// New digests are Argon2id in PHC string form:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Digests written by the previous bcrypt-based deployment ($2a$, $2b$, $2y$)
// still verify, and NeedsRehash reports them so callers can upgrade them after
// a successful login.
//
// Stored digests are untrusted input: Verify refuses parameters far above the
// configured cost so a tampered row cannot pin a CPU.
package password
