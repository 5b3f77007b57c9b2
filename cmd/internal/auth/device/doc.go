// Package device tracks which client instances may hold a live session for an
// account and enforces the per-account cap on simultaneously active devices.
//
// Each (account, device) pair is one row. Rows flip inactive on logout,
// revoke, eviction, or password reset and are never deleted. Registration is
// a single read-modify-write per account (Store.WithinAccount), so two
// concurrent logins cannot both observe a free slot.
package device
