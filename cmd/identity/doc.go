// Package identity owns the Account record: who can log in, with which
// password digest and role, and the failed-attempt counters that lockout
// decisions are derived from.
//
// Accounts are never hard-deleted. Every mutation of the failure counters goes
// through Store.UpdateFailureState, a transactional read-modify-write, so
// concurrent failed logins cannot lose increments.
package identity
