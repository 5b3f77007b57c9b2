// Package lockout suspends password login for an account after repeated
// failed attempts.
//
// The guard keeps no state of its own. Counters live on the account row and
// every change goes through identity.Store.UpdateFailureState, so concurrent
// failures from several server processes count monotonically.
//
// States:
//
//	Open           failures below threshold, no lock recorded
//	Locked         lockedUntil set and still in the future
//	ExpiredLocked  lockedUntil set but lapsed; login is allowed, and the
//	               counter restarts from zero on the next recorded failure
package lockout
