// Package session is estate's login and credential lifecycle façade.
//
// Service sequences the lower-level pieces: lockout checks, password
// verification, device slot registration, token issuance, and the password
// reset round trip. It owns no state; accounts, device sessions, and reset
// tickets live behind their stores.
//
// Callers see a deliberately coarse error surface (see Outcome). The full
// reason for every rejection goes to the audit recorder and metrics.
package session
