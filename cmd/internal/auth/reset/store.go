package reset

import (
	"context"
	"time"
)

// Ticket is the stored form of an issued reset token.
type Ticket struct {
	ID        string
	TokenHash string
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists tickets keyed by TokenHash.
type Store interface {
	Insert(ctx context.Context, t Ticket) error
	// FindByToken returns ErrNotFound for unknown hashes.
	FindByToken(ctx context.Context, tokenHash string) (Ticket, error)
	// DeleteByToken removes the ticket and returns what was removed, as one
	// atomic step. A second call for the same hash returns ErrNotFound.
	DeleteByToken(ctx context.Context, tokenHash string) (Ticket, error)
	// DeleteExpired drops tickets whose ExpiresAt is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
