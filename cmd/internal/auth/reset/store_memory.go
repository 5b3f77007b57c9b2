package reset

import (
	"context"
	"sync"
	"time"

	"estate/cmd/internal/auth/expiry"
)

// InMemoryStore keeps tickets in a map. Single process only.
type InMemoryStore struct {
	mu      sync.Mutex
	tickets map[string]Ticket
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tickets: make(map[string]Ticket)}
}

func (s *InMemoryStore) Insert(ctx context.Context, t Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.TokenHash == "" || t.Email == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.TokenHash] = t
	return nil
}

func (s *InMemoryStore) FindByToken(ctx context.Context, tokenHash string) (Ticket, error) {
	if err := ctx.Err(); err != nil {
		return Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[tokenHash]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return t, nil
}

func (s *InMemoryStore) DeleteByToken(ctx context.Context, tokenHash string) (Ticket, error) {
	if err := ctx.Err(); err != nil {
		return Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[tokenHash]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	delete(s.tickets, tokenHash)
	return t, nil
}

func (s *InMemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, t := range s.tickets {
		if expiry.IsExpired(t.ExpiresAt, now) {
			delete(s.tickets, h)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored tickets.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}
