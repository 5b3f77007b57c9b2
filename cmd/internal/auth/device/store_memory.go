package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is the dev and test fallback. One mutex guards all accounts;
// WithinAccount holds it for the duration of fn.
type InMemoryStore struct {
	mu       sync.Mutex
	accounts map[string]map[string]*Session

	// exists, when set, gates WithinAccount on a known account.
	exists func(ctx context.Context, accountID string) bool
}

// NewInMemoryStore builds a store. exists may be nil to accept any account.
func NewInMemoryStore(exists func(ctx context.Context, accountID string) bool) *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[string]map[string]*Session),
		exists:   exists,
	}
}

func (s *InMemoryStore) WithinAccount(ctx context.Context, accountID string, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.exists != nil && !s.exists(ctx, accountID) {
		return ErrAccountNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Writes go to a scratch copy so an error inside fn leaves nothing behind.
	orig := s.accounts[accountID]
	scratch := make(map[string]*Session, len(orig))
	for id, sess := range orig {
		c := *sess
		scratch[id] = &c
	}

	if err := fn(&memTx{accountID: accountID, rows: scratch}); err != nil {
		return err
	}
	s.accounts[accountID] = scratch
	return nil
}

func (s *InMemoryStore) IsActive(ctx context.Context, accountID, deviceID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.accounts[accountID][deviceID]
	return ok && sess.Active, nil
}

func (s *InMemoryStore) Touch(ctx context.Context, accountID, deviceID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.accounts[accountID][deviceID]
	if !ok || !sess.Active {
		return false, nil
	}
	if now.After(sess.LastActiveAt) {
		sess.LastActiveAt = now.UTC()
	}
	return true, nil
}

func (s *InMemoryStore) MarkInactive(ctx context.Context, accountID, deviceID string, reason Reason, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return deactivate(s.accounts[accountID][deviceID], reason, now), nil
}

func (s *InMemoryStore) MarkAllInactiveExcept(ctx context.Context, accountID, keepDeviceID string, reason Reason, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sess := range s.accounts[accountID] {
		if keepDeviceID != "" && id == keepDeviceID {
			continue
		}
		if deactivate(sess, reason, now) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ListActive(ctx context.Context, accountID string) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return activeSorted(s.accounts[accountID]), nil
}

// All returns every row for the account, active or not, ordered by device id.
func (s *InMemoryStore) All(accountID string) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(s.accounts[accountID]))
	for _, sess := range s.accounts[accountID] {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

type memTx struct {
	accountID string
	rows      map[string]*Session
}

func (t *memTx) FindActiveByAccount(ctx context.Context) ([]Session, error) {
	return activeSorted(t.rows), ctx.Err()
}

func (t *memTx) UpsertActive(ctx context.Context, deviceID, label string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now = now.UTC()
	sess, ok := t.rows[deviceID]
	if !ok {
		t.rows[deviceID] = &Session{
			AccountID:    t.accountID,
			DeviceID:     deviceID,
			Label:        label,
			CreatedAt:    now,
			LastActiveAt: now,
			Active:       true,
		}
		return nil
	}
	sess.Label = label
	sess.LastActiveAt = now
	sess.Active = true
	sess.DeactivatedAt = nil
	sess.DeactivatedBy = ""
	return nil
}

func (t *memTx) MarkInactive(ctx context.Context, deviceID string, reason Reason, now time.Time) (bool, error) {
	return deactivate(t.rows[deviceID], reason, now), ctx.Err()
}

func deactivate(sess *Session, reason Reason, now time.Time) bool {
	if sess == nil || !sess.Active {
		return false
	}
	at := now.UTC()
	sess.Active = false
	sess.DeactivatedAt = &at
	sess.DeactivatedBy = reason
	return true
}

func activeSorted(rows map[string]*Session) []Session {
	out := make([]Session, 0, len(rows))
	for _, sess := range rows {
		if sess.Active {
			out = append(out, *sess)
		}
	}
	sortLRU(out)
	return out
}

// sortLRU orders by LastActiveAt, then CreatedAt, then DeviceID so eviction is
// deterministic on ties.
func sortLRU(s []Session) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if !a.LastActiveAt.Equal(b.LastActiveAt) {
			return a.LastActiveAt.Before(b.LastActiveAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.DeviceID < b.DeviceID
	})
}
