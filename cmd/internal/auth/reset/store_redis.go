package reset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "estate:reset"

	// Keys outlive ExpiresAt by this much so Verify can still say "expired"
	// instead of "not found" for a while.
	expiredGrace = time.Hour

	maxWatchRetries = 4
)

var errRedisUnavailable = errors.New("reset: redis unavailable")

// RedisStore keeps one key per ticket plus a sorted set of token hashes
// scored by expiry, which DeleteExpired walks.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the "estate:reset" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.prefix = strings.TrimSuffix(p, ":")
		}
	}
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("%w: nil redis client", ErrConfig)
	}
	s := &RedisStore{rdb: rdb, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *RedisStore) key(tokenHash string) string { return s.prefix + ":t:" + tokenHash }
func (s *RedisStore) index() string               { return s.prefix + ":expiry" }

type redisTicket struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func encodeTicket(t Ticket) ([]byte, error) {
	return json.Marshal(redisTicket{
		ID:        t.ID,
		Email:     t.Email,
		CreatedAt: t.CreatedAt.UnixNano(),
		ExpiresAt: t.ExpiresAt.UnixNano(),
	})
}

func decodeTicket(tokenHash string, data []byte) (Ticket, error) {
	var r redisTicket
	if err := json.Unmarshal(data, &r); err != nil {
		return Ticket{}, fmt.Errorf("reset: corrupt ticket record: %w", err)
	}
	return Ticket{
		ID:        r.ID,
		TokenHash: tokenHash,
		Email:     r.Email,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		ExpiresAt: time.Unix(0, r.ExpiresAt).UTC(),
	}, nil
}

func (s *RedisStore) Insert(ctx context.Context, t Ticket) error {
	if t.TokenHash == "" || t.Email == "" {
		return ErrInvalidInput
	}
	data, err := encodeTicket(t)
	if err != nil {
		return err
	}
	ttl := t.ExpiresAt.Sub(t.CreatedAt) + expiredGrace
	if ttl <= expiredGrace {
		ttl = expiredGrace
	}

	var added *redis.BoolCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SetNX(ctx, s.key(t.TokenHash), data, ttl)
		pipe.ZAdd(ctx, s.index(), redis.Z{
			Score:  float64(t.ExpiresAt.UnixMilli()),
			Member: t.TokenHash,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	if !added.Val() {
		return fmt.Errorf("%w: duplicate ticket", ErrInvalidInput)
	}
	return nil
}

func (s *RedisStore) FindByToken(ctx context.Context, tokenHash string) (Ticket, error) {
	data, err := s.rdb.Get(ctx, s.key(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Ticket{}, ErrNotFound
	}
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return decodeTicket(tokenHash, data)
}

// DeleteByToken reads and deletes under WATCH. A concurrent consumer that
// deletes first aborts our EXEC; the retry then finds no key.
func (s *RedisStore) DeleteByToken(ctx context.Context, tokenHash string) (Ticket, error) {
	key := s.key(tokenHash)

	for range maxWatchRetries {
		var removed Ticket

		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			t, err := decodeTicket(tokenHash, data)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, s.index(), tokenHash)
				return nil
			})
			if err != nil {
				return err
			}
			removed = t
			return nil
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return Ticket{}, ErrNotFound
		case err != nil:
			return Ticket{}, fmt.Errorf("%w: %v", errRedisUnavailable, err)
		}
		return removed, nil
	}

	return Ticket{}, ErrNotFound
}

func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	hashes, err := s.rdb.ZRangeByScore(ctx, s.index(), &redis.ZRangeBy{
		Min: "-inf",
		// Exclusive bound: a score equal to now's millisecond may still be live.
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(hashes))
	members := make([]any, 0, len(hashes))
	for _, h := range hashes {
		keys = append(keys, s.key(h))
		members = append(members, h)
	}

	var deleted *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.index(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return deleted.Val(), nil
}
