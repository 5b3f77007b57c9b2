package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RegisterResult reports the outcome of Register. EvictedDeviceID is set when
// an older session lost its slot to this one.
type RegisterResult struct {
	Accepted        bool
	EvictedDeviceID string
}

// Registry enforces the device cap over a Store.
type Registry struct {
	store Store
	cap   int
	log   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for eviction events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRegistry(store Store, cfg Config, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}
	if cfg.Cap < 1 {
		return nil, fmt.Errorf("%w: cap must be positive", ErrConfig)
	}
	r := &Registry{store: store, cap: cfg.Cap, log: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Cap returns the configured device cap.
func (r *Registry) Cap() int { return r.cap }

// Register claims a slot for (accountID, deviceID).
//
// An already-active device is refreshed in place. A new device takes a free
// slot if one exists; otherwise the least recently active session is evicted
// to make room.
func (r *Registry) Register(ctx context.Context, accountID, deviceID, label string, now time.Time) (RegisterResult, error) {
	accountID = strings.TrimSpace(accountID)
	deviceID = strings.TrimSpace(deviceID)
	if accountID == "" || deviceID == "" {
		return RegisterResult{}, fmt.Errorf("%w: account and device are required", ErrInvalidInput)
	}
	label = strings.TrimSpace(label)

	var res RegisterResult
	err := r.store.WithinAccount(ctx, accountID, func(tx Tx) error {
		active, err := tx.FindActiveByAccount(ctx)
		if err != nil {
			return err
		}

		for _, s := range active {
			if s.DeviceID == deviceID {
				res = RegisterResult{Accepted: true}
				return tx.UpsertActive(ctx, deviceID, label, now)
			}
		}

		// Oldest first. Normally at most one eviction; more only if the cap
		// was lowered since these sessions were created.
		var evicted []string
		for i := 0; len(active)-i >= r.cap; i++ {
			if _, err := tx.MarkInactive(ctx, active[i].DeviceID, ReasonEvicted, now); err != nil {
				return err
			}
			evicted = append(evicted, active[i].DeviceID)
		}

		if err := tx.UpsertActive(ctx, deviceID, label, now); err != nil {
			return err
		}

		res = RegisterResult{Accepted: true}
		if len(evicted) > 0 {
			res.EvictedDeviceID = evicted[0]
			r.log.Info("device.register.evicted",
				"account_id", accountID,
				"device_id", deviceID,
				"evicted", evicted,
			)
		}
		return nil
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return res, nil
}

// IsActive reports whether the device still holds a slot.
func (r *Registry) IsActive(ctx context.Context, accountID, deviceID string) (bool, error) {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(deviceID) == "" {
		return false, nil
	}
	return r.store.IsActive(ctx, accountID, deviceID)
}

// Touch is IsActive that also records activity, keeping a refreshing device
// ahead of idle ones in the eviction order.
func (r *Registry) Touch(ctx context.Context, accountID, deviceID string, now time.Time) (bool, error) {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(deviceID) == "" {
		return false, nil
	}
	return r.store.Touch(ctx, accountID, deviceID, now)
}

// Deactivate releases one slot. Deactivating an inactive or unknown device is
// not an error; the bool reports whether anything changed.
func (r *Registry) Deactivate(ctx context.Context, accountID, deviceID string, reason Reason, now time.Time) (bool, error) {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(deviceID) == "" {
		return false, fmt.Errorf("%w: account and device are required", ErrInvalidInput)
	}
	return r.store.MarkInactive(ctx, accountID, deviceID, reason, now)
}

// DeactivateAllExcept signs out every other device of the account.
func (r *Registry) DeactivateAllExcept(ctx context.Context, accountID, keepDeviceID string, now time.Time) (int64, error) {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(keepDeviceID) == "" {
		return 0, fmt.Errorf("%w: account and kept device are required", ErrInvalidInput)
	}
	return r.store.MarkAllInactiveExcept(ctx, accountID, keepDeviceID, ReasonSignedOutElsewhere, now)
}

// DeactivateAll releases every slot of the account.
func (r *Registry) DeactivateAll(ctx context.Context, accountID string, reason Reason, now time.Time) (int64, error) {
	if strings.TrimSpace(accountID) == "" {
		return 0, fmt.Errorf("%w: account is required", ErrInvalidInput)
	}
	return r.store.MarkAllInactiveExcept(ctx, accountID, "", reason, now)
}

// Active lists the account's active sessions, least recently active first.
func (r *Registry) Active(ctx context.Context, accountID string) ([]Session, error) {
	return r.store.ListActive(ctx, accountID)
}
