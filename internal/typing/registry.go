// Package typing keeps short-lived "is typing" indicators per
// (room, user, device), expired by a periodic sweep.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Key struct {
	RoomID   uuid.UUID
	UserID   uuid.UUID
	DeviceID uuid.UUID
}

type Registry struct {
	mu      sync.RWMutex
	entries map[Key]time.Time
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func NewRegistry(ttl time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[Key]time.Time),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Start records (or refreshes) a typing indicator and returns its
// expiry deadline.
func (r *Registry) Start(roomID, userID, deviceID uuid.UUID) time.Time {
	expiry := r.now().Add(r.ttl)

	r.mu.Lock()
	r.entries[Key{RoomID: roomID, UserID: userID, DeviceID: deviceID}] = expiry
	r.mu.Unlock()

	return expiry
}

func (r *Registry) Stop(roomID, userID, deviceID uuid.UUID) {
	r.mu.Lock()
	delete(r.entries, Key{RoomID: roomID, UserID: userID, DeviceID: deviceID})
	r.mu.Unlock()
}

// ActiveTypers returns the distinct users with a live indicator in the
// room. Entries past their deadline are skipped even if a sweep has
// not removed them yet.
func (r *Registry) ActiveTypers(roomID uuid.UUID) []uuid.UUID {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for key, deadline := range r.entries {
		if key.RoomID != roomID || !deadline.After(now) {
			continue
		}
		if _, dup := seen[key.UserID]; dup {
			continue
		}
		seen[key.UserID] = struct{}{}
		out = append(out, key.UserID)
	}
	return out
}

// Sweep removes entries past their deadline in one pass and returns
// the count removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, deadline := range r.entries {
		if !deadline.After(now) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("typing sweep", "expired", n)
			}
		}
	}
}
