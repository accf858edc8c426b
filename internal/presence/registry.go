// Package presence keeps ephemeral online/offline state per
// (user, device). Entries are refreshed by heartbeats and flipped
// offline by a periodic sweep; nothing is persisted.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Key struct {
	UserID   uuid.UUID
	DeviceID uuid.UUID
}

type Entry struct {
	LastSeen time.Time
	Online   bool
}

type Registry struct {
	mu        sync.RWMutex
	entries   map[Key]Entry
	heartbeat time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewRegistry(heartbeat time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		entries:   make(map[Key]Entry),
		heartbeat: heartbeat,
		now:       time.Now,
		logger:    logger,
	}
}

// Touch records a heartbeat for the device and returns the deadline
// after which a sweep will flip it offline.
func (r *Registry) Touch(userID, deviceID uuid.UUID) time.Time {
	now := r.now()

	r.mu.Lock()
	r.entries[Key{UserID: userID, DeviceID: deviceID}] = Entry{LastSeen: now, Online: true}
	r.mu.Unlock()

	return now.Add(2 * r.heartbeat)
}

func (r *Registry) MarkOffline(userID, deviceID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{UserID: userID, DeviceID: deviceID}
	if e, ok := r.entries[key]; ok {
		e.Online = false
		r.entries[key] = e
	}
}

// IsOnline reports whether any of the user's devices is online.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for key, e := range r.entries {
		if key.UserID == userID && e.Online {
			return true
		}
	}
	return false
}

// Snapshot returns the user's per-device presence entries.
func (r *Registry) Snapshot(userID uuid.UUID) map[uuid.UUID]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uuid.UUID]Entry)
	for key, e := range r.entries {
		if key.UserID == userID {
			out[key.DeviceID] = e
		}
	}
	return out
}

// Sweep walks every entry once, flipping online entries offline when
// their last heartbeat is older than twice the heartbeat interval, and
// dropping offline entries that stayed stale past ten intervals so the
// map does not grow with departed devices. Returns the number flipped.
func (r *Registry) Sweep() int {
	now := r.now()
	staleAfter := 2 * r.heartbeat
	dropAfter := 10 * r.heartbeat

	r.mu.Lock()
	defer r.mu.Unlock()

	flipped := 0
	for key, e := range r.entries {
		age := now.Sub(e.LastSeen)
		switch {
		case e.Online && age > staleAfter:
			e.Online = false
			r.entries[key] = e
			flipped++
		case !e.Online && age > dropAfter:
			delete(r.entries, key)
		}
	}
	return flipped
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
				r.logger.Debug("presence sweep", "flipped_offline", n)
			}
		}
	}
}
