// Package session tracks open connections per user. State is purely
// in-memory; it is rebuilt from live reconnects after a restart.
package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Session is one live connection for one user/device.
type Session interface {
	ID() string
	UserID() uuid.UUID
	DeviceID() uuid.UUID
	IsOpen() bool
	Close(reason string) error
	Push(payload []byte) error
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	byUser   map[uuid.UUID]map[string]struct{}
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		byUser:   make(map[uuid.UUID]map[string]struct{}),
		logger:   logger,
	}
}

func (r *Registry) Register(userID uuid.UUID, sess Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sess.ID()] = sess
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[sess.ID()] = struct{}{}
}

// Remove drops the session and prunes the user's index entry set when
// it becomes empty.
func (r *Registry) Remove(sess Session, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sess.ID())
	if set, ok := r.byUser[userID]; ok {
		delete(set, sess.ID())
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// HasActiveSession reports whether at least one indexed session is
// still open. Liveness is checked lazily; closed-but-unpruned entries
// do not count.
func (r *Registry) HasActiveSession(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id := range r.byUser[userID] {
		if sess, ok := r.sessions[id]; ok && sess.IsOpen() {
			return true
		}
	}
	return false
}

// ListSessions returns a snapshot of the user's currently open
// sessions only.
func (r *Registry) ListSessions(userID uuid.UUID) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Session
	for id := range r.byUser[userID] {
		if sess, ok := r.sessions[id]; ok && sess.IsOpen() {
			out = append(out, sess)
		}
	}
	return out
}

// Kick closes every open session for the user and returns the count
// closed. Closing is fire-and-forget per session: one failed close does
// not abort the rest.
func (r *Registry) Kick(userID uuid.UUID, reason string) int {
	sessions := r.ListSessions(userID)

	closed := 0
	for _, sess := range sessions {
		if err := sess.Close(reason); err != nil {
			r.logger.Warn("session close failed", "session_id", sess.ID(), "user_id", userID, "error", err)
			continue
		}
		closed++
	}
	return closed
}

// KickDevice closes the user's open sessions for one device, returning
// the count closed. A reconnect from the same device goes through here
// so the stale socket does not linger.
func (r *Registry) KickDevice(userID, deviceID uuid.UUID, reason string) int {
	closed := 0
	for _, sess := range r.ListSessions(userID) {
		if sess.DeviceID() != deviceID {
			continue
		}
		if err := sess.Close(reason); err != nil {
			r.logger.Warn("session close failed", "session_id", sess.ID(), "user_id", userID, "device_id", deviceID, "error", err)
			continue
		}
		closed++
	}
	return closed
}

// Count returns the number of registered sessions, open or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
