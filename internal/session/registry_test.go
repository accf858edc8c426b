package session

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id       string
	userID   uuid.UUID
	deviceID uuid.UUID

	mu       sync.Mutex
	open     bool
	closeErr error
	reason   string
}

func newFakeSession(userID uuid.UUID) *fakeSession {
	return &fakeSession{id: uuid.NewString(), userID: userID, deviceID: uuid.New(), open: true}
}

func (f *fakeSession) ID() string           { return f.id }
func (f *fakeSession) UserID() uuid.UUID    { return f.userID }
func (f *fakeSession) DeviceID() uuid.UUID  { return f.deviceID }
func (f *fakeSession) Push([]byte) error    { return nil }

func (f *fakeSession) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSession) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return f.closeErr
	}
	f.open = false
	f.reason = reason
	return nil
}

func newRegistry() *Registry {
	return NewRegistry(slog.Default())
}

func TestRegisterAndRemove(t *testing.T) {
	r := newRegistry()
	userID := uuid.New()

	s1 := newFakeSession(userID)
	s2 := newFakeSession(userID)
	r.Register(userID, s1)
	r.Register(userID, s2)

	require.True(t, r.HasActiveSession(userID))
	assert.Len(t, r.ListSessions(userID), 2)
	assert.Equal(t, 2, r.Count())

	r.Remove(s1, userID)
	assert.Len(t, r.ListSessions(userID), 1)

	r.Remove(s2, userID)
	assert.False(t, r.HasActiveSession(userID))
	assert.Equal(t, 0, r.Count())
}

func TestClosedSessionsAreFilteredNotReturned(t *testing.T) {
	r := newRegistry()
	userID := uuid.New()

	s1 := newFakeSession(userID)
	s2 := newFakeSession(userID)
	r.Register(userID, s1)
	r.Register(userID, s2)

	require.NoError(t, s1.Close("test"))

	// s1 is closed but not yet removed from the index.
	sessions := r.ListSessions(userID)
	require.Len(t, sessions, 1)
	assert.Equal(t, s2.ID(), sessions[0].ID())
	assert.True(t, r.HasActiveSession(userID))

	require.NoError(t, s2.Close("test"))
	assert.False(t, r.HasActiveSession(userID))
	assert.Empty(t, r.ListSessions(userID))
}

func TestKickClosesAllOpenSessions(t *testing.T) {
	r := newRegistry()
	userID := uuid.New()

	sessions := make([]*fakeSession, 3)
	for i := range sessions {
		sessions[i] = newFakeSession(userID)
		r.Register(userID, sessions[i])
	}

	closed := r.Kick(userID, "admin kick")
	assert.Equal(t, 3, closed)
	for _, s := range sessions {
		assert.False(t, s.IsOpen())
		assert.Equal(t, "admin kick", s.reason)
	}
	assert.False(t, r.HasActiveSession(userID))
}

func TestKickContinuesPastCloseFailures(t *testing.T) {
	r := newRegistry()
	userID := uuid.New()

	bad := newFakeSession(userID)
	bad.closeErr = errors.New("connection reset")
	good := newFakeSession(userID)
	r.Register(userID, bad)
	r.Register(userID, good)

	closed := r.Kick(userID, "kick")
	assert.Equal(t, 1, closed)
	assert.False(t, good.IsOpen())
	assert.True(t, bad.IsOpen())
}

func TestKickDeviceClosesOnlyThatDevice(t *testing.T) {
	r := newRegistry()
	userID := uuid.New()

	phone := newFakeSession(userID)
	laptop := newFakeSession(userID)
	r.Register(userID, phone)
	r.Register(userID, laptop)

	closed := r.KickDevice(userID, phone.deviceID, "superseded")
	assert.Equal(t, 1, closed)
	assert.False(t, phone.IsOpen())
	assert.Equal(t, "superseded", phone.reason)
	assert.True(t, laptop.IsOpen())
	assert.True(t, r.HasActiveSession(userID))
}

func TestKickIsolatedToOneUser(t *testing.T) {
	r := newRegistry()
	alice := uuid.New()
	bob := uuid.New()

	sa := newFakeSession(alice)
	sb := newFakeSession(bob)
	r.Register(alice, sa)
	r.Register(bob, sb)

	r.Kick(alice, "kick")
	assert.False(t, sa.IsOpen())
	assert.True(t, sb.IsOpen())
	assert.True(t, r.HasActiveSession(bob))
}

func TestConcurrentRegisterRemove(t *testing.T) {
	r := newRegistry()
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := newFakeSession(userID)
			r.Register(userID, s)
			r.HasActiveSession(userID)
			r.Remove(s, userID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count())
	assert.False(t, r.HasActiveSession(userID))
}
