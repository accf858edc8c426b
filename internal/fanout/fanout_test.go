package fanout_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"relay/internal/domain"
	"relay/internal/fanout"
	"relay/internal/session"
	"relay/internal/store"
)

type fakeSubscriber struct {
	pattern string
	handler func(subject string, payload []byte)
}

func (f *fakeSubscriber) Subscribe(pattern string, fn func(subject string, payload []byte)) (*nats.Subscription, error) {
	f.pattern = pattern
	f.handler = fn
	return nil, nil
}

type fakeSession struct {
	id     string
	userID uuid.UUID

	mu     sync.Mutex
	pushed [][]byte
}

func newFakeSession(userID uuid.UUID) *fakeSession {
	return &fakeSession{id: uuid.NewString(), userID: userID}
}

func (s *fakeSession) ID() string                { return s.id }
func (s *fakeSession) UserID() uuid.UUID         { return s.userID }
func (s *fakeSession) DeviceID() uuid.UUID       { return uuid.Nil }
func (s *fakeSession) IsOpen() bool              { return true }
func (s *fakeSession) Close(reason string) error { return nil }

func (s *fakeSession) Push(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed = append(s.pushed, payload)
	return nil
}

func (s *fakeSession) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.pushed...)
}

func setupFanout(t *testing.T) (*fanout.Fanout, *fakeSubscriber, *store.Store, *session.Registry) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	st := store.New(db)
	require.NoError(t, st.AutoMigrate(context.Background()))

	sub := &fakeSubscriber{}
	sessions := session.NewRegistry(slog.Default())
	f := fanout.New(sub, st, sessions, slog.Default())
	require.NoError(t, f.Start())
	require.Equal(t, "room.>", sub.pattern)

	return f, sub, st, sessions
}

func eventPayload(t *testing.T, msg domain.Message) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"messageId": msg.ID.String(),
		"roomId":    msg.RoomID.String(),
		"senderId":  msg.SenderID.String(),
	})
	require.NoError(t, err)
	return payload
}

func TestDeliverPushesToMemberSessionsOnly(t *testing.T) {
	_, sub, st, sessions := setupFanout(t)
	ctx := context.Background()

	roomID := uuid.New()
	memberA, memberB, outsider := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, st.Rooms().Ensure(ctx, roomID))
	require.NoError(t, st.Rooms().AddMember(ctx, roomID, memberA))
	require.NoError(t, st.Rooms().AddMember(ctx, roomID, memberB))

	msg := domain.Message{
		ID:           uuid.New(),
		RoomID:       roomID,
		SenderID:     memberA,
		FromDeviceID: uuid.New(),
		Ciphertext:   []byte("sealed"),
		Header:       domain.JSON(`{"alg":"dr"}`),
		SentAt:       time.Now().UTC(),
	}
	require.NoError(t, st.Messages().Create(ctx, &msg))

	sessA := newFakeSession(memberA)
	sessB1 := newFakeSession(memberB)
	sessB2 := newFakeSession(memberB)
	sessOut := newFakeSession(outsider)
	sessions.Register(memberA, sessA)
	sessions.Register(memberB, sessB1)
	sessions.Register(memberB, sessB2)
	sessions.Register(outsider, sessOut)

	sub.handler("room."+roomID.String()+".message.created", eventPayload(t, msg))

	for _, sess := range []*fakeSession{sessA, sessB1, sessB2} {
		frames := sess.frames()
		require.Len(t, frames, 1, "session %s", sess.ID())

		var frame struct {
			Type    string `json:"type"`
			Message struct {
				ID         string `json:"id"`
				Ciphertext string `json:"ciphertext"`
			} `json:"message"`
		}
		require.NoError(t, json.Unmarshal(frames[0], &frame))
		assert.Equal(t, "message", frame.Type)
		assert.Equal(t, msg.ID.String(), frame.Message.ID)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("sealed")), frame.Message.Ciphertext)
	}

	assert.Empty(t, sessOut.frames())
}

func TestDeliverToleratesBadEvents(t *testing.T) {
	f, _, st, sessions := setupFanout(t)
	ctx := context.Background()

	roomID := uuid.New()
	member := uuid.New()
	require.NoError(t, st.Rooms().Ensure(ctx, roomID))
	require.NoError(t, st.Rooms().AddMember(ctx, roomID, member))

	sess := newFakeSession(member)
	sessions.Register(member, sess)

	f.Deliver("room.x", []byte("{not json"))
	f.Deliver("room.x", []byte(`{"messageId":"nope","roomId":"nope"}`))

	// Valid shape but unknown message: redelivery after cleanup.
	payload, _ := json.Marshal(map[string]string{
		"messageId": uuid.NewString(),
		"roomId":    roomID.String(),
		"senderId":  member.String(),
	})
	f.Deliver("room."+roomID.String()+".message.created", payload)

	assert.Empty(t, sess.frames())
}
