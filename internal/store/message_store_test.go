package store_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"relay/internal/domain"
	"relay/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	st := store.New(db)
	require.NoError(t, st.AutoMigrate(context.Background()))
	return st
}

func seedMessage(t *testing.T, st *store.Store, roomID uuid.UUID, id byte, sentAt time.Time) *domain.Message {
	t.Helper()

	// Fixed ids make the (sent_at, id) tie-break deterministic.
	msgID := uuid.UUID{}
	msgID[15] = id

	msg := domain.Message{
		ID:           msgID,
		RoomID:       roomID,
		SenderID:     uuid.New(),
		FromDeviceID: uuid.New(),
		Ciphertext:   []byte{id},
		Header:       domain.JSON(`{}`),
		SentAt:       sentAt,
	}
	require.NoError(t, st.Messages().Create(context.Background(), &msg))
	return &msg
}

func TestPagingBreaksTiesByID(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	roomID := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Three messages sharing one timestamp plus an older and a newer one.
	older := seedMessage(t, st, roomID, 1, at.Add(-time.Second))
	a := seedMessage(t, st, roomID, 2, at)
	b := seedMessage(t, st, roomID, 3, at)
	c := seedMessage(t, st, roomID, 4, at)
	newer := seedMessage(t, st, roomID, 5, at.Add(time.Second))

	page, err := st.Messages().PageBefore(ctx, roomID, nil, 10)
	require.NoError(t, err)
	requireOrder(t, page, newer, c, b, a, older)

	// Paging from inside the tie group must not skip or repeat rows.
	pos := &store.Position{SentAt: b.SentAt, ID: b.ID}
	page, err = st.Messages().PageBefore(ctx, roomID, pos, 10)
	require.NoError(t, err)
	requireOrder(t, page, a, older)

	page, err = st.Messages().PageAfter(ctx, roomID, pos, 10)
	require.NoError(t, err)
	requireOrder(t, page, c, newer)
}

func TestPagingRespectsLimitAndRoomScope(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	roomID, otherRoom := uuid.New(), uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := byte(1); i <= 5; i++ {
		seedMessage(t, st, roomID, i, at.Add(time.Duration(i)*time.Second))
	}
	seedMessage(t, st, otherRoom, 9, at)

	page, err := st.Messages().PageBefore(ctx, roomID, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []byte{5}, page[0].Ciphertext)
	assert.Equal(t, []byte{4}, page[1].Ciphertext)

	page, err = st.Messages().PageAfter(ctx, roomID, nil, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []byte{1}, page[0].Ciphertext)

	for _, m := range page {
		assert.Equal(t, roomID, m.RoomID)
	}
}

func TestReadMarkerUpsert(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	roomID, userID := uuid.New(), uuid.New()
	first, second := uuid.New(), uuid.New()

	_, err := st.ReadMarkers().Get(ctx, roomID, userID)
	require.ErrorIs(t, err, store.ErrRecordNotFound)

	require.NoError(t, st.ReadMarkers().Upsert(ctx, domain.ReadMarker{RoomID: roomID, UserID: userID, MessageID: first}))
	require.NoError(t, st.ReadMarkers().Upsert(ctx, domain.ReadMarker{RoomID: roomID, UserID: userID, MessageID: second}))

	marker, err := st.ReadMarkers().Get(ctx, roomID, userID)
	require.NoError(t, err)
	assert.Equal(t, second, marker.MessageID)
}

func requireOrder(t *testing.T, got []domain.Message, want ...*domain.Message) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if !bytes.Equal(got[i].ID[:], want[i].ID[:]) {
			t.Fatalf("position %d: expected message %s, got %s", i, want[i].ID, got[i].ID)
		}
	}
}
