// Package fanout delivers broker events to the live sessions of room
// members on this instance. Delivery is best effort per session; the
// durable history remains the source of truth on reconnect.
package fanout

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"relay/internal/dto"
	"relay/internal/session"
	"relay/internal/store"
)

const deliverTimeout = 5 * time.Second

// Subscriber is the broker side of the bridge. Satisfied by
// broker.NATSPublisher.
type Subscriber interface {
	Subscribe(pattern string, fn func(subject string, payload []byte)) (*nats.Subscription, error)
}

type event struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	SenderID  string `json:"senderId"`
}

type Fanout struct {
	subscriber Subscriber
	store      *store.Store
	sessions   *session.Registry
	logger     *slog.Logger
}

func New(subscriber Subscriber, store *store.Store, sessions *session.Registry, logger *slog.Logger) *Fanout {
	return &Fanout{
		subscriber: subscriber,
		store:      store,
		sessions:   sessions,
		logger:     logger,
	}
}

// Start subscribes to every room subject. The subscription lives until
// the broker connection closes.
func (f *Fanout) Start() error {
	_, err := f.subscriber.Subscribe("room.>", f.Deliver)
	return err
}

// Deliver handles one broker event: load the message, resolve the
// room's members and push to each member's open sessions.
func (f *Fanout) Deliver(subject string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		f.logger.Warn("fanout dropped malformed event", "subject", subject, "error", err)
		return
	}
	messageID, err := uuid.Parse(ev.MessageID)
	if err != nil {
		f.logger.Warn("fanout dropped event with bad message id", "subject", subject, "error", err)
		return
	}
	roomID, err := uuid.Parse(ev.RoomID)
	if err != nil {
		f.logger.Warn("fanout dropped event with bad room id", "subject", subject, "error", err)
		return
	}

	msg, err := f.store.Messages().Get(ctx, messageID)
	if err != nil {
		// Redelivery can outrun or outlive the row; skip quietly when gone.
		if !errors.Is(err, store.ErrRecordNotFound) {
			f.logger.Warn("fanout message load failed", "message_id", messageID, "error", err)
		}
		return
	}

	frame, err := json.Marshal(map[string]any{
		"type": "message",
		"message": dto.MessageResponse{
			ID:           msg.ID.String(),
			RoomID:       msg.RoomID.String(),
			SenderID:     msg.SenderID.String(),
			FromDeviceID: msg.FromDeviceID.String(),
			Ciphertext:   base64.StdEncoding.EncodeToString(msg.Ciphertext),
			Header:       json.RawMessage(msg.Header),
			SentAt:       msg.SentAt,
		},
	})
	if err != nil {
		f.logger.Warn("fanout frame marshal failed", "message_id", messageID, "error", err)
		return
	}

	members, err := f.store.Rooms().MemberIDs(ctx, roomID)
	if err != nil {
		f.logger.Warn("fanout member lookup failed", "room_id", roomID, "error", err)
		return
	}

	for _, member := range members {
		for _, sess := range f.sessions.ListSessions(member) {
			if err := sess.Push(frame); err != nil {
				f.logger.Warn("fanout push failed", "session_id", sess.ID(), "user_id", member, "error", err)
			}
		}
	}
}
