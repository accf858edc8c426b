// Package room is the service layer for room operations: sending,
// history paging, membership and read markers. All mutating operations
// on a room run through the per-room dispatcher so writers observe a
// single serial order per room.
package room

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"relay/internal/cursor"
	"relay/internal/dispatch"
	"relay/internal/domain"
	"relay/internal/dto"
	"relay/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Access answers authorization questions for rooms and absorbs
// membership-change notifications. Satisfied by acl.Cache.
type Access interface {
	CanPublish(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	CanSubscribe(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	OnMembershipChanged(ctx context.Context, roomID uuid.UUID) error
}

type Service struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	access     Access
	logger     *slog.Logger
	now        func() time.Time
}

func New(store *store.Store, dispatcher *dispatch.Dispatcher, access Access, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		access:     access,
		logger:     logger,
		now:        time.Now,
	}
}

type outboxPayload struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	SentAt    time.Time `json:"sentAt"`
}

// Send persists a ciphertext message and its outbox event in one
// transaction, ordered through the room's dispatcher queue. The sender
// is authorized before the task is enqueued so unauthorized traffic
// never occupies queue capacity.
func (s *Service) Send(ctx context.Context, roomID, senderID, deviceID uuid.UUID, req dto.SendMessageRequest) (dto.SendMessageResponse, error) {
	if req.Ciphertext == "" {
		return dto.SendMessageResponse{}, fmt.Errorf("%w: missing ciphertext", ErrInvalidRequest)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(req.Ciphertext)
	if err != nil {
		return dto.SendMessageResponse{}, fmt.Errorf("%w: ciphertext is not base64", ErrInvalidRequest)
	}
	header := req.Header
	if len(header) == 0 {
		header = json.RawMessage(`{}`)
	}
	if !json.Valid(header) {
		return dto.SendMessageResponse{}, fmt.Errorf("%w: header is not valid JSON", ErrInvalidRequest)
	}

	ok, err := s.access.CanPublish(ctx, senderID, roomID)
	if err != nil {
		return dto.SendMessageResponse{}, err
	}
	if !ok {
		return dto.SendMessageResponse{}, ErrNotMember
	}

	sentAt := req.SentAt
	if sentAt.IsZero() {
		sentAt = s.now().UTC()
	}

	msg := domain.Message{
		ID:           uuid.New(),
		RoomID:       roomID,
		SenderID:     senderID,
		FromDeviceID: deviceID,
		Ciphertext:   ciphertext,
		Header:       domain.JSON(header),
		SentAt:       sentAt,
	}

	_, err = s.dispatcher.ExecuteAndWait(ctx, roomID, func(taskCtx context.Context) (any, error) {
		return nil, s.store.WithTx(taskCtx, func(tx *store.Store) error {
			if err := tx.Messages().Create(taskCtx, &msg); err != nil {
				return err
			}
			payload, err := json.Marshal(outboxPayload{
				MessageID: msg.ID.String(),
				RoomID:    roomID.String(),
				SenderID:  senderID.String(),
				SentAt:    msg.SentAt,
			})
			if err != nil {
				return err
			}
			return tx.Outbox().Append(taskCtx, &domain.OutboxEvent{
				AggregateID: roomID,
				EventType:   domain.EventTypeMessageCreated,
				Payload:     domain.JSON(payload),
				OccurredAt:  msg.SentAt,
			})
		})
	})
	if err != nil {
		return dto.SendMessageResponse{}, err
	}

	return dto.SendMessageResponse{
		ID:     msg.ID.String(),
		RoomID: roomID.String(),
		SentAt: msg.SentAt,
	}, nil
}

// History pages a room's messages. With a before cursor (or neither
// cursor) it walks newest first; with an after cursor it walks oldest
// first from that position, for catching up past a known message. The
// response carries a nextCursor while more pages remain in the chosen
// direction.
func (s *Service) History(ctx context.Context, roomID, userID uuid.UUID, before, after string, limit int) (dto.HistoryResponse, error) {
	if err := s.authorize(ctx, roomID, userID); err != nil {
		return dto.HistoryResponse{}, err
	}
	if before != "" && after != "" {
		return dto.HistoryResponse{}, fmt.Errorf("%w: before and after cursors are mutually exclusive", ErrInvalidRequest)
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	decode := func(raw string) (*store.Position, error) {
		ts, id, err := cursor.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return &store.Position{SentAt: ts, ID: id}, nil
	}

	var msgs []domain.Message
	var err error
	switch {
	case after != "":
		pos, derr := decode(after)
		if derr != nil {
			return dto.HistoryResponse{}, derr
		}
		msgs, err = s.store.Messages().PageAfter(ctx, roomID, pos, limit)
	default:
		var pos *store.Position
		if before != "" {
			if pos, err = decode(before); err != nil {
				return dto.HistoryResponse{}, err
			}
		}
		msgs, err = s.store.Messages().PageBefore(ctx, roomID, pos, limit)
	}
	if err != nil {
		return dto.HistoryResponse{}, err
	}

	resp := dto.HistoryResponse{Messages: make([]dto.MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, dto.MessageResponse{
			ID:           m.ID.String(),
			RoomID:       m.RoomID.String(),
			SenderID:     m.SenderID.String(),
			FromDeviceID: m.FromDeviceID.String(),
			Ciphertext:   base64.StdEncoding.EncodeToString(m.Ciphertext),
			Header:       json.RawMessage(m.Header),
			SentAt:       m.SentAt,
		})
	}
	if len(msgs) == limit {
		last := msgs[len(msgs)-1]
		resp.NextCursor = cursor.Encode(last.SentAt, last.ID)
	}
	return resp, nil
}

// Join makes the user a member of the room, creating room and user
// rows as needed, and evicts the cached membership set.
func (s *Service) Join(ctx context.Context, roomID, userID uuid.UUID) error {
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Users().Ensure(ctx, userID); err != nil {
			return err
		}
		if err := tx.Rooms().Ensure(ctx, roomID); err != nil {
			return err
		}
		return tx.Rooms().AddMember(ctx, roomID, userID)
	})
	if err != nil {
		return err
	}
	s.evict(ctx, roomID)
	return nil
}

func (s *Service) Leave(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := s.store.Rooms().RemoveMember(ctx, roomID, userID); err != nil {
		return err
	}
	s.evict(ctx, roomID)
	return nil
}

// evict drops the cached membership set. The membership change is
// already committed; a failed eviction means staleness bounded by the
// cache TTL, not a failed operation.
func (s *Service) evict(ctx context.Context, roomID uuid.UUID) {
	if err := s.access.OnMembershipChanged(ctx, roomID); err != nil {
		s.logger.Warn("membership cache eviction failed", "room_id", roomID, "error", err)
	}
}

func (s *Service) Members(ctx context.Context, roomID, userID uuid.UUID) ([]uuid.UUID, error) {
	if err := s.authorize(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.store.Rooms().MemberIDs(ctx, roomID)
}

// Authorize reports whether the user may read from the room, mapping a
// negative answer to ErrNotMember.
func (s *Service) Authorize(ctx context.Context, roomID, userID uuid.UUID) error {
	return s.authorize(ctx, roomID, userID)
}

func (s *Service) authorize(ctx context.Context, roomID, userID uuid.UUID) error {
	ok, err := s.access.CanSubscribe(ctx, userID, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// MarkRead advances the user's read marker, ordered through the room's
// dispatcher queue like every other room mutation.
func (s *Service) MarkRead(ctx context.Context, roomID, userID, messageID uuid.UUID) error {
	if err := s.authorize(ctx, roomID, userID); err != nil {
		return err
	}

	_, err := s.dispatcher.ExecuteAndWait(ctx, roomID, func(taskCtx context.Context) (any, error) {
		msg, err := s.store.Messages().Get(taskCtx, messageID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, ErrMessageNotFound
			}
			return nil, err
		}
		if msg.RoomID != roomID {
			return nil, ErrMessageNotFound
		}
		return nil, s.store.ReadMarkers().Upsert(taskCtx, domain.ReadMarker{
			RoomID:    roomID,
			UserID:    userID,
			MessageID: messageID,
		})
	})
	return err
}
