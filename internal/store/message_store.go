package store

import (
	"context"
	"time"

	"relay/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

// Position is a (sent_at, id) point in a room's message order.
type Position struct {
	SentAt time.Time
	ID     uuid.UUID
}

func (m *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	return m.db.WithContext(ctx).Create(msg).Error
}

func (m *MessageStore) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	if err := m.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// PageBefore returns up to limit messages strictly older than pos,
// newest first. A nil pos starts from the newest message.
func (m *MessageStore) PageBefore(ctx context.Context, roomID uuid.UUID, pos *Position, limit int) ([]domain.Message, error) {
	tx := m.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sent_at desc, id desc").
		Limit(limit)
	if pos != nil {
		tx = tx.Where("sent_at < ? OR (sent_at = ? AND id < ?)", pos.SentAt, pos.SentAt, pos.ID)
	}
	var msgs []domain.Message
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// PageAfter returns up to limit messages strictly newer than pos,
// oldest first. A nil pos starts from the oldest message.
func (m *MessageStore) PageAfter(ctx context.Context, roomID uuid.UUID, pos *Position, limit int) ([]domain.Message, error) {
	tx := m.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sent_at asc, id asc").
		Limit(limit)
	if pos != nil {
		tx = tx.Where("sent_at > ? OR (sent_at = ? AND id > ?)", pos.SentAt, pos.SentAt, pos.ID)
	}
	var msgs []domain.Message
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
