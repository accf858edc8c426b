package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

type Device struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index"`
	RegistrationID uint32    `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
}

type Room struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

type RoomMember struct {
	RoomID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	JoinedAt time.Time `gorm:"not null;autoCreateTime"`
}

type Message struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoomID       uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_room_sent,priority:1"`
	SenderID     uuid.UUID `gorm:"type:uuid;not null"`
	FromDeviceID uuid.UUID `gorm:"type:uuid;not null"`
	Ciphertext   []byte    `gorm:"type:bytea;not null"`
	Header       JSON      `gorm:"type:jsonb;not null"`
	SentAt       time.Time `gorm:"not null;index:idx_messages_room_sent,priority:2"`
}

// ReadMarker records the newest message a user has acknowledged in a room.
type ReadMarker struct {
	RoomID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageID uuid.UUID `gorm:"type:uuid;not null"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
)

const EventTypeMessageCreated = "message.created"

type OutboxEvent struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement"`
	AggregateID uuid.UUID  `gorm:"type:uuid;not null;index"`
	EventType   string     `gorm:"size:64;not null"`
	Payload     JSON       `gorm:"type:jsonb;not null"`
	Status      string     `gorm:"size:16;not null;default:PENDING;index"`
	Attempts    int        `gorm:"not null;default:0"`
	OccurredAt  time.Time  `gorm:"not null;index"`
	PublishedAt *time.Time
}

func (OutboxEvent) TableName() string { return "outbox_events" }

type IdentityKey struct {
	DeviceID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	PublicKey    string    `gorm:"type:text;not null"`
	SignatureKey string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime"`
}

type SignedPreKey struct {
	DeviceID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	KeyID     uint32    `gorm:"not null;default:0"`
	PublicKey string    `gorm:"type:text;not null"`
	Signature string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type OneTimePreKey struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	DeviceID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	KeyID      uint32     `gorm:"not null;default:0"`
	PublicKey  string     `gorm:"type:text;not null"`
	ConsumedAt *time.Time
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}
