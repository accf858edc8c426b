package dto

import (
	"encoding/json"
	"time"
)

type SendMessageRequest struct {
	Ciphertext string          `json:"ciphertext"`
	Header     json.RawMessage `json:"header"`
	SentAt     time.Time       `json:"sentAt"`
}

type SendMessageResponse struct {
	ID     string    `json:"id"`
	RoomID string    `json:"roomId"`
	SentAt time.Time `json:"sentAt"`
}

type MessageResponse struct {
	ID           string          `json:"id"`
	RoomID       string          `json:"roomId"`
	SenderID     string          `json:"senderId"`
	FromDeviceID string          `json:"fromDeviceId"`
	Ciphertext   string          `json:"ciphertext"`
	Header       json.RawMessage `json:"header"`
	SentAt       time.Time       `json:"sentAt"`
}

type HistoryResponse struct {
	Messages   []MessageResponse `json:"messages"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

type MarkReadRequest struct {
	MessageID string `json:"messageId"`
}

type RoomMemberRequest struct {
	UserID string `json:"userId"`
}

type PresenceResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type TypingResponse struct {
	RoomID string   `json:"roomId"`
	Typers []string `json:"typers"`
}
