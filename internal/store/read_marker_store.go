package store

import (
	"context"

	"relay/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReadMarkerStore struct{ db *gorm.DB }

func (s *Store) ReadMarkers() *ReadMarkerStore { return &ReadMarkerStore{db: s.DB} }

func (r *ReadMarkerStore) Upsert(ctx context.Context, marker domain.ReadMarker) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{"message_id": marker.MessageID}),
		}).
		Create(&marker).Error
}

func (r *ReadMarkerStore) Get(ctx context.Context, roomID, userID uuid.UUID) (*domain.ReadMarker, error) {
	var marker domain.ReadMarker
	if err := r.db.WithContext(ctx).First(&marker, "room_id = ? AND user_id = ?", roomID, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &marker, nil
}
