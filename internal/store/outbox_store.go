package store

import (
	"context"
	"time"

	"relay/internal/domain"

	"gorm.io/gorm"
)

type OutboxStore struct{ db *gorm.DB }

func (s *Store) Outbox() *OutboxStore { return &OutboxStore{db: s.DB} }

// Append inserts a PENDING row. Callers run it inside the same WithTx
// as the originating write so the event commits or rolls back with it.
func (o *OutboxStore) Append(ctx context.Context, event *domain.OutboxEvent) error {
	if event.Status == "" {
		event.Status = domain.OutboxStatusPending
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return o.db.WithContext(ctx).Create(event).Error
}

// FetchPending returns up to limit PENDING rows with occurred_at at or
// before cutoff, in insertion order.
func (o *OutboxStore) FetchPending(ctx context.Context, limit int, cutoff time.Time) ([]domain.OutboxEvent, error) {
	var events []domain.OutboxEvent
	err := o.db.WithContext(ctx).
		Where("status = ? AND occurred_at <= ?", domain.OutboxStatusPending, cutoff).
		Order("id asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (o *OutboxStore) MarkSent(ctx context.Context, id uint64, at time.Time) error {
	return o.db.WithContext(ctx).
		Model(&domain.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.OutboxStatusSent,
			"published_at": at,
		}).Error
}

func (o *OutboxStore) MarkFailed(ctx context.Context, id uint64) error {
	return o.db.WithContext(ctx).
		Model(&domain.OutboxEvent{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}
