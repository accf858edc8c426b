package store

import (
	"context"
	"time"

	"relay/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OneTimePreKeyStore struct{ db *gorm.DB }

func (s *Store) OneTimePreKeys() *OneTimePreKeyStore { return &OneTimePreKeyStore{db: s.DB} }

func (o *OneTimePreKeyStore) AddBatch(ctx context.Context, keys []domain.OneTimePreKey) error {
	if len(keys) == 0 {
		return nil
	}
	return o.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&keys).Error
}

// ConsumeNext selects the oldest unconsumed key for the device, marks it
// consumed and returns it. The row lock keeps two concurrent allocators
// from winning the same key; SKIP LOCKED sends the loser to the
// next-oldest row instead of blocking. Returns (nil, nil) when the
// device's stock is exhausted.
func (o *OneTimePreKeyStore) ConsumeNext(ctx context.Context, deviceID uuid.UUID) (*domain.OneTimePreKey, error) {
	var key domain.OneTimePreKey
	tx := o.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("device_id = ? AND consumed_at IS NULL", deviceID).
		Order("created_at ASC, id ASC")
	if err := tx.First(&key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	now := time.Now().UTC()
	if err := o.db.WithContext(ctx).Model(&domain.OneTimePreKey{}).
		Where("id = ?", key.ID).
		Update("consumed_at", now).Error; err != nil {
		return nil, err
	}
	key.ConsumedAt = &now
	return &key, nil
}

func (o *OneTimePreKeyStore) CountUnconsumed(ctx context.Context, deviceID uuid.UUID) (int64, error) {
	var count int64
	err := o.db.WithContext(ctx).
		Model(&domain.OneTimePreKey{}).
		Where("device_id = ? AND consumed_at IS NULL", deviceID).
		Count(&count).Error
	return count, err
}

// DeviceStock is the remaining unconsumed key count for one device.
type DeviceStock struct {
	DeviceID uuid.UUID
	Count    int64
}

// StockBelow returns devices whose unconsumed key count is under min,
// including devices whose stock is fully exhausted.
func (o *OneTimePreKeyStore) StockBelow(ctx context.Context, min int64) ([]DeviceStock, error) {
	var stocks []DeviceStock
	err := o.db.WithContext(ctx).
		Raw(`SELECT d.id AS device_id, COUNT(k.id) AS count
		     FROM devices d
		     LEFT JOIN one_time_pre_keys k ON k.device_id = d.id AND k.consumed_at IS NULL
		     GROUP BY d.id
		     HAVING COUNT(k.id) < ?`, min).
		Scan(&stocks).Error
	if err != nil {
		return nil, err
	}
	return stocks, nil
}
