package prekey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relay/internal/domain"
	"relay/internal/dto"
	"relay/internal/observability/metrics"
	"relay/internal/store"

	"github.com/google/uuid"
)

type Service struct {
	store *store.Store
}

func New(store *store.Store) *Service {
	return &Service{store: store}
}

func (s *Service) RegisterDevice(ctx context.Context, req dto.RegisterDeviceRequest) (dto.RegisterDeviceResponse, error) {
	if req.IdentityKey == "" || req.IdentitySignatureKey == "" || req.SignedPreKey.PublicKey == "" || req.SignedPreKey.Signature == "" {
		return dto.RegisterDeviceResponse{}, fmt.Errorf("%w: missing key material", ErrInvalidRequest)
	}

	userID, err := parseOrGenerate(req.UserID)
	if err != nil {
		return dto.RegisterDeviceResponse{}, fmt.Errorf("%w: invalid userId", ErrInvalidRequest)
	}
	deviceID, err := parseOrGenerate(req.DeviceID)
	if err != nil {
		return dto.RegisterDeviceResponse{}, fmt.Errorf("%w: invalid deviceId", ErrInvalidRequest)
	}

	createdAt := req.SignedPreKey.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	otks, err := collectOneTimeKeys(deviceID, req.OneTimePreKeys)
	if err != nil {
		return dto.RegisterDeviceResponse{}, err
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Users().Ensure(ctx, userID); err != nil {
			return err
		}
		if err := tx.Devices().Upsert(ctx, domain.Device{ID: deviceID, UserID: userID, RegistrationID: req.RegistrationID}); err != nil {
			return err
		}
		if err := tx.IdentityKeys().Upsert(ctx, domain.IdentityKey{DeviceID: deviceID, PublicKey: req.IdentityKey, SignatureKey: req.IdentitySignatureKey}); err != nil {
			return err
		}
		if err := tx.SignedPreKeys().Upsert(ctx, domain.SignedPreKey{DeviceID: deviceID, KeyID: req.SignedPreKey.KeyID, PublicKey: req.SignedPreKey.PublicKey, Signature: req.SignedPreKey.Signature, CreatedAt: createdAt}); err != nil {
			return err
		}
		return tx.OneTimePreKeys().AddBatch(ctx, otks)
	})
	if err != nil {
		return dto.RegisterDeviceResponse{}, err
	}

	return dto.RegisterDeviceResponse{
		UserID:         userID.String(),
		DeviceID:       deviceID.String(),
		OneTimePreKeys: len(otks),
	}, nil
}

// Bundle assembles a prekey bundle for the device, consuming at most one
// one-time prekey. When the device's one-time stock is exhausted the
// bundle is still served without one.
func (s *Service) Bundle(ctx context.Context, deviceID uuid.UUID) (dto.PreKeyBundleResponse, error) {
	var (
		device   *domain.Device
		identity *domain.IdentityKey
		signed   *domain.SignedPreKey
		otk      *domain.OneTimePreKey
	)

	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		device, err = tx.Devices().Get(ctx, deviceID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrDeviceNotFound
			}
			return err
		}
		identity, err = tx.IdentityKeys().GetByDevice(ctx, deviceID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrDeviceNotFound
			}
			return err
		}
		signed, err = tx.SignedPreKeys().GetByDevice(ctx, deviceID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrDeviceNotFound
			}
			return err
		}
		otk, err = tx.OneTimePreKeys().ConsumeNext(ctx, deviceID)
		return err
	})
	if err != nil {
		metrics.PreKeyBundlesFetchedTotal.WithLabelValues("error").Inc()
		if errors.Is(err, ErrDeviceNotFound) {
			return dto.PreKeyBundleResponse{}, ErrDeviceNotFound
		}
		return dto.PreKeyBundleResponse{}, err
	}
	metrics.PreKeyBundlesFetchedTotal.WithLabelValues("ok").Inc()

	resp := dto.PreKeyBundleResponse{
		DeviceID:             deviceID.String(),
		RegistrationID:       device.RegistrationID,
		IdentityKey:          identity.PublicKey,
		IdentitySignatureKey: identity.SignatureKey,
		SignedPreKey: dto.SignedPreKey{
			KeyID:     signed.KeyID,
			PublicKey: signed.PublicKey,
			Signature: signed.Signature,
			CreatedAt: signed.CreatedAt,
		},
	}
	if otk != nil {
		resp.OneTimePreKey = &dto.OneTimePreKey{
			ID:        otk.ID.String(),
			KeyID:     otk.KeyID,
			PublicKey: otk.PublicKey,
		}
	}
	return resp, nil
}

func (s *Service) RotateSignedPreKey(ctx context.Context, req dto.RotateSignedPreKeyRequest) (dto.RotateSignedPreKeyResponse, error) {
	deviceID, err := uuid.Parse(req.DeviceID)
	if err != nil {
		return dto.RotateSignedPreKeyResponse{}, fmt.Errorf("%w: invalid deviceId", ErrInvalidRequest)
	}
	if req.SignedPreKey.PublicKey == "" || req.SignedPreKey.Signature == "" {
		return dto.RotateSignedPreKeyResponse{}, fmt.Errorf("%w: missing signed prekey", ErrInvalidRequest)
	}

	createdAt := req.SignedPreKey.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	otks, err := collectOneTimeKeys(deviceID, req.OneTimePreKeys)
	if err != nil {
		return dto.RotateSignedPreKeyResponse{}, err
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := tx.Devices().Get(ctx, deviceID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrDeviceNotFound
			}
			return err
		}
		if err := tx.SignedPreKeys().Upsert(ctx, domain.SignedPreKey{DeviceID: deviceID, KeyID: req.SignedPreKey.KeyID, PublicKey: req.SignedPreKey.PublicKey, Signature: req.SignedPreKey.Signature, CreatedAt: createdAt}); err != nil {
			return err
		}
		return tx.OneTimePreKeys().AddBatch(ctx, otks)
	})
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return dto.RotateSignedPreKeyResponse{}, ErrDeviceNotFound
		}
		return dto.RotateSignedPreKeyResponse{}, err
	}

	return dto.RotateSignedPreKeyResponse{
		DeviceID: req.DeviceID,
		SignedPreKey: dto.SignedPreKey{
			KeyID:     req.SignedPreKey.KeyID,
			PublicKey: req.SignedPreKey.PublicKey,
			Signature: req.SignedPreKey.Signature,
			CreatedAt: createdAt,
		},
		AddedOneTimeKeys: len(otks),
	}, nil
}

func collectOneTimeKeys(deviceID uuid.UUID, keys []dto.OneTimePreKey) ([]domain.OneTimePreKey, error) {
	otks := make([]domain.OneTimePreKey, 0, len(keys))
	for _, k := range keys {
		if k.PublicKey == "" {
			return nil, fmt.Errorf("%w: one-time prekey missing publicKey", ErrInvalidRequest)
		}
		id, err := parseOrGenerate(k.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid one-time prekey id", ErrInvalidRequest)
		}
		otks = append(otks, domain.OneTimePreKey{ID: id, DeviceID: deviceID, KeyID: k.KeyID, PublicKey: k.PublicKey})
	}
	return otks, nil
}

func parseOrGenerate(id string) (uuid.UUID, error) {
	if id == "" {
		return uuid.New(), nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, err
	}
	return parsed, nil
}
