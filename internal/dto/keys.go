package dto

import "time"

type SignedPreKey struct {
	KeyID     uint32    `json:"keyId"`
	PublicKey string    `json:"publicKey"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"createdAt"`
}

type OneTimePreKey struct {
	ID        string `json:"id"`
	KeyID     uint32 `json:"keyId"`
	PublicKey string `json:"publicKey"`
}

type RegisterDeviceRequest struct {
	UserID               string          `json:"userId"`
	DeviceID             string          `json:"deviceId"`
	RegistrationID       uint32          `json:"registrationId"`
	IdentityKey          string          `json:"identityKey"`
	IdentitySignatureKey string          `json:"identitySignatureKey"`
	SignedPreKey         SignedPreKey    `json:"signedPreKey"`
	OneTimePreKeys       []OneTimePreKey `json:"oneTimePreKeys"`
}

type RegisterDeviceResponse struct {
	UserID         string `json:"userId"`
	DeviceID       string `json:"deviceId"`
	OneTimePreKeys int    `json:"oneTimePreKeys"`
}

type PreKeyBundleResponse struct {
	DeviceID             string         `json:"deviceId"`
	RegistrationID       uint32         `json:"registrationId"`
	IdentityKey          string         `json:"identityKey"`
	IdentitySignatureKey string         `json:"identitySignatureKey"`
	SignedPreKey         SignedPreKey   `json:"signedPreKey"`
	OneTimePreKey        *OneTimePreKey `json:"oneTimePreKey,omitempty"`
}

type RotateSignedPreKeyRequest struct {
	DeviceID       string          `json:"deviceId"`
	SignedPreKey   SignedPreKey    `json:"signedPreKey"`
	OneTimePreKeys []OneTimePreKey `json:"oneTimePreKeys"`
}

type RotateSignedPreKeyResponse struct {
	DeviceID         string       `json:"deviceId"`
	SignedPreKey     SignedPreKey `json:"signedPreKey"`
	AddedOneTimeKeys int          `json:"addedOneTimePreKeys"`
}
