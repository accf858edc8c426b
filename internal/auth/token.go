// Package auth validates the bearer tokens that admit websocket and
// REST callers, and normalizes where clients are allowed to carry them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

const subprotocolPrefix = "bearer."

// Claims is the identity carried by a verified token.
type Claims struct {
	UserID   uuid.UUID
	DeviceID uuid.UUID
}

// Verifier checks HS256 bearer tokens. sub carries the user id and
// did the device id.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *Verifier) Verify(tokenStr string) (Claims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		// Ensure HS* (HMAC) only
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}
	if iss, _ := claims["iss"].(string); iss != "" && iss != v.issuer {
		return Claims{}, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	did, _ := claims["did"].(string)
	deviceID, err := uuid.Parse(did)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: bad device id", ErrInvalidToken)
	}

	return Claims{UserID: userID, DeviceID: deviceID}, nil
}

// Sign issues a token the Verifier accepts.
func (v *Verifier) Sign(userID, deviceID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": v.issuer,
		"sub": userID.String(),
		"did": deviceID.String(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return t.SignedString(v.secret)
}

// BearerToken extracts the bearer token from a request. The
// Authorization header wins; browser websocket clients cannot set it,
// so the bearer.<token> subprotocol value and finally the token query
// param are accepted in that order.
func BearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return strings.TrimSpace(raw[len("Bearer "):])
	}

	for _, proto := range websocketProtocols(r) {
		if strings.HasPrefix(proto, subprotocolPrefix) {
			return strings.TrimPrefix(proto, subprotocolPrefix)
		}
	}

	return r.URL.Query().Get("token")
}

// TokenSubprotocol reports the subprotocol value that carried the
// token, if any, so the websocket handshake can echo it back.
func TokenSubprotocol(r *http.Request) (string, bool) {
	for _, proto := range websocketProtocols(r) {
		if strings.HasPrefix(proto, subprotocolPrefix) {
			return proto, true
		}
	}
	return "", false
}

func websocketProtocols(r *http.Request) []string {
	var protos []string
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(header, ",") {
			if p = strings.TrimSpace(p); p != "" {
				protos = append(protos, p)
			}
		}
	}
	return protos
}
