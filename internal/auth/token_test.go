package auth_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/auth"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := auth.NewVerifier("test-secret", "relay")

	userID := uuid.New()
	deviceID := uuid.New()

	token, err := v.Sign(userID, deviceID, time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, deviceID, claims.DeviceID)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := auth.NewVerifier("test-secret", "relay")
	userID, deviceID := uuid.New(), uuid.New()

	t.Run("wrong secret", func(t *testing.T) {
		other := auth.NewVerifier("other-secret", "relay")
		token, err := other.Sign(userID, deviceID, time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := auth.NewVerifier("test-secret", "someone-else")
		token, err := other.Sign(userID, deviceID, time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := v.Sign(userID, deviceID, -time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("non-hmac method rejected", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"iss": "relay",
			"sub": userID.String(),
			"did": deviceID.String(),
		})
		token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("missing device claim", func(t *testing.T) {
		raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": "relay",
			"sub": userID.String(),
			"exp": time.Now().Add(time.Minute).Unix(),
		})
		token, err := raw.SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Verify("not.a.jwt")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestBearerTokenPrecedence(t *testing.T) {
	t.Run("authorization header wins", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
		r.Header.Set("Authorization", "Bearer from-header")
		r.Header.Set("Sec-WebSocket-Protocol", "bearer.from-subprotocol")

		assert.Equal(t, "from-header", auth.BearerToken(r))
	})

	t.Run("subprotocol over query", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
		r.Header.Set("Sec-WebSocket-Protocol", "chat-v1, bearer.from-subprotocol")

		assert.Equal(t, "from-subprotocol", auth.BearerToken(r))
	})

	t.Run("query as last resort", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token=from-query", nil)

		assert.Equal(t, "from-query", auth.BearerToken(r))
	})

	t.Run("nothing present", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)

		assert.Equal(t, "", auth.BearerToken(r))
	})
}

func TestTokenSubprotocol(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "chat-v1, bearer.abc")

	proto, ok := auth.TokenSubprotocol(r)
	require.True(t, ok)
	assert.Equal(t, "bearer.abc", proto)

	r = httptest.NewRequest("GET", "/ws", nil)
	_, ok = auth.TokenSubprotocol(r)
	assert.False(t, ok)
}
