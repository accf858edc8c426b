// Package cursor encodes (timestamp, message id) positions as opaque
// URL-safe pagination tokens.
package cursor

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidCursor = errors.New("cursor: invalid cursor")

// Encode packs a message position into a base64url token. Timestamps
// are truncated to millisecond precision, which matches the sent_at
// column resolution.
func Encode(ts time.Time, id uuid.UUID) string {
	raw := strconv.FormatInt(ts.UnixMilli(), 10) + ":" + id.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode reverses Encode. Any malformed token yields ErrInvalidCursor.
func Decode(token string) (time.Time, uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	millis, idPart, ok := strings.Cut(string(raw), ":")
	if !ok {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	epoch, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	return time.UnixMilli(epoch).UTC(), id, nil
}
