package cursor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRoundTrip(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

	token := Encode(ts, id)
	if strings.ContainsAny(token, "+/=") {
		t.Fatalf("token is not URL-safe: %q", token)
	}

	gotTS, gotID, err := Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !gotTS.Equal(ts) {
		t.Fatalf("expected %v, got %v", ts, gotTS)
	}
	if gotID != id {
		t.Fatalf("expected %s, got %s", id, gotID)
	}
}

func TestRoundTripTruncatesToMillis(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2025, 3, 14, 9, 26, 53, 589_123_456, time.UTC)

	gotTS, _, err := Decode(Encode(ts, id))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !gotTS.Equal(ts.Truncate(time.Millisecond)) {
		t.Fatalf("expected millisecond truncation, got %v", gotTS)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		"",
		"not base64 at all!!",
		"aGVsbG8",         // valid base64, no separator
		"MTIzNDU2",        // valid base64, digits only
		"OnV1aWQtbWlzc2luZw", // empty millis part
	}
	for _, c := range cases {
		if _, _, err := Decode(c); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("expected ErrInvalidCursor for %q, got %v", c, err)
		}
	}

	// Tampering with a valid token's payload must fail cleanly.
	token := Encode(time.Now(), uuid.New())
	tampered := token[:len(token)-2] + "!!"
	if _, _, err := Decode(tampered); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor for tampered token, got %v", err)
	}
}
