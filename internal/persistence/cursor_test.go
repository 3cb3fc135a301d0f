package persistence

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/carwash/activity/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{OccurredAt: time.Date(2025, 10, 27, 20, 0, 1, 250_000_000, time.UTC), ID: "5b0f3c1e"}

	token := EncodeCursor(in)
	require.NotEmpty(t, token)

	out, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, in.OccurredAt.Equal(out.OccurredAt))
	require.Equal(t, in.ID, out.ID)
}

func TestDecodeCursorEmpty(t *testing.T) {
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)
	require.Equal(t, "", EncodeCursor(nil))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{
		"%%%",
		base64.RawURLEncoding.EncodeToString([]byte("no-separator")),
		base64.RawURLEncoding.EncodeToString([]byte("yesterday|abc")),
		base64.RawURLEncoding.EncodeToString([]byte("2025-10-27T20:00:00Z|")),
	} {
		_, err := DecodeCursor(token)
		require.ErrorIs(t, err, ErrInvalidCursor, token)
	}
}

func TestNextCursor(t *testing.T) {
	at := time.Date(2025, 10, 27, 20, 0, 0, 0, time.UTC)
	records := []domain.StoredActivity{{ID: "b", OccurredAt: at.Add(time.Second)}, {ID: "a", OccurredAt: at}}

	require.Nil(t, NextCursor(records, 3))
	next := NextCursor(records, 2)
	require.NotNil(t, next)
	require.Equal(t, "a", next.ID)
	require.True(t, at.Equal(next.OccurredAt))
}
