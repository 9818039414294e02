package token_test

import (
	"encoding/base64"
	"testing"
	"time"

	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
	"github.com/jrsteele09/iiif-auth-server/token"
	"github.com/stretchr/testify/require"
)

func pinNow(t *testing.T, now time.Time) {
	t.Helper()
	original := token.NowTimeFunc
	token.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { token.NowTimeFunc = original })
}

func TestGenerateNewToken_RejectsNonUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)

	_, err := token.GenerateNewToken(time.Now().In(loc))

	require.Error(t, err)
	require.True(t, autherrors.Is(err, autherrors.ErrInvalidArgument))
}

func TestGenerateNewToken_SameTimestampNeverEqual(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok, err := token.GenerateNewToken(ts)
		require.NoError(t, err)
		_, dup := seen[tok]
		require.False(t, dup, "token generated twice for the same timestamp")
		seen[tok] = struct{}{}
	}
}

func TestHasExpired_Window(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tok, err := token.GenerateNewToken(created)
	require.NoError(t, err)

	window := 300 * time.Second

	t.Run("fresh", func(t *testing.T) {
		pinNow(t, created)
		require.False(t, token.HasExpired(tok, window))
	})

	t.Run("just before window", func(t *testing.T) {
		pinNow(t, created.Add(window-time.Millisecond))
		require.False(t, token.HasExpired(tok, window))
	})

	t.Run("just after window", func(t *testing.T) {
		pinNow(t, created.Add(window+time.Millisecond))
		require.True(t, token.HasExpired(tok, window))
	})

	t.Run("local clock is converted", func(t *testing.T) {
		pinNow(t, created.Add(time.Minute).In(time.FixedZone("UTC-5", -5*60*60)))
		require.False(t, token.HasExpired(tok, window))
	})
}

func TestHasExpired_MalformedIsExpired(t *testing.T) {
	pinNow(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	for name, tok := range map[string]string{
		"empty":        "",
		"not base64":   "!!!not-a-token!!!",
		"too short":    base64.RawURLEncoding.EncodeToString([]byte("short")),
		"too long":     base64.RawURLEncoding.EncodeToString(make([]byte, 40)),
		"zero stamp":   base64.RawURLEncoding.EncodeToString(make([]byte, 24)),
		"padded input": base64.URLEncoding.EncodeToString(make([]byte, 23)),
	} {
		t.Run(name, func(t *testing.T) {
			require.True(t, token.HasExpired(tok, token.DefaultValidFor))
		})
	}
}
