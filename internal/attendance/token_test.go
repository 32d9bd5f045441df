package attendance

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueProducesSixDigitCode(t *testing.T) {
	svc := NewTokenService(30 * time.Minute)
	for i := 0; i < 50; i++ {
		tok, err := svc.Issue("sess-1")
		require.NoError(t, err)
		require.Len(t, tok.Code, 6)
		for _, r := range tok.Code {
			require.True(t, r >= '0' && r <= '9', "code %q not numeric", tok.Code)
		}
		require.Equal(t, 30*time.Minute, tok.ExpiresAt.Sub(tok.IssuedAt))
	}
}

func TestIssueReplacesWindow(t *testing.T) {
	clock := newFakeClock()
	svc := NewTokenService(time.Minute)
	svc.now = clock.Now

	a, err := svc.Issue("sess-1")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	b, err := svc.Issue("sess-1")
	require.NoError(t, err)
	require.True(t, b.IssuedAt.After(a.IssuedAt))
	require.True(t, b.ExpiresAt.After(a.ExpiresAt))
}

func TestCheckOutcomes(t *testing.T) {
	clock := newFakeClock()
	svc := NewTokenService(30 * time.Minute)
	svc.now = clock.Now

	tok, err := svc.Issue("sess-1")
	require.NoError(t, err)

	require.NoError(t, svc.Check(&tok, tok.Code))
	// Idempotent: checking does not consume the token.
	require.NoError(t, svc.Check(&tok, tok.Code))

	require.ErrorIs(t, svc.Check(nil, tok.Code), ErrNoActiveToken)
	require.ErrorIs(t, svc.Check(&tok, "000000"), ErrMismatch)

	clock.Advance(31 * time.Minute)
	require.ErrorIs(t, svc.Check(&tok, tok.Code), ErrExpired)
	// Wrong code on an expired token still reads as Mismatch, so rotation
	// always wins over expiry in reporting.
	require.ErrorIs(t, svc.Check(&tok, "000000"), ErrMismatch)
}

func TestQRPayloadShape(t *testing.T) {
	clock := newFakeClock()
	svc := NewTokenService(time.Minute)
	svc.now = clock.Now

	tok, err := svc.Issue("sess-42")
	require.NoError(t, err)

	u, err := url.Parse(tok.QRPayload)
	require.NoError(t, err)
	require.Equal(t, "emargement", u.Scheme)
	q := u.Query()
	require.Equal(t, "sess-42", q.Get("session"))
	require.Equal(t, tok.Code, q.Get("code"))
	require.NotEmpty(t, q.Get("issued"))
}
