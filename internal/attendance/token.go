package attendance

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"
)

// DefaultTokenTTL is the check-in window when none is configured.
const DefaultTokenTTL = 30 * time.Minute

var oneMillion = big.NewInt(1_000_000)

// TokenService issues and checks the rotating (code, QR) pair for open
// sessions. It is stateless; the current token lives on the session row and
// every check runs inside the same atomic unit as the signature write.
type TokenService struct {
	ttl time.Duration
	now func() time.Time
}

// NewTokenService creates a token service with the given expiry window.
func NewTokenService(ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{ttl: ttl, now: time.Now}
}

// Issue generates a fresh token for a session, replacing any previous one.
// The code is drawn from crypto/rand so prior codes reveal nothing about it.
func (t *TokenService) Issue(sessionID string) (Token, error) {
	code, err := randomCode()
	if err != nil {
		return Token{}, fmt.Errorf("token code generation failed: %w", err)
	}
	issued := t.now().UTC()
	return Token{
		Code:      code,
		QRPayload: qrPayload(sessionID, code, issued),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(t.ttl),
	}, nil
}

// Check validates a presented code against the session's current token.
// The code comparison runs before the expiry check, so a rotated-away code
// always reports Mismatch regardless of the old token's expiry.
func (t *TokenService) Check(tok *Token, code string) error {
	if tok == nil {
		return ErrNoActiveToken
	}
	if tok.Code != code {
		return ErrMismatch
	}
	if t.now().After(tok.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// randomCode returns a uniform 6-digit numeric string.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, oneMillion)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// qrPayload builds the deep-link URL embedded in the displayed QR code.
// Resolution of the link is an external client concern.
func qrPayload(sessionID, code string, issued time.Time) string {
	q := url.Values{}
	q.Set("session", sessionID)
	q.Set("code", code)
	q.Set("issued", strconv.FormatInt(issued.Unix(), 10))
	return "emargement://checkin?" + q.Encode()
}
