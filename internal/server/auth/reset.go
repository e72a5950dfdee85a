package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
)

// resetTokenBytes is the entropy of a raw reset token (256 bits).
const resetTokenBytes = 32

// ResetToken is a freshly generated reset token. Raw goes into the reset
// link and is never stored; Hash is what the store keeps.
type ResetToken struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

type ResetTokenGenerator struct {
	window time.Duration
	now    func() time.Time
}

// NewResetTokenGenerator returns a generator whose tokens expire window
// after generation. A nil now uses time.Now.
func NewResetTokenGenerator(window time.Duration, now func() time.Time) *ResetTokenGenerator {
	if now == nil {
		now = time.Now
	}
	return &ResetTokenGenerator{window: window, now: now}
}

func (g *ResetTokenGenerator) Generate() (*ResetToken, error) {
	raw, err := common.MakeRandHexString(resetTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}
	return &ResetToken{
		Raw:       raw,
		Hash:      HashResetToken(raw),
		ExpiresAt: g.now().Add(g.window),
	}, nil
}

// Verify reports whether raw matches storedHash and the token has not
// expired yet.
func (g *ResetTokenGenerator) Verify(raw, storedHash string, expiresAt time.Time) bool {
	got := HashResetToken(raw)
	if subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) != 1 {
		return false
	}
	return g.now().Before(expiresAt)
}

// HashResetToken is the hex SHA-256 of raw.
func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
