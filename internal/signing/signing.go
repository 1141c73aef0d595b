// Package signing generates and verifies HMAC signatures for expiring file
// URLs served off the local filesystem backend.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Signer produces and validates signatures over (photo id, style, expiry).
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature for the inputs.
func (s *Signer) Sign(photoID, style string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%s:%d", photoID, style, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks the signature and that the expiry has not passed.
func (s *Signer) Validate(photoID, style, expires, signature string, now time.Time) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if now.Unix() > exp {
		return false
	}
	expected := s.Sign(photoID, style, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
