// Package token issues the opaque scan tokens printed at each checkpoint.
//
// A token is an HMAC over the hunt id, the checkpoint id and a random nonce,
// keyed with a server secret. It carries nothing derivable from the
// checkpoint's label, image or storage location.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const (
	nonceSize = 16
	// macSize truncates the HMAC output; 18 bytes encode to 24 url-safe chars.
	macSize = 18
	// minSecretSize is the shortest key accepted by New.
	minSecretSize = 16
)

// Issuer derives scan tokens.
type Issuer struct {
	secret []byte
}

// New returns an Issuer keyed with secret.
func New(secret []byte) (*Issuer, error) {
	if len(secret) < minSecretSize {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrWeakSecret, minSecretSize, len(secret))
	}
	return &Issuer{secret: append([]byte(nil), secret...)}, nil
}

// Random returns an Issuer keyed with a fresh random secret. Tokens from
// different processes will not collide but cannot be re-derived either.
func Random() *Issuer {
	secret := make([]byte, sha256.Size)
	if _, err := rand.Read(secret); err != nil {
		panic(fmt.Sprintf("token: read random secret: %v", err))
	}
	return &Issuer{secret: secret}
}

// Issue returns a new token bound to the checkpoint.
func (i *Issuer) Issue(huntID, checkpointID string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: %w", ErrIssue, err)
	}
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(huntID))
	mac.Write([]byte{'/'})
	mac.Write([]byte(checkpointID))
	mac.Write([]byte{'/'})
	mac.Write(nonce)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:macSize]), nil
}

// Equal compares a scanned token with the expected one in constant time.
func Equal(scanned, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(scanned), []byte(expected)) == 1
}
