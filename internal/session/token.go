package session

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

const tokenByteLength = 32

// TokenSource mints unguessable session bearer tokens.
type TokenSource interface {
	NewToken() (string, error)
}

// IDProvider issues surrogate identifiers for persisted records.
type IDProvider interface {
	NewID() (string, error)
}

type randomTokenSource struct{}

// NewRandomTokenSource returns a TokenSource backed by crypto/rand,
// producing 43-character URL-safe tokens.
func NewRandomTokenSource() TokenSource {
	return &randomTokenSource{}
}

func (s *randomTokenSource) NewToken() (string, error) {
	raw := make([]byte, tokenByteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
