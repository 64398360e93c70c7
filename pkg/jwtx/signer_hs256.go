package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// minHMACSecretLen rejects secrets shorter than the HS256 output size.
// RFC 7518 §3.2 requires at least 256 bits of key material.
const minHMACSecretLen = 32

// HS256Signer implements the Signer interface using HMAC-SHA256 with a
// shared symmetric secret. It deliberately does not implement PublicKeyer:
// there is nothing safe to publish in a JWKS.
type HS256Signer struct {
	kid    string
	secret []byte
	alg    string
}

func newHS256Signer(kid string, secret []byte) (*HS256Signer, error) {
	if len(secret) < minHMACSecretLen {
		return nil, errors.New("jwtx: HS256 secret must be at least 32 bytes")
	}
	return &HS256Signer{
		kid:    kid,
		secret: secret,
		alg:    jwt.SigningMethodHS256.Alg(),
	}, nil
}

func (s *HS256Signer) Alg() string { return s.alg }
func (s *HS256Signer) KID() string { return s.kid }

// Sign takes claims and turns them into a signed JWT string.
func (s *HS256Signer) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if s.kid != "" {
		t.Header["kid"] = s.kid
	}
	return t.SignedString(s.secret)
}

// Validate does a quick sanity check on the secret.
func (s *HS256Signer) Validate() error {
	if len(s.secret) < minHMACSecretLen {
		return errors.New("jwtx: HS256 secret too short")
	}
	return nil
}
