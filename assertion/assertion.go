// Package assertion builds the signed identity assertions the married
// account state produces: given a private key, a certificate, and an
// audience, it returns a short-lived signed token the sync server
// accepts as proof of identity.
package assertion

import (
	"crypto"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultLifetime is how long a generated assertion is valid for absent
// an explicit override — short-lived, matching a BrowserID assertion's
// intended one-shot use.
const DefaultLifetime = 60 * time.Second

// Builder produces signed assertions. The married account state holds
// one capability of this shape; tests may substitute a fake to assert on
// the audience/certificate wiring without invoking real RSA signing.
type Builder interface {
	CreateAssertion(privateKey crypto.Signer, certificate string, audience string) (string, error)
}

// JWTBuilder is the concrete implementation: RS256 over a jwt.MapClaims
// payload carrying the certificate and a random jti.
type JWTBuilder struct {
	Lifetime time.Duration
	now      func() time.Time
}

// NewJWTBuilder returns a JWTBuilder using DefaultLifetime and time.Now.
func NewJWTBuilder() *JWTBuilder {
	return &JWTBuilder{Lifetime: DefaultLifetime, now: time.Now}
}

// CreateAssertion signs a short-lived JWT binding certificate to
// audience. The certificate (itself a server-signed JWT binding a public
// key to the account) travels in the "certificate" claim, matching the
// BrowserID-style "bundle the cert with a fresh assertion" pattern.
func (b *JWTBuilder) CreateAssertion(privateKey crypto.Signer, certificate string, audience string) (string, error) {
	if privateKey == nil {
		return "", fmt.Errorf("assertion: nil private key")
	}
	if certificate == "" {
		return "", fmt.Errorf("assertion: empty certificate")
	}

	now := time.Now
	if b.now != nil {
		now = b.now
	}
	nowTime := now()
	lifetime := b.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}

	claims := jwt.MapClaims{
		"aud":         audience,
		"certificate": certificate,
		"iat":         nowTime.Unix(),
		"exp":         nowTime.Add(lifetime).Unix(),
		"jti":         uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("assertion: sign: %w", err)
	}
	return signed, nil
}
