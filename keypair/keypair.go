// Package keypair holds the RSA key pair the married account state
// signs assertions with: JSON-serializable, reconstructible from that
// JSON, and able to hand its private key to a signing primitive (the
// assertion package).
package keypair

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"math/big"
)

// ErrInvalidKey is returned by FromJSON when the encoded key is missing
// fields, has mismatched RSA parameters, or otherwise can't be
// reconstructed into a usable RSA key pair.
var ErrInvalidKey = errors.New("keypair: invalid RSA key representation")

// JSON is the JSON-serializable representation of an RSAKeyPair: a
// JWK-shaped object carrying modulus N, public exponent E, and (when
// present) private exponent D plus the CRT primes P and Q.
type JSON struct {
	Kty string `json:"kty"` // always "RSA"
	N   string `json:"n"`   // modulus, base64url
	E   string `json:"e"`   // public exponent, base64url
	D   string `json:"d,omitempty"`
	P   string `json:"p,omitempty"`
	Q   string `json:"q,omitempty"`
}

// RSAKeyPair is what the married account state holds: a
// JSON-serializable representation, a reconstruction from it, and a
// private-signing primitive used only by the assertion builder.
type RSAKeyPair interface {
	ToJSON() JSON
	PrivateKey() crypto.Signer
	PublicKey() *rsa.PublicKey
}

type rsaKeyPair struct {
	priv *rsa.PrivateKey
}

// Generate creates a fresh 2048-bit RSA key pair.
func Generate() (RSAKeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &rsaKeyPair{priv: priv}, nil
}

// FromJSON reconstructs an RSAKeyPair from its JSON representation.
func FromJSON(j JSON) (RSAKeyPair, error) {
	if j.N == "" || j.E == "" {
		return nil, ErrInvalidKey
	}
	n, err := decodeBigInt(j.N)
	if err != nil {
		return nil, ErrInvalidKey
	}
	e, err := decodeBigInt(j.E)
	if err != nil {
		return nil, ErrInvalidKey
	}

	pub := &rsa.PublicKey{N: n, E: int(e.Int64())}

	if j.D == "" {
		// Public-only reconstruction: still satisfies RSAKeyPair.PublicKey,
		// but PrivateKey returns nil — callers that need to sign (the
		// married state's assertion builder) must have reconstructed from
		// a JSON that carried D, P, and Q.
		return &rsaKeyPair{priv: &rsa.PrivateKey{PublicKey: *pub}}, nil
	}

	if j.P == "" || j.Q == "" {
		return nil, ErrInvalidKey
	}
	d, err := decodeBigInt(j.D)
	if err != nil {
		return nil, ErrInvalidKey
	}
	p, err := decodeBigInt(j.P)
	if err != nil {
		return nil, ErrInvalidKey
	}
	q, err := decodeBigInt(j.Q)
	if err != nil {
		return nil, ErrInvalidKey
	}

	priv := &rsa.PrivateKey{
		PublicKey: *pub,
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	priv.Precompute()
	if err := priv.Validate(); err != nil {
		return nil, ErrInvalidKey
	}
	return &rsaKeyPair{priv: priv}, nil
}

// ToJSON returns the JSON-serializable representation, including the
// private fields needed to round-trip through FromJSON.
func (kp *rsaKeyPair) ToJSON() JSON {
	j := JSON{
		Kty: "RSA",
		N:   encodeBigInt(kp.priv.N),
		E:   encodeBigInt(big.NewInt(int64(kp.priv.E))),
	}
	if kp.priv.D != nil && len(kp.priv.Primes) == 2 {
		j.D = encodeBigInt(kp.priv.D)
		j.P = encodeBigInt(kp.priv.Primes[0])
		j.Q = encodeBigInt(kp.priv.Primes[1])
	}
	return j
}

// PrivateKey returns the crypto.Signer the assertion package signs with,
// or nil when the pair was reconstructed from a public-only JSON.
func (kp *rsaKeyPair) PrivateKey() crypto.Signer {
	if kp.priv.D == nil {
		return nil
	}
	return kp.priv
}

// PublicKey returns the RSA public key.
func (kp *rsaKeyPair) PublicKey() *rsa.PublicKey {
	return &kp.priv.PublicKey
}

func encodeBigInt(i *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(i.Bytes())
}

func decodeBigInt(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
