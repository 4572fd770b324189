package accountstate

import (
	"fmt"

	"github.com/fxa-sync/keyring/assertion"
)

// GenerateAssertion is the only account state that can produce a
// BrowserID-style assertion: it signs with keyPair.PrivateKey and
// attaches the certificate, delegating the signing algorithm and payload
// shape to builder (see the assertion package).
func (s Married) GenerateAssertion(builder assertion.Builder, audience string) (string, error) {
	if s.KeyPair == nil {
		return "", fmt.Errorf("accountstate: married state has no key pair")
	}
	token, err := builder.CreateAssertion(s.KeyPair.PrivateKey(), s.Certificate, audience)
	if err != nil {
		return "", fmt.Errorf("accountstate: generate assertion: %w", err)
	}
	return token, nil
}
