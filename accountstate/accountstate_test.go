package accountstate

import (
	"crypto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxa-sync/keyring/keypair"
)

func TestActionNeededPerLabel(t *testing.T) {
	assert.Equal(t, ActionNeedsVerification, EngagedBeforeVerified{}.ActionNeeded())
	assert.Equal(t, ActionNone, EngagedAfterVerified{}.ActionNeeded())
	assert.Equal(t, ActionNone, CohabitingBeforeKeyPair{}.ActionNeeded())
	assert.Equal(t, ActionNone, CohabitingAfterKeyPair{}.ActionNeeded())
	assert.Equal(t, ActionNone, Married{}.ActionNeeded())
	assert.Equal(t, ActionNeedsPassword, Separated{}.ActionNeeded())
	assert.Equal(t, ActionNeedsUpgrade, Doghouse{}.ActionNeeded())
}

func TestSignInUnverified(t *testing.T) {
	s := SignIn([]byte("session"), []byte("keyfetch"), []byte("unwrap"), false, nil)
	engaged, ok := s.(EngagedBeforeVerified)
	require.True(t, ok)
	assert.Equal(t, []byte("session"), engaged.SessionToken)
	assert.NotZero(t, engaged.KnownUnverifiedAt)
	assert.Equal(t, engaged.KnownUnverifiedAt, engaged.LastNotifiedUserAt)
}

func TestSignInVerified(t *testing.T) {
	s := SignIn([]byte("session"), []byte("keyfetch"), []byte("unwrap"), true, nil)
	engaged, ok := s.(EngagedAfterVerified)
	require.True(t, ok)
	assert.Equal(t, []byte("keyfetch"), engaged.KeyFetchToken)
}

func TestEngagedBeforeVerifiedToVerified(t *testing.T) {
	before := EngagedBeforeVerified{
		SessionToken:  []byte("s"),
		KeyFetchToken: []byte("k"),
		UnwrapKB:      []byte("u"),
	}
	after := before.Verified(nil)
	assert.Equal(t, before.SessionToken, after.SessionToken)
	assert.Equal(t, before.KeyFetchToken, after.KeyFetchToken)
	assert.Equal(t, before.UnwrapKB, after.UnwrapKB)
}

func TestWithUnwrapKeyReplacesInPlace(t *testing.T) {
	before := EngagedBeforeVerified{UnwrapKB: []byte("old")}
	next := before.WithUnwrapKey([]byte("new"), nil)
	assert.Equal(t, []byte("new"), next.UnwrapKB)
	assert.Equal(t, LabelEngagedBeforeVerified, next.Label())

	after := EngagedAfterVerified{UnwrapKB: []byte("old")}
	nextAfter := after.WithUnwrapKey([]byte("new"), nil)
	assert.Equal(t, []byte("new"), nextAfter.UnwrapKB)
}

func TestFetchedKeysDropsTokens(t *testing.T) {
	s := EngagedAfterVerified{SessionToken: []byte("s"), KeyFetchToken: []byte("k"), UnwrapKB: []byte("u")}
	cohabiting := s.FetchedKeys([]byte("kA"), []byte("kB"), nil)
	assert.Equal(t, []byte("s"), cohabiting.SessionToken)
	assert.Equal(t, []byte("kA"), cohabiting.KA)
	assert.Equal(t, []byte("kB"), cohabiting.KB)
}

func TestGeneratedKeyPairTransition(t *testing.T) {
	kp, err := keypair.Generate()
	require.NoError(t, err)
	s := CohabitingBeforeKeyPair{SessionToken: []byte("s"), KA: []byte("a"), KB: []byte("b")}
	after := s.GeneratedKeyPair(kp, 5000, nil)
	assert.Equal(t, kp, after.KeyPair)
	assert.Equal(t, int64(5000), after.KeyPairExpiresAt)
	assert.Equal(t, s.KA, after.KA)
}

func TestObtainedCertificateTransition(t *testing.T) {
	kp, err := keypair.Generate()
	require.NoError(t, err)
	s := CohabitingAfterKeyPair{SessionToken: []byte("s"), KA: []byte("a"), KB: []byte("b"), KeyPair: kp, KeyPairExpiresAt: 5000}
	married := s.ObtainedCertificate("cert-data", 9000, nil)
	assert.Equal(t, "cert-data", married.Certificate)
	assert.Equal(t, int64(9000), married.CertificateExpiresAt)
	assert.Equal(t, kp, married.KeyPair)
	assert.Equal(t, int64(5000), married.KeyPairExpiresAt)
}

func TestMarriedExpiryChecks(t *testing.T) {
	m := Married{KeyPairExpiresAt: 1000, CertificateExpiresAt: 2000}
	assert.False(t, m.IsCertificateExpired(1999))
	assert.True(t, m.IsCertificateExpired(2000))
	assert.True(t, m.IsCertificateExpired(2001))
	assert.True(t, m.IsKeyPairExpired(1000))
	assert.False(t, m.IsKeyPairExpired(999))
}

func TestWithoutCertificateDropsCertKeepsKeyPair(t *testing.T) {
	kp, err := keypair.Generate()
	require.NoError(t, err)
	m := Married{
		SessionToken: []byte("s"), KA: []byte("a"), KB: []byte("b"),
		KeyPair: kp, KeyPairExpiresAt: 5000,
		Certificate: "cert", CertificateExpiresAt: 1000,
	}
	back := m.WithoutCertificate(nil)
	assert.Equal(t, LabelCohabitingAfterKeyPair, back.Label())
	assert.Equal(t, kp, back.KeyPair)
	assert.Equal(t, int64(5000), back.KeyPairExpiresAt)
}

func TestWithoutKeyPairDropsBoth(t *testing.T) {
	kp, err := keypair.Generate()
	require.NoError(t, err)
	m := Married{
		SessionToken: []byte("s"), KA: []byte("a"), KB: []byte("b"),
		KeyPair: kp, KeyPairExpiresAt: 5000,
		Certificate: "cert", CertificateExpiresAt: 1000,
	}
	back := m.WithoutKeyPair(nil)
	assert.Equal(t, LabelCohabitingBeforeKeyPair, back.Label())
	assert.Equal(t, m.KA, back.KA)
}

func TestAnyStateToSeparatedOrDoghouse(t *testing.T) {
	assert.Equal(t, LabelSeparated, ToSeparated(nil).Label())
	assert.Equal(t, LabelDoghouse, ToDoghouse(nil).Label())
}

func TestSignInClonesInputDoesNotAlias(t *testing.T) {
	token := []byte("session")
	s := SignIn(token, []byte("k"), []byte("u"), true, nil).(EngagedAfterVerified)
	token[0] = 'X'
	assert.Equal(t, "session", string(s.SessionToken))
}

func TestToDictionaryFromDictionaryRoundTrip_EngagedBeforeVerified(t *testing.T) {
	s := EngagedBeforeVerified{
		SessionToken:       []byte("session"),
		KeyFetchToken:      []byte("keyfetch"),
		UnwrapKB:           []byte("unwrap"),
		KnownUnverifiedAt:  1000,
		LastNotifiedUserAt: 2000,
	}
	got, ok := FromDictionary(s.ToDictionary(), nil)
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestToDictionaryFromDictionaryRoundTrip_EngagedAfterVerified(t *testing.T) {
	s := EngagedAfterVerified{SessionToken: []byte("s"), KeyFetchToken: []byte("k"), UnwrapKB: []byte("u")}
	got, ok := FromDictionary(s.ToDictionary(), nil)
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestToDictionaryFromDictionaryRoundTrip_CohabitingBeforeKeyPair(t *testing.T) {
	s := CohabitingBeforeKeyPair{SessionToken: []byte("s"), KA: []byte("a"), KB: []byte("b")}
	got, ok := FromDictionary(s.ToDictionary(), nil)
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestToDictionaryFromDictionaryRoundTrip_CohabitingAfterKeyPair(t *testing.T) {
	kp, err := keypair.Generate()
	require.NoError(t, err)
	s := CohabitingAfterKeyPair{
		SessionToken: []byte("s"), KA: []byte("a"), KB: []byte("b"),
		KeyPair: kp, KeyPairExpiresAt: 12345,
	}
	got, ok := FromDictionary(s.ToDictionary(), nil)
	require.True(t, ok)
	restored, ok := got.(CohabitingAfterKeyPair)
	require.True(t, ok)
	assert.Equal(t, s.SessionToken, restored.SessionToken)
	assert.Equal(t, s.KeyPairExpiresAt, restored.KeyPairExpiresAt)
	assert.Equal(t, kp.ToJSON(), restored.KeyPair.ToJSON())
}

func TestToDictionaryFromDictionaryRoundTrip_Married(t *testing.T) {
	kp, err := keypair.Generate()
	require.NoError(t, err)
	s := Married{
		SessionToken: []byte("s"), KA: []byte("a"), KB: []byte("b"),
		KeyPair: kp, KeyPairExpiresAt: 12345,
		Certificate: "cert-data", CertificateExpiresAt: 99999,
	}
	got, ok := FromDictionary(s.ToDictionary(), nil)
	require.True(t, ok)
	restored, ok := got.(Married)
	require.True(t, ok)
	assert.Equal(t, s.Certificate, restored.Certificate)
	assert.Equal(t, s.CertificateExpiresAt, restored.CertificateExpiresAt)
	assert.Equal(t, kp.ToJSON(), restored.KeyPair.ToJSON())
}

func TestToDictionaryFromDictionaryRoundTrip_SeparatedAndDoghouse(t *testing.T) {
	got, ok := FromDictionary(Separated{}.ToDictionary(), nil)
	require.True(t, ok)
	assert.Equal(t, Separated{}, got)

	got, ok = FromDictionary(Doghouse{}.ToDictionary(), nil)
	require.True(t, ok)
	assert.Equal(t, Doghouse{}, got)
}

func TestFromDictionaryRejectsUnknownVersion(t *testing.T) {
	_, ok := FromDictionary(map[string]interface{}{"version": 2, "label": "separated"}, nil)
	assert.False(t, ok)
}

func TestFromDictionaryRejectsUnknownLabel(t *testing.T) {
	_, ok := FromDictionary(map[string]interface{}{"version": 1, "label": "nonexistent"}, nil)
	assert.False(t, ok)
}

func TestFromDictionaryRejectsPartialFieldSet(t *testing.T) {
	_, ok := FromDictionary(map[string]interface{}{
		"version":      1,
		"label":        "cohabitingBeforeKeyPair",
		"sessionToken": "73",
		// kA, kB missing
	}, nil)
	assert.False(t, ok)
}

func TestFromDictionaryAcceptsJSONRoundTrippedNumbers(t *testing.T) {
	s := EngagedBeforeVerified{
		SessionToken:       []byte("s"),
		KeyFetchToken:      []byte("k"),
		UnwrapKB:           []byte("u"),
		KnownUnverifiedAt:  1700000000000,
		LastNotifiedUserAt: 1700000001000,
	}
	d := s.ToDictionary()
	// Simulate a JSON round trip, where untyped numbers decode as float64.
	d["knownUnverifiedAt"] = float64(d["knownUnverifiedAt"].(int64))
	d["lastNotifiedUserAt"] = float64(d["lastNotifiedUserAt"].(int64))
	d["version"] = float64(d["version"].(int))

	got, ok := FromDictionary(d, nil)
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestGenerateAssertionOnMarriedState(t *testing.T) {
	kp, err := keypair.Generate()
	require.NoError(t, err)
	m := Married{KeyPair: kp, Certificate: "cert-data"}

	builder := fakeBuilder{}
	token, err := m.GenerateAssertion(builder, "https://sync.example.com")
	require.NoError(t, err)
	assert.Equal(t, "signed(cert-data,https://sync.example.com)", token)
}

func TestGenerateAssertionFailsWithoutKeyPair(t *testing.T) {
	m := Married{Certificate: "cert-data"}
	_, err := m.GenerateAssertion(fakeBuilder{}, "aud")
	assert.Error(t, err)
}

type fakeBuilder struct{}

func (fakeBuilder) CreateAssertion(_ crypto.Signer, certificate, audience string) (string, error) {
	return "signed(" + certificate + "," + audience + ")", nil
}
