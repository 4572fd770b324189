package accountstate

import (
	"github.com/fxa-sync/keyring/internal/logger"
	"github.com/fxa-sync/keyring/keypair"
)

// logTransition emits the Debug line every transition shares. Labels
// only — token and key material never reach a log field.
func logTransition(log logger.Logger, from, to Label) {
	logger.OrNop(log).Debug("accountstate: transition",
		logger.String("from", string(from)), logger.String("to", string(to)))
}

// SignIn is the separated -> {engagedBeforeVerified, engagedAfterVerified}
// transition driven by a successful password sign-in. The driver passes
// whether the account is already verified. log may be nil.
func SignIn(sessionToken, keyFetchToken, unwrapKB []byte, verified bool, log logger.Logger) State {
	if verified {
		logTransition(log, LabelSeparated, LabelEngagedAfterVerified)
		return EngagedAfterVerified{
			SessionToken:  clone(sessionToken),
			KeyFetchToken: clone(keyFetchToken),
			UnwrapKB:      clone(unwrapKB),
		}
	}
	logTransition(log, LabelSeparated, LabelEngagedBeforeVerified)
	now := nowMillis()
	return EngagedBeforeVerified{
		SessionToken:       clone(sessionToken),
		KeyFetchToken:      clone(keyFetchToken),
		UnwrapKB:           clone(unwrapKB),
		KnownUnverifiedAt:  now,
		LastNotifiedUserAt: now,
	}
}

// Verified is the engagedBeforeVerified -> engagedAfterVerified
// transition, preserving the three tokens.
func (s EngagedBeforeVerified) Verified(log logger.Logger) EngagedAfterVerified {
	logTransition(log, s.Label(), LabelEngagedAfterVerified)
	return EngagedAfterVerified{
		SessionToken:  clone(s.SessionToken),
		KeyFetchToken: clone(s.KeyFetchToken),
		UnwrapKB:      clone(s.UnwrapKB),
	}
}

// WithUnwrapKey replaces unwrapkB without changing state.
func (s EngagedBeforeVerified) WithUnwrapKey(newUnwrapKB []byte, log logger.Logger) EngagedBeforeVerified {
	logger.OrNop(log).Debug("accountstate: unwrap key replaced", logger.String("label", string(s.Label())))
	next := s
	next.UnwrapKB = clone(newUnwrapKB)
	return next
}

// WithUnwrapKey replaces unwrapkB without changing state.
func (s EngagedAfterVerified) WithUnwrapKey(newUnwrapKB []byte, log logger.Logger) EngagedAfterVerified {
	logger.OrNop(log).Debug("accountstate: unwrap key replaced", logger.String("label", string(s.Label())))
	next := s
	next.UnwrapKB = clone(newUnwrapKB)
	return next
}

// FetchedKeys is the engagedAfterVerified -> cohabitingBeforeKeyPair
// transition, performed after fetching (kA, kB) using keyFetchToken and
// unwrapkB; both tokens are dropped since they're spent.
func (s EngagedAfterVerified) FetchedKeys(kA, kB []byte, log logger.Logger) CohabitingBeforeKeyPair {
	logTransition(log, s.Label(), LabelCohabitingBeforeKeyPair)
	return CohabitingBeforeKeyPair{
		SessionToken: clone(s.SessionToken),
		KA:           clone(kA),
		KB:           clone(kB),
	}
}

// GeneratedKeyPair is the cohabitingBeforeKeyPair -> cohabitingAfterKeyPair
// transition, performed after generating a new RSA key pair.
func (s CohabitingBeforeKeyPair) GeneratedKeyPair(kp keypair.RSAKeyPair, keyPairExpiresAt int64, log logger.Logger) CohabitingAfterKeyPair {
	logTransition(log, s.Label(), LabelCohabitingAfterKeyPair)
	return CohabitingAfterKeyPair{
		SessionToken:     clone(s.SessionToken),
		KA:               clone(s.KA),
		KB:               clone(s.KB),
		KeyPair:          kp,
		KeyPairExpiresAt: keyPairExpiresAt,
	}
}

// ObtainedCertificate is the cohabitingAfterKeyPair -> married transition,
// performed after obtaining a signed certificate.
func (s CohabitingAfterKeyPair) ObtainedCertificate(certificate string, certificateExpiresAt int64, log logger.Logger) Married {
	logTransition(log, s.Label(), LabelMarried)
	return Married{
		SessionToken:         clone(s.SessionToken),
		KA:                   clone(s.KA),
		KB:                   clone(s.KB),
		KeyPair:              s.KeyPair,
		KeyPairExpiresAt:     s.KeyPairExpiresAt,
		Certificate:          certificate,
		CertificateExpiresAt: certificateExpiresAt,
	}
}

// WithoutCertificate is the married -> cohabitingAfterKeyPair backward
// transition taken when IsCertificateExpired(now) holds; the certificate
// and its expiry are dropped, the key pair is preserved.
func (s Married) WithoutCertificate(log logger.Logger) CohabitingAfterKeyPair {
	logTransition(log, s.Label(), LabelCohabitingAfterKeyPair)
	return CohabitingAfterKeyPair{
		SessionToken:     clone(s.SessionToken),
		KA:               clone(s.KA),
		KB:               clone(s.KB),
		KeyPair:          s.KeyPair,
		KeyPairExpiresAt: s.KeyPairExpiresAt,
	}
}

// WithoutKeyPair is the married -> cohabitingBeforeKeyPair backward
// transition taken when IsKeyPairExpired(now) holds; both the key pair
// and the certificate are dropped.
func (s Married) WithoutKeyPair(log logger.Logger) CohabitingBeforeKeyPair {
	logTransition(log, s.Label(), LabelCohabitingBeforeKeyPair)
	return CohabitingBeforeKeyPair{
		SessionToken: clone(s.SessionToken),
		KA:           clone(s.KA),
		KB:           clone(s.KB),
	}
}

// ToSeparated is the any -> separated transition taken on an
// authentication failure indicating the session no longer holds. It is a
// free function rather than a method because every state (not just one)
// can reach separated, and Separated itself carries no fields to copy
// forward.
func ToSeparated(log logger.Logger) Separated {
	logger.OrNop(log).Debug("accountstate: transition", logger.String("to", string(LabelSeparated)))
	return Separated{}
}

// ToDoghouse is the any -> doghouse transition taken on a server signal
// that the client version is unsupported.
func ToDoghouse(log logger.Logger) Doghouse {
	logger.OrNop(log).Debug("accountstate: transition", logger.String("to", string(LabelDoghouse)))
	return Doghouse{}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
