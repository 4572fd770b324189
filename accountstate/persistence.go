package accountstate

import (
	"encoding/hex"
	"encoding/json"

	"github.com/fxa-sync/keyring/internal/logger"
	"github.com/fxa-sync/keyring/keypair"
)

// ToDictionary implementations. Every dictionary carries version = 1 and
// label = the state's raw label; byte fields are lowercase hex, timestamp
// fields are plain int64, and keyPair is the nested JSON representation
// handed back by keypair.RSAKeyPair.ToJSON.

func (s EngagedBeforeVerified) ToDictionary() map[string]interface{} {
	return map[string]interface{}{
		"version":            SchemaVersion,
		"label":              string(s.Label()),
		"sessionToken":       hex.EncodeToString(s.SessionToken),
		"keyFetchToken":      hex.EncodeToString(s.KeyFetchToken),
		"unwrapkB":           hex.EncodeToString(s.UnwrapKB),
		"knownUnverifiedAt":  s.KnownUnverifiedAt,
		"lastNotifiedUserAt": s.LastNotifiedUserAt,
	}
}

func (s EngagedAfterVerified) ToDictionary() map[string]interface{} {
	return map[string]interface{}{
		"version":       SchemaVersion,
		"label":         string(s.Label()),
		"sessionToken":  hex.EncodeToString(s.SessionToken),
		"keyFetchToken": hex.EncodeToString(s.KeyFetchToken),
		"unwrapkB":      hex.EncodeToString(s.UnwrapKB),
	}
}

func (s CohabitingBeforeKeyPair) ToDictionary() map[string]interface{} {
	return map[string]interface{}{
		"version":      SchemaVersion,
		"label":        string(s.Label()),
		"sessionToken": hex.EncodeToString(s.SessionToken),
		"kA":           hex.EncodeToString(s.KA),
		"kB":           hex.EncodeToString(s.KB),
	}
}

func (s CohabitingAfterKeyPair) ToDictionary() map[string]interface{} {
	return map[string]interface{}{
		"version":          SchemaVersion,
		"label":            string(s.Label()),
		"sessionToken":     hex.EncodeToString(s.SessionToken),
		"kA":               hex.EncodeToString(s.KA),
		"kB":               hex.EncodeToString(s.KB),
		"keyPair":          keyPairJSON(s.KeyPair),
		"keyPairExpiresAt": s.KeyPairExpiresAt,
	}
}

func (s Married) ToDictionary() map[string]interface{} {
	return map[string]interface{}{
		"version":              SchemaVersion,
		"label":                string(s.Label()),
		"sessionToken":         hex.EncodeToString(s.SessionToken),
		"kA":                   hex.EncodeToString(s.KA),
		"kB":                   hex.EncodeToString(s.KB),
		"keyPair":              keyPairJSON(s.KeyPair),
		"keyPairExpiresAt":     s.KeyPairExpiresAt,
		"certificate":          s.Certificate,
		"certificateExpiresAt": s.CertificateExpiresAt,
	}
}

func (s Separated) ToDictionary() map[string]interface{} {
	return map[string]interface{}{"version": SchemaVersion, "label": string(s.Label())}
}

func (s Doghouse) ToDictionary() map[string]interface{} {
	return map[string]interface{}{"version": SchemaVersion, "label": string(s.Label())}
}

func keyPairJSON(kp keypair.RSAKeyPair) keypair.JSON {
	if kp == nil {
		return keypair.JSON{}
	}
	return kp.ToJSON()
}

// FromDictionary parses a persisted dictionary back into a State. It
// first checks version == SchemaVersion (failing otherwise), then
// dispatches on label, requiring every field that label declares to be
// present and well-typed — a partial or ill-typed set rejects the whole
// record rather than producing a partially-populated state. Unknown
// labels fail the same way. log may be nil; rejections are logged at
// Warn, never including field values.
func FromDictionary(d map[string]interface{}, log logger.Logger) (State, bool) {
	lg := logger.OrNop(log)

	version, ok := getInt64(d, "version")
	if !ok || version != SchemaVersion {
		lg.Warn("accountstate: unsupported schema version", logger.Int("version", int(version)))
		return nil, false
	}
	label, ok := getString(d, "label")
	if !ok {
		lg.Warn("accountstate: state record has no label")
		return nil, false
	}

	switch Label(label) {
	case LabelEngagedBeforeVerified:
		sessionToken, ok1 := getHexBytes(d, "sessionToken")
		keyFetchToken, ok2 := getHexBytes(d, "keyFetchToken")
		unwrapKB, ok3 := getHexBytes(d, "unwrapkB")
		knownUnverifiedAt, ok4 := getInt64(d, "knownUnverifiedAt")
		lastNotifiedUserAt, ok5 := getInt64(d, "lastNotifiedUserAt")
		if !(ok1 && ok2 && ok3 && ok4 && ok5) {
			lg.Warn("accountstate: incomplete state record", logger.String("label", label))
			return nil, false
		}
		return EngagedBeforeVerified{
			SessionToken:       sessionToken,
			KeyFetchToken:      keyFetchToken,
			UnwrapKB:           unwrapKB,
			KnownUnverifiedAt:  knownUnverifiedAt,
			LastNotifiedUserAt: lastNotifiedUserAt,
		}, true

	case LabelEngagedAfterVerified:
		sessionToken, ok1 := getHexBytes(d, "sessionToken")
		keyFetchToken, ok2 := getHexBytes(d, "keyFetchToken")
		unwrapKB, ok3 := getHexBytes(d, "unwrapkB")
		if !(ok1 && ok2 && ok3) {
			lg.Warn("accountstate: incomplete state record", logger.String("label", label))
			return nil, false
		}
		return EngagedAfterVerified{SessionToken: sessionToken, KeyFetchToken: keyFetchToken, UnwrapKB: unwrapKB}, true

	case LabelCohabitingBeforeKeyPair:
		sessionToken, ok1 := getHexBytes(d, "sessionToken")
		kA, ok2 := getHexBytes(d, "kA")
		kB, ok3 := getHexBytes(d, "kB")
		if !(ok1 && ok2 && ok3) {
			lg.Warn("accountstate: incomplete state record", logger.String("label", label))
			return nil, false
		}
		return CohabitingBeforeKeyPair{SessionToken: sessionToken, KA: kA, KB: kB}, true

	case LabelCohabitingAfterKeyPair:
		sessionToken, ok1 := getHexBytes(d, "sessionToken")
		kA, ok2 := getHexBytes(d, "kA")
		kB, ok3 := getHexBytes(d, "kB")
		kp, ok4 := getKeyPair(d, "keyPair")
		keyPairExpiresAt, ok5 := getInt64(d, "keyPairExpiresAt")
		if !(ok1 && ok2 && ok3 && ok4 && ok5) {
			lg.Warn("accountstate: incomplete state record", logger.String("label", label))
			return nil, false
		}
		return CohabitingAfterKeyPair{
			SessionToken:     sessionToken,
			KA:               kA,
			KB:               kB,
			KeyPair:          kp,
			KeyPairExpiresAt: keyPairExpiresAt,
		}, true

	case LabelMarried:
		sessionToken, ok1 := getHexBytes(d, "sessionToken")
		kA, ok2 := getHexBytes(d, "kA")
		kB, ok3 := getHexBytes(d, "kB")
		kp, ok4 := getKeyPair(d, "keyPair")
		keyPairExpiresAt, ok5 := getInt64(d, "keyPairExpiresAt")
		certificate, ok6 := getString(d, "certificate")
		certificateExpiresAt, ok7 := getInt64(d, "certificateExpiresAt")
		if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
			lg.Warn("accountstate: incomplete state record", logger.String("label", label))
			return nil, false
		}
		return Married{
			SessionToken:         sessionToken,
			KA:                   kA,
			KB:                   kB,
			KeyPair:              kp,
			KeyPairExpiresAt:     keyPairExpiresAt,
			Certificate:          certificate,
			CertificateExpiresAt: certificateExpiresAt,
		}, true

	case LabelSeparated:
		return Separated{}, true

	case LabelDoghouse:
		return Doghouse{}, true

	default:
		lg.Warn("accountstate: unknown label", logger.String("label", label))
		return nil, false
	}
}

func getString(d map[string]interface{}, key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getHexBytes(d map[string]interface{}, key string) ([]byte, bool) {
	s, ok := getString(d, key)
	if !ok {
		return nil, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}

// getInt64 accepts the shapes an integer field can arrive in: a plain
// int64 or int (set directly by ToDictionary), or a float64 or
// json.Number (after a round trip through encoding/json, which decodes
// untyped numbers as float64 unless UseNumber is set).
func getInt64(d map[string]interface{}, key string) (int64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// getKeyPair accepts either a keypair.JSON value (set directly by
// ToDictionary) or a map[string]interface{} (after a round trip through
// encoding/json) and reconstructs an RSAKeyPair from it.
func getKeyPair(d map[string]interface{}, key string) (keypair.RSAKeyPair, bool) {
	v, ok := d[key]
	if !ok {
		return nil, false
	}

	var kj keypair.JSON
	switch t := v.(type) {
	case keypair.JSON:
		kj = t
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, false
		}
		if err := json.Unmarshal(raw, &kj); err != nil {
			return nil, false
		}
	}

	kp, err := keypair.FromJSON(kj)
	if err != nil {
		return nil, false
	}
	return kp, true
}
