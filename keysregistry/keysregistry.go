// Package keysregistry implements the Keys lookup table: a default
// KeyBundle plus per-collection overrides, built either directly from a
// default bundle or by decrypting a downloaded "keys record" with the
// master KeyBundle.
package keysregistry

import (
	"encoding/json"

	"github.com/fxa-sync/keyring/envelope"
	"github.com/fxa-sync/keyring/internal/logger"
	"github.com/fxa-sync/keyring/keybundle"
)

// KeysPayload is the cleartext shape of a downloaded keys record: a
// default bundle plus zero or more per-collection overrides, each
// base64-encoded the way the wire protocol carries raw key material.
type KeysPayload struct {
	Default     [2]string            `json:"default"`     // [encKeyB64, hmacKeyB64]
	Collections map[string][2]string `json:"collections,omitempty"`
}

// ParseKeysPayload parses raw JSON into a KeysPayload. It is the `parse`
// argument handed to envelope.Factory when decrypting a keys record.
func ParseKeysPayload(raw json.RawMessage) (KeysPayload, error) {
	var p KeysPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return KeysPayload{}, err
	}
	return p, nil
}

// defaultKeys converts the payload's default pair into a KeyBundle.
func (p KeysPayload) defaultKeys() keybundle.KeyBundle {
	return keybundle.FromBase64(p.Default[0], p.Default[1])
}

// collectionKeys converts every per-collection pair into a KeyBundle map.
func (p KeysPayload) collectionKeys() map[string]keybundle.KeyBundle {
	if len(p.Collections) == 0 {
		return nil
	}
	out := make(map[string]keybundle.KeyBundle, len(p.Collections))
	for name, pair := range p.Collections {
		out[name] = keybundle.FromBase64(pair[0], pair[1])
	}
	return out
}

// Keys is the per-collection key bundle registry. It is read-only after
// construction: collectionKeys is built once inside New/NewFromRecord and
// never mutated again, so concurrent readers need no lock.
type Keys struct {
	defaultBundle  keybundle.KeyBundle
	collectionKeys map[string]keybundle.KeyBundle
	valid          bool
}

// New builds a Keys from a default bundle alone: valid is true and
// collectionKeys is empty.
func New(defaultBundle keybundle.KeyBundle) *Keys {
	return &Keys{defaultBundle: defaultBundle, valid: true}
}

// NewFromRecord builds a Keys by decrypting a downloaded keys record with
// the master KeyBundle. Its three-way outcome intentionally preserves an
// asymmetry in the protocol's observed behavior: when the envelope fails
// to parse into any payload at all, valid is set to true alongside an
// Invalid default bundle (a likely upstream bug, but not "fixed" here
// without protocol confirmation); when the payload parses but its own
// HMAC fails IsValid(), valid is false.
func NewFromRecord(rawRecord string, master keybundle.KeyBundle, log logger.Logger) *Keys {
	log = logger.OrNop(log)

	ej := envelope.New(rawRecord, master, log)
	if !ej.IsValid() {
		// Could be a malformed envelope (no payload at all) or a payload
		// whose HMAC mismatches (structurally present, cryptographically
		// rejected). Both paths land here because envelope.IsValid folds
		// "couldn't even parse" and "parsed but HMAC failed" together;
		// keysregistry re-derives which one happened by re-parsing.
		if envelopeParses(rawRecord) {
			log.Warn("keysregistry: keys record HMAC invalid")
			return &Keys{defaultBundle: keybundle.Invalid, valid: false}
		}
		log.Warn("keysregistry: keys record did not parse")
		return &Keys{defaultBundle: keybundle.Invalid, valid: true}
	}

	cleartext, ok := ej.Cleartext()
	if !ok {
		log.Warn("keysregistry: keys record decryption failed")
		return &Keys{defaultBundle: keybundle.Invalid, valid: true}
	}

	payload, err := ParseKeysPayload(cleartext)
	if err != nil {
		// The envelope's own HMAC verified fine; it's the business-shape
		// parse (KeysPayload::new) that failed. That failure is part of
		// the factory's "decryption fails" bucket, not the envelope-level
		// isValid() check, so it takes the valid=true branch too.
		log.Warn("keysregistry: keys payload malformed", logger.Err(err))
		return &Keys{defaultBundle: keybundle.Invalid, valid: true}
	}

	return &Keys{
		defaultBundle:  payload.defaultKeys(),
		collectionKeys: payload.collectionKeys(),
		valid:          true,
	}
}

// envelopeParses reports whether rawRecord at least parses into a
// structurally present Record+Payload — i.e. isValid() could go on to
// check the HMAC rather than bailing out earlier on malformed JSON.
func envelopeParses(rawRecord string) bool {
	var rec envelope.Record
	if err := json.Unmarshal([]byte(rawRecord), &rec); err != nil {
		return false
	}
	var payload envelope.Payload
	if err := json.Unmarshal([]byte(rec.Payload), &payload); err != nil {
		return false
	}
	return payload.Ciphertext != "" && payload.IV != "" && payload.HMAC != ""
}

// ForCollection returns the bundle for name, falling back to the default
// bundle when name has no override.
func (k *Keys) ForCollection(name string) keybundle.KeyBundle {
	if b, ok := k.collectionKeys[name]; ok {
		return b
	}
	return k.defaultBundle
}

// Factory delegates to envelope.Factory using the bundle for collection.
func Factory[T any](k *Keys, collection string, log logger.Logger, parse func(cleartext json.RawMessage) (T, error)) func(string) (T, bool) {
	return envelope.Factory(k.ForCollection(collection), log, parse)
}

// Valid reports the registry's own validity flag — see NewFromRecord's
// doc comment for the asymmetry this preserves.
func (k *Keys) Valid() bool {
	return k.valid
}

// DefaultBundle returns the registry's default bundle.
func (k *Keys) DefaultBundle() keybundle.KeyBundle {
	return k.defaultBundle
}
