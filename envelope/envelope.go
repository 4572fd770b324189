// Package envelope implements the wire codec for encrypted sync records:
// parsing the outer JSON envelope, verifying the inner payload's HMAC,
// and decrypting it to cleartext JSON. It is the glue between a
// keybundle.KeyBundle and the opaque JSON payloads exchanged with the
// sync service.
package envelope

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fxa-sync/keyring/internal/logger"
	"github.com/fxa-sync/keyring/keybundle"
)

// Record is the outer envelope JSON object exchanged with the sync
// service: { id, collection, payload, modified, ... }. Payload is itself
// a JSON-stringified Payload.
type Record struct {
	ID         string `json:"id"`
	Collection string `json:"collection,omitempty"`
	Payload    string `json:"payload"`
	Modified   *int64 `json:"modified,omitempty"`
}

// Payload is the inner, HMAC-protected object carried inside Record.Payload.
type Payload struct {
	Ciphertext string `json:"ciphertext"` // base64
	IV         string `json:"IV"`         // base64
	HMAC       string `json:"hmac"`       // lowercase hex, over the base64 ciphertext bytes
}

// EncryptedJSON wraps a raw envelope string and the KeyBundle used to
// validate and decrypt it. Validity and cleartext are computed lazily
// and memoized on first access so repeated calls don't repeat the HMAC
// and AES passes.
type EncryptedJSON struct {
	raw    string
	bundle keybundle.KeyBundle
	log    logger.Logger

	parsed     *Record
	payload    *Payload
	validOnce  bool
	validValue bool

	cleartextOnce  bool
	cleartextValue json.RawMessage
}

// New wraps raw (a Record's JSON form) with bundle. log may be nil.
func New(raw string, bundle keybundle.KeyBundle, log logger.Logger) *EncryptedJSON {
	return &EncryptedJSON{raw: raw, bundle: bundle, log: logger.OrNop(log)}
}

// IsValid reports whether the envelope parses as JSON, its payload
// carries string ciphertext/IV/hmac fields, and the HMAC verifies
// against the base64-encoded ciphertext bytes (not the raw ciphertext —
// this is the protocol's documented convention).
func (e *EncryptedJSON) IsValid() bool {
	if e.validOnce {
		return e.validValue
	}
	e.validOnce = true

	rec, payload, ok := e.parse()
	if !ok {
		e.validValue = false
		return false
	}
	e.parsed, e.payload = rec, payload

	expected, err := hex.DecodeString(payload.HMAC)
	if err != nil {
		e.log.Warn("envelope: malformed hmac hex", logger.Err(err))
		e.validValue = false
		return false
	}

	e.validValue = e.bundle.Verify(expected, []byte(payload.Ciphertext))
	if !e.validValue {
		e.log.Warn("envelope: hmac verification failed", logger.String("id", rec.ID))
	}
	return e.validValue
}

func (e *EncryptedJSON) parse() (*Record, *Payload, bool) {
	var rec Record
	if err := json.Unmarshal([]byte(e.raw), &rec); err != nil {
		e.log.Warn("envelope: malformed record json", logger.Err(err))
		return nil, nil, false
	}
	var payload Payload
	if err := json.Unmarshal([]byte(rec.Payload), &payload); err != nil {
		e.log.Warn("envelope: malformed payload json", logger.Err(err))
		return nil, nil, false
	}
	if payload.Ciphertext == "" || payload.IV == "" || payload.HMAC == "" {
		return nil, nil, false
	}
	return &rec, &payload, true
}

// Cleartext returns the decrypted payload reparsed as JSON. It is only
// meaningful once IsValid() has returned true; calling it first is safe
// (it calls IsValid() itself) but a false IsValid() always yields
// (nil, false) here.
func (e *EncryptedJSON) Cleartext() (json.RawMessage, bool) {
	if !e.IsValid() {
		return nil, false
	}
	if e.cleartextOnce {
		return e.cleartextValue, e.cleartextValue != nil
	}
	e.cleartextOnce = true

	ciphertext, err := base64.StdEncoding.DecodeString(e.payload.Ciphertext)
	if err != nil {
		e.log.Warn("envelope: malformed ciphertext base64", logger.Err(err))
		return nil, false
	}
	iv, err := base64.StdEncoding.DecodeString(e.payload.IV)
	if err != nil {
		e.log.Warn("envelope: malformed iv base64", logger.Err(err))
		return nil, false
	}

	cleartext, err := e.bundle.Decrypt(ciphertext, iv)
	if err != nil {
		e.log.Warn("envelope: decrypt failed", logger.Err(err))
		return nil, false
	}

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(cleartext), &raw); err != nil {
		e.log.Warn("envelope: plaintext is not json", logger.Err(err))
		return nil, false
	}
	e.cleartextValue = raw
	return raw, true
}

// Seal is the inverse of New/IsValid/Cleartext: it encrypts cleartext
// with bundle, computes the HMAC over the base64 ciphertext, and returns
// a ready-to-send Record. It exists so round-trip tests (and any future
// record producer) don't have to hand-roll the envelope framing.
func Seal(id, collection string, cleartext []byte, bundle keybundle.KeyBundle) (Record, error) {
	ciphertext, iv, err := bundle.Encrypt(cleartext, nil)
	if err != nil {
		return Record{}, fmt.Errorf("envelope: encrypt: %w", err)
	}
	ciphertextB64 := base64.StdEncoding.EncodeToString(ciphertext)
	ivB64 := base64.StdEncoding.EncodeToString(iv)
	mac := bundle.HMACHex([]byte(ciphertextB64))

	payload := Payload{Ciphertext: ciphertextB64, IV: ivB64, HMAC: mac}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("envelope: marshal payload: %w", err)
	}

	return Record{ID: id, Collection: collection, Payload: string(payloadJSON)}, nil
}

// Factory returns a closure that, given a raw envelope string, validates
// and decrypts it against bundle and applies parse to the resulting JSON
// object. A false second return covers every recoverable failure: a
// malformed envelope, an HMAC mismatch, a decryption failure, non-UTF-8
// plaintext, or non-JSON plaintext. The closure captures bundle by
// value; KeyBundle is immutable, so sharing it this way is safe.
func Factory[T any](bundle keybundle.KeyBundle, log logger.Logger, parse func(json.RawMessage) (T, error)) func(string) (T, bool) {
	return func(raw string) (T, bool) {
		var zero T
		ej := New(raw, bundle, log)
		cleartext, ok := ej.Cleartext()
		if !ok {
			return zero, false
		}
		v, err := parse(cleartext)
		if err != nil {
			logger.OrNop(log).Warn("envelope: payload parse failed", logger.Err(err))
			return zero, false
		}
		return v, true
	}
}
