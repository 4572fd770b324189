// Package keybundle implements the symmetric key material at the core of
// the sync protocol: a pair of 32-byte keys (one for AES-256-CBC, one for
// HMAC-SHA256), derived either from an account master secret via HKDF or
// drawn fresh from a CSPRNG, and the encrypt-then-MAC primitives built on
// top of them.
package keybundle

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"
)

const (
	// keySize is the length in bytes of both encKey and hmacKey.
	keySize = 32

	// hkdfInfo is the bit-exact HKDF info string mandated by the sync
	// protocol. Changing it silently breaks interoperability with every
	// other client deriving the same master KeyBundle.
	hkdfInfo = "identity.mozilla.com/picl/v1/oldsync"

	// hkdfOutputLen is encKey (32) || hmacKey (32).
	hkdfOutputLen = 2 * keySize
)

// Sentinel errors for the failure kinds a caller can hit.
var (
	ErrMalformedInput   = errors.New("keybundle: malformed input")
	ErrIntegrityFailure = errors.New("keybundle: HMAC verification failed")
	ErrCryptoFailure    = errors.New("keybundle: crypto primitive failure")
	ErrInvalidUTF8      = errors.New("keybundle: plaintext is not valid UTF-8")
)

// KeyBundle is an immutable pair of 32-byte keys. The zero value is not a
// valid bundle; construct one with Random, FromMasterKey, FromBase64, or
// FromBytes.
type KeyBundle struct {
	encKey  []byte
	hmacKey []byte
}

// Invalid is a sentinel bundle built from a known-bogus base64 string. It
// is wired up wherever a caller needs a non-nil KeyBundle that must never
// successfully decrypt or verify real ciphertext (e.g. keysregistry's
// failure path). Its keys are fixed and public — never treat them as a
// secret.
var Invalid = FromBase64("!!!not-valid-base64!!!", "!!!not-valid-base64!!!")

// FromBytes builds a KeyBundle from already-decoded key material. Both
// slices must be exactly 32 bytes; the cipher below assumes a 256-bit
// key.
func FromBytes(encKey, hmacKey []byte) (KeyBundle, error) {
	if len(encKey) != keySize || len(hmacKey) != keySize {
		return KeyBundle{}, fmt.Errorf("%w: keys must be %d bytes, got enc=%d hmac=%d", ErrMalformedInput, keySize, len(encKey), len(hmacKey))
	}
	b := KeyBundle{encKey: make([]byte, keySize), hmacKey: make([]byte, keySize)}
	copy(b.encKey, encKey)
	copy(b.hmacKey, hmacKey)
	return b, nil
}

// FromBase64 decodes encKeyB64 and hmacKeyB64 with standard base64 (no
// URL-safe variant). Malformed base64, or base64 that doesn't decode to
// exactly 32 bytes per key, yields the Invalid sentinel rather than an
// error — callers who need strictness validate key length themselves.
func FromBase64(encKeyB64, hmacKeyB64 string) KeyBundle {
	encKey, err1 := base64.StdEncoding.DecodeString(encKeyB64)
	hmacKey, err2 := base64.StdEncoding.DecodeString(hmacKeyB64)
	if err1 != nil || err2 != nil || len(encKey) != keySize || len(hmacKey) != keySize {
		// Deliberately not recursing into FromBase64(Invalid's own args):
		// build a fixed 32/32 pair from SHA-256 digests of constant labels,
		// which a real derivation is not expected to produce.
		sentinelEnc := sha256.Sum256([]byte("keybundle/invalid/enc"))
		sentinelHmac := sha256.Sum256([]byte("keybundle/invalid/hmac"))
		return KeyBundle{encKey: sentinelEnc[:], hmacKey: sentinelHmac[:]}
	}
	b, _ := FromBytes(encKey, hmacKey)
	return b
}

// Random draws 32 fresh cryptographically secure random bytes for each of
// encKey and hmacKey. source defaults to crypto/rand.Reader when nil —
// tests that need determinism inject a seeded io.Reader instead of
// monkey-patching the package-level default.
func Random(source io.Reader) (KeyBundle, error) {
	if source == nil {
		source = rand.Reader
	}
	buf := make([]byte, hkdfOutputLen)
	if _, err := io.ReadFull(source, buf); err != nil {
		return KeyBundle{}, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	b, _ := FromBytes(buf[:keySize], buf[keySize:])
	for i := range buf {
		buf[i] = 0
	}
	return b, nil
}

// FromMasterKey derives the master KeyBundle from a 32-byte account
// secret kB via HKDF-SHA256(IKM=kB, salt=nil, info=hkdfInfo, L=64),
// splitting the 64-byte output into encKey = out[0:32] and
// hmacKey = out[32:64]. It is a pure function of kB: the same kB always
// produces the same bundle.
func FromMasterKey(kB []byte) (KeyBundle, error) {
	if len(kB) != keySize {
		return KeyBundle{}, fmt.Errorf("%w: master key must be %d bytes, got %d", ErrMalformedInput, keySize, len(kB))
	}
	r := hkdf.New(sha256.New, kB, nil, []byte(hkdfInfo))
	out := make([]byte, hkdfOutputLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return KeyBundle{}, fmt.Errorf("%w: hkdf expand: %v", ErrCryptoFailure, err)
	}
	b, _ := FromBytes(out[:keySize], out[keySize:])
	for i := range out {
		out[i] = 0
	}
	return b, nil
}

// Equal reports whether b and other hold byte-identical encKey and
// hmacKey.
func (b KeyBundle) Equal(other KeyBundle) bool {
	return bytes.Equal(b.encKey, other.encKey) && bytes.Equal(b.hmacKey, other.hmacKey)
}

// EncKey returns a copy of the encryption key. Copying, not aliasing,
// keeps a caller from mutating the bundle's internal buffer.
func (b KeyBundle) EncKey() []byte {
	return append([]byte(nil), b.encKey...)
}

// HmacKey returns a copy of the HMAC key.
func (b KeyBundle) HmacKey() []byte {
	return append([]byte(nil), b.hmacKey...)
}

// HMAC computes HMAC-SHA256 over data with key = hmacKey, returning the
// raw 32-byte digest.
func (b KeyBundle) HMAC(data []byte) []byte {
	mac := hmac.New(sha256.New, b.hmacKey)
	mac.Write(data)
	return mac.Sum(nil)
}

// HMACHex returns the same digest as HMAC, encoded as 64 lowercase hex
// characters.
func (b KeyBundle) HMACHex(data []byte) string {
	return hex.EncodeToString(b.HMAC(data))
}

// Verify computes HMAC(ciphertextBase64Bytes) and compares it to expected
// in constant time. ciphertextBase64Bytes MUST be the base64-encoded form
// of the ciphertext — not the raw ciphertext — per the protocol's
// HMAC-over-base64 convention; see envelope.EncryptedJSON for the call
// site that gets this right.
func (b KeyBundle) Verify(expected, ciphertextBase64Bytes []byte) bool {
	return hmac.Equal(b.HMAC(ciphertextBase64Bytes), expected)
}

// Encrypt runs AES-256-CBC with PKCS#7 padding over cleartext, key =
// encKey. If iv is nil, 16 fresh random bytes are drawn; otherwise iv is
// used as-is and must be exactly aes.BlockSize bytes. Returns the
// ciphertext and the IV actually used.
func (b KeyBundle) Encrypt(cleartext []byte, iv []byte) (ciphertext, usedIV []byte, err error) {
	block, err := aes.NewCipher(b.encKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: new AES cipher: %v", ErrCryptoFailure, err)
	}

	if iv == nil {
		usedIV = make([]byte, aes.BlockSize)
		if _, err := io.ReadFull(rand.Reader, usedIV); err != nil {
			return nil, nil, fmt.Errorf("%w: random IV: %v", ErrCryptoFailure, err)
		}
	} else {
		if len(iv) != aes.BlockSize {
			return nil, nil, fmt.Errorf("%w: IV must be %d bytes, got %d", ErrMalformedInput, aes.BlockSize, len(iv))
		}
		usedIV = iv
	}

	padded := pkcs7Pad(cleartext, aes.BlockSize)
	out := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, usedIV)
	mode.CryptBlocks(out, padded)

	return out, usedIV, nil
}

// Decrypt runs AES-256-CBC decrypt + PKCS#7 unpadding over ciphertext,
// interpreting the result as a UTF-8 string. Callers MUST verify the
// HMAC (KeyBundle.Verify) before calling Decrypt; this function performs
// no integrity check of its own.
func (b KeyBundle) Decrypt(ciphertext, iv []byte) (string, error) {
	block, err := aes.NewCipher(b.encKey)
	if err != nil {
		return "", fmt.Errorf("%w: new AES cipher: %v", ErrCryptoFailure, err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: IV must be %d bytes, got %d", ErrMalformedInput, aes.BlockSize, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrCryptoFailure)
	}

	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(out, ciphertext)

	unpadded, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}

	if !utf8.Valid(unpadded) {
		return "", ErrInvalidUTF8
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding length %d", padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}
