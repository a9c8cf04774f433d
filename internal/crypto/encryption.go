// Package crypto implements AES-256-GCM envelope encryption for stored
// documents and direct field encryption for small values.
//
// File format: 4-byte little-endian length of the wrapped DEK, the wrapped
// DEK (nonce || ciphertext under the master key), then the data nonce and
// the data ciphertext. A fresh DEK per file means rotating the master key
// only requires rewrapping DEKs, not re-encrypting payloads.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"log/slog"

	"github.com/ventro/backend/internal/core"
)

const gcmNonceSize = 12

// Encryptor seals and opens payloads. With no master key configured it
// becomes a logging passthrough in development and refuses to construct
// in production.
type Encryptor struct {
	master  cipher.AEAD
	enabled bool
}

// NewEncryptor builds an encryptor from a 32-byte master key. An empty
// key is tolerated only outside production.
func NewEncryptor(masterKey []byte, production bool) (*Encryptor, error) {
	if len(masterKey) == 0 {
		if production {
			return nil, core.E(core.KindFatal, "encryption master key is required in production")
		}
		slog.Warn("no encryption master key configured, storing documents in plaintext")
		return &Encryptor{enabled: false}, nil
	}
	if len(masterKey) != 32 {
		return nil, core.Errorf(core.KindFatal, "master key must be 32 bytes, got %d", len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, core.Wrap(core.KindFatal, "initializing master cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, core.Wrap(core.KindFatal, "initializing GCM", err)
	}
	return &Encryptor{master: aead, enabled: true}, nil
}

func (e *Encryptor) Enabled() bool { return e.enabled }

// Seal envelope-encrypts plaintext with a fresh data key.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	if !e.enabled {
		return plaintext, nil
	}

	dek := make([]byte, 32)
	if _, err := rand.Read(dek); err != nil {
		return nil, core.Wrap(core.KindFatal, "generating data key", err)
	}
	dataAEAD, err := newAEAD(dek)
	if err != nil {
		return nil, err
	}

	wrapNonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(wrapNonce); err != nil {
		return nil, core.Wrap(core.KindFatal, "generating wrap nonce", err)
	}
	wrappedDEK := append(wrapNonce, e.master.Seal(nil, wrapNonce, dek, nil)...)

	dataNonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(dataNonce); err != nil {
		return nil, core.Wrap(core.KindFatal, "generating data nonce", err)
	}
	sealed := dataAEAD.Seal(nil, dataNonce, plaintext, nil)

	out := make([]byte, 0, 4+len(wrappedDEK)+gcmNonceSize+len(sealed))
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(wrappedDEK)))
	out = append(out, hdr[:]...)
	out = append(out, wrappedDEK...)
	out = append(out, dataNonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open reverses Seal.
func (e *Encryptor) Open(envelope []byte) ([]byte, error) {
	if !e.enabled {
		return envelope, nil
	}
	if len(envelope) < 4 {
		return nil, core.E(core.KindIntegrity, "envelope too short")
	}
	dekLen := int(binary.LittleEndian.Uint32(envelope[:4]))
	rest := envelope[4:]
	if dekLen < gcmNonceSize || len(rest) < dekLen+gcmNonceSize {
		return nil, core.E(core.KindIntegrity, "malformed envelope header")
	}

	wrappedDEK := rest[:dekLen]
	dek, err := e.master.Open(nil, wrappedDEK[:gcmNonceSize], wrappedDEK[gcmNonceSize:], nil)
	if err != nil {
		return nil, core.Wrap(core.KindIntegrity, "unwrapping data key", err)
	}
	dataAEAD, err := newAEAD(dek)
	if err != nil {
		return nil, err
	}

	body := rest[dekLen:]
	plaintext, err := dataAEAD.Open(nil, body[:gcmNonceSize], body[gcmNonceSize:], nil)
	if err != nil {
		return nil, core.Wrap(core.KindIntegrity, "decrypting payload", err)
	}
	return plaintext, nil
}

// SealField encrypts a small value directly under the master key and
// base64-encodes nonce || ciphertext for column storage.
func (e *Encryptor) SealField(value string) (string, error) {
	if !e.enabled {
		return value, nil
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", core.Wrap(core.KindFatal, "generating field nonce", err)
	}
	sealed := e.master.Seal(nil, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// OpenField reverses SealField.
func (e *Encryptor) OpenField(encoded string) (string, error) {
	if !e.enabled {
		return encoded, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", core.Wrap(core.KindIntegrity, "decoding field ciphertext", err)
	}
	if len(raw) < gcmNonceSize {
		return "", core.E(core.KindIntegrity, "field ciphertext too short")
	}
	plaintext, err := e.master.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], nil)
	if err != nil {
		return "", core.Wrap(core.KindIntegrity, "decrypting field", err)
	}
	return string(plaintext), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, core.Wrap(core.KindFatal, "initializing data cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, core.Wrap(core.KindFatal, "initializing data GCM", err)
	}
	return aead, nil
}
