// Package crypto implements the authenticated-encryption envelope
// exchanged in place of plaintext on every protocol message and every
// remote upload.
package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// envelopeVersion is bound into the AEAD as additional authenticated
// data, so tampering with the version field fails authentication.
const envelopeVersion byte = 0x01

// ErrDecryptionFailed covers wrong secret, tampered ciphertext or tag,
// and malformed envelope structure alike. Decryption fails closed: no
// partial plaintext, and no distinction an attacker could time.
var ErrDecryptionFailed = errors.New("envelope decryption failed")

// Envelope is the XChaCha20-Poly1305 output: a fresh random nonce and
// the ciphertext with its authentication tag appended.
type Envelope struct {
	Version    byte   `json:"version"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Encrypt seals plaintext under secret with a nonce that is random per
// message and never reused for the same secret.
func Encrypt(plaintext, secret []byte) (Envelope, error) {
	aead, err := chacha20poly1305.NewX(secret)
	if err != nil {
		return Envelope{}, fmt.Errorf("initializing cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Envelope{}, fmt.Errorf("generating nonce: %w", err)
	}

	return Envelope{
		Version:    envelopeVersion,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, []byte{envelopeVersion}),
	}, nil
}

// Decrypt opens the envelope with secret. Wrong secret, tampered data
// and bad structure all yield ErrDecryptionFailed and no plaintext.
func Decrypt(e Envelope, secret []byte) ([]byte, error) {
	if e.Version != envelopeVersion || len(e.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrDecryptionFailed
	}
	aead, err := chacha20poly1305.NewX(secret)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, e.Nonce, e.Ciphertext, []byte{e.Version})
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptJSON marshals v and seals it under secret.
func EncryptJSON(v any, secret []byte) (Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding payload: %w", err)
	}
	return Encrypt(plaintext, secret)
}

// DecryptJSON opens the envelope and unmarshals the plaintext into v.
// A payload that opens but does not parse is still ErrDecryptionFailed
// to the caller; nothing of it is surfaced.
func DecryptJSON(e Envelope, secret []byte, v any) error {
	plaintext, err := Decrypt(e, secret)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrDecryptionFailed
	}
	return nil
}
