// Package auth implements the per-request authorization header: a
// short-lived, replay-protected proof of possession of a credential's
// secret.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"lockd/internal/clock"
	"lockd/internal/lock"
)

// HeaderField is the HTTP header carrying the encoded authorization.
const HeaderField = "X-Lock-Authorization"

// DefaultWindow is the freshness window: headers older or newer than
// this relative to the verifier's clock are rejected.
const DefaultWindow = 30 * time.Second

// NonceSize is the number of random bytes per header nonce.
const NonceSize = 16

var (
	ErrMalformedHeader  = errors.New("malformed authorization header")
	ErrInvalidSignature = errors.New("authorization signature mismatch")
	ErrExpired          = errors.New("authorization header outside freshness window")
	ErrReplayed         = errors.New("authorization header replayed")
)

// macKeyInfo domain-separates the authorization MAC key from the
// envelope encryption key of the same credential.
var macKeyInfo = []byte("lockd.auth.mac.v1")

// Header is a signed proof of possession: key identifier, signing
// time, random nonce, and an HMAC over the three.
type Header struct {
	Identifier uuid.UUID
	Timestamp  time.Time
	Nonce      []byte
	Signature  []byte
}

// Sign captures the current time and a fresh nonce and computes the
// keyed MAC.
func Sign(credentials lock.KeyCredentials, clk clock.Clock) (Header, error) {
	if err := credentials.Secret.Validate(); err != nil {
		return Header{}, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Header{}, fmt.Errorf("generating nonce: %w", err)
	}
	h := Header{
		Identifier: credentials.Identifier,
		Timestamp:  clk.Now().UTC().Truncate(time.Second),
		Nonce:      nonce,
	}
	sig, err := mac(credentials.Secret, h)
	if err != nil {
		return Header{}, err
	}
	h.Signature = sig
	return h, nil
}

// Encode renders the header as identifier:timestamp:nonce:signature.
func (h Header) Encode() string {
	return strings.Join([]string{
		h.Identifier.String(),
		strconv.FormatInt(h.Timestamp.Unix(), 10),
		base64.RawURLEncoding.EncodeToString(h.Nonce),
		base64.RawURLEncoding.EncodeToString(h.Signature),
	}, ":")
}

// ParseHeader decodes the wire form produced by Encode.
func ParseHeader(s string) (Header, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Header{}, ErrMalformedHeader
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return Header{}, ErrMalformedHeader
	}
	unix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Header{}, ErrMalformedHeader
	}
	nonce, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(nonce) != NonceSize {
		return Header{}, ErrMalformedHeader
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil || len(sig) == 0 {
		return Header{}, ErrMalformedHeader
	}
	return Header{
		Identifier: id,
		Timestamp:  time.Unix(unix, 0).UTC(),
		Nonce:      nonce,
		Signature:  sig,
	}, nil
}

// mac computes HMAC-SHA256 over identifier, timestamp and nonce with a
// key derived from the credential secret.
func mac(secret lock.Secret, h Header) ([]byte, error) {
	key, err := deriveMACKey(secret)
	if err != nil {
		return nil, err
	}
	m := hmac.New(sha256.New, key)
	m.Write(h.Identifier[:])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(h.Timestamp.Unix()))
	m.Write(ts[:])
	m.Write(h.Nonce)
	return m.Sum(nil), nil
}

// deriveMACKey derives the signing key from the credential secret via
// HKDF-SHA256 so the MAC key and envelope key never coincide.
func deriveMACKey(secret lock.Secret) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, macKeyInfo)
	key := make([]byte, lock.SecretSize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving MAC key: %w", err)
	}
	return key, nil
}

// Verifier checks headers for one authority. The replay cache is
// scoped to this verifier and mutated under its single-writer
// discipline.
type Verifier struct {
	clk    clock.Clock
	window time.Duration
	cache  ReplayCache
}

// NewVerifier builds a verifier. window <= 0 selects DefaultWindow.
func NewVerifier(clk clock.Clock, window time.Duration, cache ReplayCache) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Verifier{clk: clk, window: window, cache: cache}
}

// Verify recomputes the MAC and enforces freshness and replay
// protection. On success the (identifier, nonce) pair is recorded
// until timestamp + window.
func (v *Verifier) Verify(ctx context.Context, h Header, secret lock.Secret) error {
	expected, err := mac(secret, h)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, h.Signature) {
		return ErrInvalidSignature
	}

	now := v.clk.Now()
	age := now.Sub(h.Timestamp)
	if age > v.window || age < -v.window {
		return ErrExpired
	}

	seen, err := v.cache.Insert(ctx, replayKey(h), h.Timestamp.Add(v.window))
	if err != nil {
		return fmt.Errorf("replay cache: %w", err)
	}
	if seen {
		return ErrReplayed
	}
	return nil
}

func replayKey(h Header) string {
	return h.Identifier.String() + ":" + base64.RawURLEncoding.EncodeToString(h.Nonce)
}
