package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func testSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		t.Fatal(err)
	}
	return secret
}

func TestEnvelopeRoundTrip(t *testing.T) {
	secret := testSecret(t)
	plaintext := []byte("attack at dawn")

	env, err := Encrypt(plaintext, secret)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(env.Ciphertext, plaintext) {
		t.Fatal("ciphertext contains plaintext")
	}

	got, err := Decrypt(env, secret)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestEnvelopeFreshNoncePerMessage(t *testing.T) {
	secret := testSecret(t)

	a, err := Encrypt([]byte("x"), secret)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt([]byte("x"), secret)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.Nonce, b.Nonce) {
		t.Error("nonce reused across messages")
	}
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Error("identical ciphertext for identical plaintext")
	}
}

func TestEnvelopeWrongSecret(t *testing.T) {
	env, err := Encrypt([]byte("secret payload"), testSecret(t))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Decrypt(env, testSecret(t)); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestEnvelopeTamperDetection(t *testing.T) {
	secret := testSecret(t)
	env, err := Encrypt([]byte("secret payload"), secret)
	if err != nil {
		t.Fatal(err)
	}

	tampered := env
	tampered.Ciphertext = append([]byte(nil), env.Ciphertext...)
	tampered.Ciphertext[0] ^= 0x01
	if _, err := Decrypt(tampered, secret); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("ciphertext tamper: expected ErrDecryptionFailed, got %v", err)
	}

	// The version byte is authenticated data: flipping it must fail
	// even though the ciphertext is intact.
	versioned := env
	versioned.Version = 0x02
	if _, err := Decrypt(versioned, secret); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("version tamper: expected ErrDecryptionFailed, got %v", err)
	}

	short := env
	short.Nonce = env.Nonce[:8]
	if _, err := Decrypt(short, secret); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("truncated nonce: expected ErrDecryptionFailed, got %v", err)
	}
}

func TestEnvelopeJSONPayload(t *testing.T) {
	secret := testSecret(t)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	env, err := EncryptJSON(payload{Name: "bob", Count: 3}, secret)
	if err != nil {
		t.Fatalf("EncryptJSON: %v", err)
	}

	var got payload
	if err := DecryptJSON(env, secret, &got); err != nil {
		t.Fatalf("DecryptJSON: %v", err)
	}
	if got.Name != "bob" || got.Count != 3 {
		t.Errorf("round trip = %+v", got)
	}

	// A sealed non-JSON payload decrypts but must not surface
	raw, err := Encrypt([]byte("not json"), secret)
	if err != nil {
		t.Fatal(err)
	}
	if err := DecryptJSON(raw, secret, &got); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("bad JSON: expected ErrDecryptionFailed, got %v", err)
	}
}
