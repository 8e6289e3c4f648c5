package invite

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"lockd/internal/clock"
	"lockd/internal/lock"
	"lockd/internal/protocol"
)

var inviteEpoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func testInvitation(t *testing.T, clk clock.Clock, ttl time.Duration) protocol.Invitation {
	t.Helper()
	invitation, err := protocol.NewInvitation(uuid.New(), "bob", lock.Anytime(), clk, ttl)
	if err != nil {
		t.Fatal(err)
	}
	return invitation
}

func TestTokenRoundTrip(t *testing.T) {
	clk := clock.Fake(inviteEpoch)
	svc := NewService("token-signing-secret", "https://lock.example.com", clk)
	invitation := testInvitation(t, clk, time.Hour)

	token, err := svc.Token(invitation)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	got, err := svc.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Lock != invitation.Lock {
		t.Errorf("lock = %s, want %s", got.Lock, invitation.Lock)
	}
	if got.NewKey.Identifier != invitation.NewKey.Identifier || got.NewKey.Name != invitation.NewKey.Name {
		t.Errorf("invitation = %+v, want %+v", got.NewKey, invitation.NewKey)
	}
	if string(got.Secret) != string(invitation.Secret) {
		t.Error("one-time secret mangled in round trip")
	}
}

func TestTokenExpiresWithInvitation(t *testing.T) {
	clk := clock.Fake(inviteEpoch)
	svc := NewService("token-signing-secret", "https://lock.example.com", clk)

	token, err := svc.Token(testInvitation(t, clk, time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	clk.Advance(2 * time.Hour)
	if _, err := svc.Decode(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	clk := clock.Fake(inviteEpoch)
	issuer := NewService("issuer-secret", "https://lock.example.com", clk)
	other := NewService("other-secret", "https://lock.example.com", clk)

	token, err := issuer.Token(testInvitation(t, clk, time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Decode(token); err == nil {
		t.Error("token accepted under the wrong signing secret")
	}
}

func TestTokenRejectsTampering(t *testing.T) {
	clk := clock.Fake(inviteEpoch)
	svc := NewService("token-signing-secret", "https://lock.example.com", clk)

	token, err := svc.Token(testInvitation(t, clk, time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Decode("not.a.token"); err == nil {
		t.Error("garbage token accepted")
	}

	// Swap the payload while keeping the original signature.
	parts := strings.Split(token, ".")
	forged, err := svc.Token(testInvitation(t, clk, time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	forgedParts := strings.Split(forged, ".")
	if _, err := svc.Decode(parts[0] + "." + forgedParts[1] + "." + parts[2]); err == nil {
		t.Error("payload swap accepted")
	}
}

func TestLink(t *testing.T) {
	clk := clock.Fake(inviteEpoch)

	svc := NewService("s", "https://lock.example.com/", clk)
	if got := svc.Link("abc"); got != "https://lock.example.com/invite/abc" {
		t.Errorf("Link = %q", got)
	}

	// With and without a trailing slash the URL comes out the same.
	svc = NewService("s", "https://lock.example.com", clk)
	if got := svc.Link("abc"); got != "https://lock.example.com/invite/abc" {
		t.Errorf("Link = %q", got)
	}
}

func TestQRCarriesLink(t *testing.T) {
	clk := clock.Fake(inviteEpoch)
	svc := NewService("s", "https://lock.example.com", clk)

	png, err := svc.QR("abc")
	if err != nil {
		t.Fatalf("QR: %v", err)
	}
	if len(png) == 0 {
		t.Fatal("empty QR image")
	}
	// PNG signature.
	if string(png[1:4]) != "PNG" {
		t.Error("QR output is not a PNG")
	}
}

func TestEmailMessage(t *testing.T) {
	clk := clock.Fake(inviteEpoch)
	svc := NewService("s", "https://lock.example.com", clk)
	invitation := testInvitation(t, clk, time.Hour)

	msg := svc.Email("bob@example.com", "Front Door", invitation, "abc")
	if msg.To != "bob@example.com" {
		t.Errorf("recipient = %q", msg.To)
	}
	if msg.LockName != "Front Door" || msg.KeyName != invitation.NewKey.Name {
		t.Errorf("message = %+v", msg)
	}
	if msg.Link != svc.Link("abc") {
		t.Error("message does not carry the invitation link")
	}
	if !msg.Expires.Equal(invitation.NewKey.Expiration) {
		t.Errorf("expires = %v, want %v", msg.Expires, invitation.NewKey.Expiration)
	}
}
