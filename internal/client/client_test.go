package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	app "lockd/internal"
	"lockd/internal/auth"
	"lockd/internal/clock"
	"lockd/internal/invite"
	"lockd/internal/lock"
	"lockd/internal/protocol"
)

var clientEpoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	server    *httptest.Server
	client    *Client
	authority *protocol.Authority
	store     *lock.Store
	invites   *invite.Service
	owner     lock.KeyCredentials
	clk       *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.Fake(clientEpoch)

	store := lock.NewStore(clk, nil, lock.NewApplicationData(clk.Now()), nil)
	cache := auth.NewMemoryReplayCache(clk)
	t.Cleanup(cache.Close)
	authority := protocol.NewAuthority(uuid.New(), store, auth.NewVerifier(clk, auth.DefaultWindow, cache), clk, nil)

	owner, err := authority.Setup(context.Background(), "Front Door", "alice")
	if err != nil {
		t.Fatal(err)
	}

	invites := invite.NewService("link-signing-secret", "http://lock.test", clk)

	engine := app.HTTPServer()
	app.RegisterRoutes(engine, authority, "Front Door", invites)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	c, err := New(server.URL, clk)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		server:    server,
		client:    c,
		authority: authority,
		store:     store,
		invites:   invites,
		owner:     owner,
		clk:       clk,
	}
}

func TestClientLockInfo(t *testing.T) {
	f := newFixture(t)

	info, err := f.client.LockInfo(context.Background())
	if err != nil {
		t.Fatalf("LockInfo: %v", err)
	}
	if info.Identifier != f.authority.LockID() {
		t.Errorf("identifier = %s, want %s", info.Identifier, f.authority.LockID())
	}
	if info.Name != "Front Door" {
		t.Errorf("name = %q", info.Name)
	}
}

func TestClientIssuanceOverHTTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invitation, err := protocol.NewInvitation(f.authority.LockID(), "bob", lock.Anytime(), f.clk, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.authority.ProvisionOneTimeSecret(ctx, invitation.NewKey.Identifier, invitation.Secret); err != nil {
		t.Fatal(err)
	}

	req, err := protocol.NewCreateNewKeyRequest(invitation.NewKey, invitation.Secret)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.client.CreateNewKey(ctx, f.owner, req); err != nil {
		t.Fatalf("CreateNewKey: %v", err)
	}

	key, creds, err := f.client.ConfirmNewKey(ctx, invitation)
	if err != nil {
		t.Fatalf("ConfirmNewKey: %v", err)
	}
	if key.Name != "bob" || key.Identifier != invitation.NewKey.Identifier {
		t.Errorf("confirmed key = %+v", key)
	}
	if string(creds.Secret) == string(invitation.Secret) {
		t.Error("final secret equals the one-time transport secret")
	}

	if err := f.client.Unlock(ctx, creds); err != nil {
		t.Errorf("Unlock with confirmed credentials: %v", err)
	}

	listing, err := f.client.ListKeys(ctx, f.owner)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(listing.Keys) != 2 {
		t.Errorf("listing has %d keys, want 2", len(listing.Keys))
	}

	if err := f.client.RemoveKey(ctx, f.owner, key.Identifier); err != nil {
		t.Fatalf("RemoveKey: %v", err)
	}
	var statusErr *StatusError
	if err := f.client.Unlock(ctx, creds); !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Errorf("revoked unlock: expected 401, got %v", err)
	}
}

func TestClientStatusMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A second confirmation must find nothing: 404.
	invitation, err := protocol.NewInvitation(f.authority.LockID(), "bob", lock.Anytime(), f.clk, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.authority.ProvisionOneTimeSecret(ctx, invitation.NewKey.Identifier, invitation.Secret); err != nil {
		t.Fatal(err)
	}
	req, err := protocol.NewCreateNewKeyRequest(invitation.NewKey, invitation.Secret)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.client.CreateNewKey(ctx, f.owner, req); err != nil {
		t.Fatal(err)
	}
	_, creds, err := f.client.ConfirmNewKey(ctx, invitation)
	if err != nil {
		t.Fatal(err)
	}
	var statusErr *StatusError
	if _, _, err := f.client.ConfirmNewKey(ctx, invitation); !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Errorf("duplicate confirm: expected 404, got %v", err)
	}

	// An anytime key granting a key: 403.
	other, err := protocol.NewInvitation(f.authority.LockID(), "carol", lock.Anytime(), f.clk, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.authority.ProvisionOneTimeSecret(ctx, other.NewKey.Identifier, other.Secret); err != nil {
		t.Fatal(err)
	}
	otherReq, err := protocol.NewCreateNewKeyRequest(other.NewKey, other.Secret)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.client.CreateNewKey(ctx, creds, otherReq); !errors.As(err, &statusErr) || statusErr.Code != http.StatusForbidden {
		t.Errorf("non-admin grant: expected 403, got %v", err)
	}

	// Unknown credentials: 401 with the server's message decoded.
	strangerSecret, err := lock.NewSecret()
	if err != nil {
		t.Fatal(err)
	}
	stranger := lock.KeyCredentials{Identifier: uuid.New(), Secret: strangerSecret}
	err = f.client.Unlock(ctx, stranger)
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("stranger unlock: expected 401, got %v", err)
	}
	if statusErr.Message == "" {
		t.Error("server error message not decoded")
	}
}

func TestClientRejectsMissingHeader(t *testing.T) {
	f := newFixture(t)

	// A bare request without the signed header never reaches the
	// authority.
	resp, err := http.Post(f.server.URL+"/unlock", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInvitationLinkRoute(t *testing.T) {
	f := newFixture(t)

	invitation, err := protocol.NewInvitation(f.authority.LockID(), "bob", lock.Anytime(), f.clk, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, err := f.invites.Token(invitation)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(fmt.Sprintf("%s/invite/%s", f.server.URL, token))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got protocol.Invitation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.NewKey.Identifier != invitation.NewKey.Identifier {
		t.Error("decoded invitation does not match")
	}

	// An expired link resolves to 404, indistinguishable from a bogus
	// token.
	f.clk.Advance(2 * time.Hour)
	resp2, err := http.Get(fmt.Sprintf("%s/invite/%s", f.server.URL, token))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("expired link status = %d, want 404", resp2.StatusCode)
	}
}
