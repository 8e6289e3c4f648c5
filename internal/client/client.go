// Device-side HTTP client for talking to a lock authority.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"lockd/internal/auth"
	"lockd/internal/clock"
	"lockd/internal/crypto"
	"lockd/internal/lock"
	"lockd/internal/protocol"
)

// DefaultTimeout bounds every request to the authority.
const DefaultTimeout = 30 * time.Second

// StatusError reports an unexpected HTTP status from the authority,
// carrying the server's message when one was decoded.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Client talks to one lock authority over HTTP.
type Client struct {
	base *url.URL
	http *http.Client
	clk  clock.Clock
}

func New(baseURL string, clk clock.Clock) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	return &Client{
		base: base,
		http: &http.Client{Timeout: DefaultTimeout},
		clk:  clk,
	}, nil
}

// LockInfo is the authority's announced identity.
type LockInfo struct {
	Identifier uuid.UUID `json:"identifier"`
	Name       string    `json:"name"`
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *Client) url(path string) string {
	return c.base.String() + path
}

// do sends a request, optionally signing it with credentials, and
// enforces the single expected status code.
func (c *Client) do(ctx context.Context, method, path string, creds *lock.KeyCredentials, body any, expect int) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if creds != nil {
		header, err := auth.Sign(*creds, c.clk)
		if err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
		req.Header.Set(auth.HeaderField, header.Encode())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != expect {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return nil, &StatusError{Code: resp.StatusCode, Message: eb.Message}
	}

	return raw, nil
}

// LockInfo fetches the lock's identity.
func (c *Client) LockInfo(ctx context.Context) (LockInfo, error) {
	raw, err := c.do(ctx, http.MethodGet, "/lock", nil, nil, http.StatusOK)
	if err != nil {
		return LockInfo{}, err
	}

	var info LockInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return LockInfo{}, fmt.Errorf("failed to decode lock info: %w", err)
	}
	return info, nil
}

// CreateNewKey shares an invitation with the authority. Anything but
// 202 Accepted is a failure.
func (c *Client) CreateNewKey(ctx context.Context, creds lock.KeyCredentials, req protocol.CreateNewKeyRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/keys", &creds, req, http.StatusAccepted)
	return err
}

// ConfirmNewKey redeems an invitation. The request authenticates with
// the invitation's one-time secret and returns the confirmed key
// together with the freshly generated final credentials.
func (c *Client) ConfirmNewKey(ctx context.Context, invitation protocol.Invitation) (lock.Key, lock.KeyCredentials, error) {
	req, finalSecret, err := protocol.NewConfirmNewKeyRequest(invitation.NewKey.Identifier, invitation.Secret)
	if err != nil {
		return lock.Key{}, lock.KeyCredentials{}, err
	}

	oneTime := lock.KeyCredentials{
		Identifier: invitation.NewKey.Identifier,
		Secret:     invitation.Secret,
	}

	raw, err := c.do(ctx, http.MethodPost, "/keys/confirm", &oneTime, req, http.StatusOK)
	if err != nil {
		return lock.Key{}, lock.KeyCredentials{}, err
	}

	var key lock.Key
	if err := json.Unmarshal(raw, &key); err != nil {
		return lock.Key{}, lock.KeyCredentials{}, fmt.Errorf("failed to decode confirmed key: %w", err)
	}

	return key, lock.KeyCredentials{Identifier: key.Identifier, Secret: finalSecret}, nil
}

// Unlock asks the authority to actuate the lock.
func (c *Client) Unlock(ctx context.Context, creds lock.KeyCredentials) error {
	_, err := c.do(ctx, http.MethodPost, "/unlock", &creds, nil, http.StatusOK)
	return err
}

// ListKeys fetches and opens the sealed key roster.
func (c *Client) ListKeys(ctx context.Context, creds lock.KeyCredentials) (protocol.KeyListing, error) {
	raw, err := c.do(ctx, http.MethodGet, "/keys", &creds, nil, http.StatusOK)
	if err != nil {
		return protocol.KeyListing{}, err
	}

	var envelope crypto.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return protocol.KeyListing{}, fmt.Errorf("failed to decode roster envelope: %w", err)
	}

	var listing protocol.KeyListing
	if err := crypto.DecryptJSON(envelope, creds.Secret, &listing); err != nil {
		return protocol.KeyListing{}, err
	}
	return listing, nil
}

// RemoveKey removes an active key or revokes a pending invitation.
func (c *Client) RemoveKey(ctx context.Context, creds lock.KeyCredentials, target uuid.UUID) error {
	_, err := c.do(ctx, http.MethodDelete, "/keys/"+target.String(), &creds, nil, http.StatusOK)
	return err
}
