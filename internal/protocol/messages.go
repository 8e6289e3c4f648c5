// Package protocol implements the key-issuance exchanges and the
// authority that adjudicates them.
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"lockd/internal/clock"
	"lockd/internal/crypto"
	"lockd/internal/lock"
)

// CreateNewKeyRequest moves a pending invitation to the receiving
// device. The envelope is sealed under the one-time secret of the
// credential being granted, not the sender's own; the receiver holds
// that secret pre-shared alongside Target.
type CreateNewKeyRequest struct {
	// Target is the identifier of the credential being granted. Sent
	// in the clear so the receiver can select the pre-shared secret.
	Target uuid.UUID `json:"target"`
	// Envelope seals a lock.NewKey.
	Envelope crypto.Envelope `json:"envelope"`
}

// NewCreateNewKeyRequest seals an invitation under the one-time
// secret handed to the new principal.
func NewCreateNewKeyRequest(invitation lock.NewKey, oneTime lock.Secret) (CreateNewKeyRequest, error) {
	env, err := crypto.EncryptJSON(invitation, oneTime)
	if err != nil {
		return CreateNewKeyRequest{}, fmt.Errorf("sealing invitation: %w", err)
	}
	return CreateNewKeyRequest{Target: invitation.Identifier, Envelope: env}, nil
}

// ConfirmNewKeyPayload binds the invitation identifier to the
// principal's freshly generated long-term secret. It only ever
// travels sealed under the invitation's one-time secret.
type ConfirmNewKeyPayload struct {
	NewKey      uuid.UUID   `json:"newKey"`
	FinalSecret lock.Secret `json:"finalSecret"`
}

// ConfirmNewKeyRequest consumes a pending invitation at the
// authority.
type ConfirmNewKeyRequest struct {
	// Envelope seals a ConfirmNewKeyPayload under the invitation's
	// one-time secret.
	Envelope crypto.Envelope `json:"envelope"`
}

// NewConfirmNewKeyRequest rotates the credential: the final secret is
// freshly generated and never equals the transport secret.
func NewConfirmNewKeyRequest(invitation uuid.UUID, oneTime lock.Secret) (ConfirmNewKeyRequest, lock.Secret, error) {
	final, err := lock.NewSecret()
	if err != nil {
		return ConfirmNewKeyRequest{}, nil, err
	}
	env, err := crypto.EncryptJSON(ConfirmNewKeyPayload{NewKey: invitation, FinalSecret: final}, oneTime)
	if err != nil {
		return ConfirmNewKeyRequest{}, nil, fmt.Errorf("sealing confirmation: %w", err)
	}
	return ConfirmNewKeyRequest{Envelope: env}, final, nil
}

// KeyListing is the response plaintext of ListKeys, sealed under the
// requester's secret before leaving the authority.
type KeyListing struct {
	Keys        []lock.Key    `json:"keys"`
	PendingKeys []lock.NewKey `json:"pendingKeys"`
}

// Invitation bundles what the new principal receives out of band: the
// lock to contact, the pending invitation, and the one-time secret
// that decrypts and confirms it.
type Invitation struct {
	Lock    uuid.UUID   `json:"lock"`
	NewKey  lock.NewKey `json:"newKey"`
	Secret  lock.Secret `json:"secret"`
	LockURL string      `json:"lockURL,omitempty"`
}

// NewInvitation generates the invitation and its one-time secret in
// one step. ttl <= 0 selects lock.DefaultInvitationTTL.
func NewInvitation(lockID uuid.UUID, name string, permission lock.Permission, clk clock.Clock, ttl time.Duration) (Invitation, error) {
	secret, err := lock.NewSecret()
	if err != nil {
		return Invitation{}, err
	}
	newKey, err := lock.NewInvitation(name, permission, clk.Now().UTC(), ttl)
	if err != nil {
		return Invitation{}, err
	}
	return Invitation{Lock: lockID, NewKey: newKey, Secret: secret}, nil
}
