package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lockd/internal/auth"
	"lockd/internal/clock"
	"lockd/internal/crypto"
	"lockd/internal/lock"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnknownOrExpiredInvitation covers a confirmation race, a
	// stale invitation and an unknown identifier alike; the caller may
	// request a fresh invitation.
	ErrUnknownOrExpiredInvitation = errors.New("unknown or expired invitation")
	ErrKeyAlreadyExists           = errors.New("key identifier already active")
	ErrOwnerNotRemovable          = errors.New("owner key cannot be removed")
)

// Authority is the principal holding the canonical key set for one
// lock. It adjudicates every privileged request: header verification,
// permission enforcement, and the pending→active invitation commit.
type Authority struct {
	lockID   uuid.UUID
	store    *lock.Store
	verifier *auth.Verifier
	clk      clock.Clock
	loc      *time.Location
	logger   *slog.Logger
}

// NewAuthority builds an authority around a store. loc is the lock's
// time zone for schedule evaluation; nil means UTC.
func NewAuthority(lockID uuid.UUID, store *lock.Store, verifier *auth.Verifier, clk clock.Clock, loc *time.Location) *Authority {
	if loc == nil {
		loc = time.UTC
	}
	return &Authority{
		lockID:   lockID,
		store:    store,
		verifier: verifier,
		clk:      clk,
		loc:      loc,
		logger:   slog.With("component", "authority", "lock", lockID.String()),
	}
}

func (a *Authority) LockID() uuid.UUID { return a.lockID }

// Setup mints the single owner key. It fails if any key already
// exists: exactly one owner per lock, created once.
func (a *Authority) Setup(ctx context.Context, lockName, ownerName string) (lock.KeyCredentials, error) {
	secret, err := lock.NewSecret()
	if err != nil {
		return lock.KeyCredentials{}, err
	}
	now := a.clk.Now().UTC()
	owner := lock.NewOwnerKey(ownerName, now)

	// Key and secret land in one commit: an owner key without its
	// secret would brick the lock.
	err = a.store.Apply(ctx, lock.Change{
		Data: func(d *lock.ApplicationData) error {
			if len(d.Keys) > 0 {
				return errors.New("lock is already set up")
			}
			d.AddKey(owner)
			d.Locks = append(d.Locks, lock.LockRecord{Identifier: a.lockID, Name: lockName, Key: owner.Identifier})
			d.AppendEvent(lock.NewEvent(lock.EventSetup, now, owner.Identifier, nil))
			return nil
		},
		SetSecrets: map[uuid.UUID]lock.Secret{owner.Identifier: secret},
	})
	if err != nil {
		return lock.KeyCredentials{}, err
	}
	a.logger.Info("Lock set up", "owner", owner.Identifier.String())
	return lock.KeyCredentials{Identifier: owner.Identifier, Secret: secret}, nil
}

// authenticate verifies the header against the sender's stored secret
// and returns the sender's active key. Authorization failures and
// unknown keys both abort the request with no state change.
func (a *Authority) authenticate(ctx context.Context, header auth.Header) (lock.Key, error) {
	data := a.store.Snapshot()
	key, ok := data.KeyByID(header.Identifier)
	if !ok {
		return lock.Key{}, fmt.Errorf("%w: %s", lock.ErrKeyNotFound, header.Identifier)
	}
	secret, err := a.store.Secret(header.Identifier)
	if err != nil {
		return lock.Key{}, err
	}
	if err := a.verifier.Verify(ctx, header, secret); err != nil {
		return lock.Key{}, err
	}
	return key, nil
}

// ProvisionOneTimeSecret makes the one-time secret of an upcoming
// invitation known to the authority, keyed by the credential
// identifier. This is the "pre-shared alongside the identifier" step
// of the issuance protocol.
func (a *Authority) ProvisionOneTimeSecret(ctx context.Context, id uuid.UUID, secret lock.Secret) error {
	return a.store.SetSecret(ctx, id, secret)
}

// CreateNewKey handles an invitation transfer. The sender must hold
// an owner or admin key; the envelope must open under the pre-shared
// one-time secret of the credential being granted. On success exactly
// one pending invitation exists for the identifier; on any failure no
// state changes.
func (a *Authority) CreateNewKey(ctx context.Context, header auth.Header, req CreateNewKeyRequest) error {
	sender, err := a.authenticate(ctx, header)
	if err != nil {
		return err
	}
	if !sender.Permission.CanManageKeys() {
		return fmt.Errorf("%w: %s key may not create keys", ErrPermissionDenied, sender.Permission.Type())
	}

	oneTime, err := a.store.Secret(req.Target)
	if err != nil {
		// No pre-shared secret means the envelope cannot be opened.
		return crypto.ErrDecryptionFailed
	}
	var invitation lock.NewKey
	if err := crypto.DecryptJSON(req.Envelope, oneTime, &invitation); err != nil {
		return err
	}
	if invitation.Identifier != req.Target {
		return crypto.ErrDecryptionFailed
	}
	if invitation.Permission.Type() == lock.PermissionOwner {
		return lock.ErrOwnerNotGrantable
	}

	now := a.clk.Now().UTC()
	err = a.store.Mutate(ctx, func(d *lock.ApplicationData) error {
		if _, active := d.KeyByID(invitation.Identifier); active {
			return fmt.Errorf("%w: %s", ErrKeyAlreadyExists, invitation.Identifier)
		}
		// Re-receiving the same identifier overwrites, not duplicates.
		d.SetPending(invitation)
		id := invitation.Identifier
		d.AppendEvent(lock.NewEvent(lock.EventCreateNewKey, now, sender.Identifier, &id))
		return nil
	})
	if err != nil {
		return err
	}
	a.logger.Info("Stored pending invitation",
		"invitation", invitation.Identifier.String(),
		"permission", string(invitation.Permission.Type()),
		"sender", sender.Identifier.String())
	return nil
}

// ConfirmNewKey commits a pending invitation into an active key. The
// header is signed with the one-time credential; the envelope carries
// the rotated final secret. The pending→active transition happens
// exactly once per identifier: a duplicate confirmation finds no
// pending entry and is rejected, not reapplied.
func (a *Authority) ConfirmNewKey(ctx context.Context, header auth.Header, req ConfirmNewKeyRequest) (lock.Key, error) {
	data := a.store.Snapshot()
	pending, ok := data.PendingByID(header.Identifier)
	if !ok {
		return lock.Key{}, ErrUnknownOrExpiredInvitation
	}

	oneTime, err := a.store.Secret(header.Identifier)
	if err != nil {
		return lock.Key{}, ErrUnknownOrExpiredInvitation
	}
	if err := a.verifier.Verify(ctx, header, oneTime); err != nil {
		return lock.Key{}, err
	}

	now := a.clk.Now().UTC()
	if pending.Expired(now) {
		return lock.Key{}, ErrUnknownOrExpiredInvitation
	}

	var payload ConfirmNewKeyPayload
	if err := crypto.DecryptJSON(req.Envelope, oneTime, &payload); err != nil {
		return lock.Key{}, err
	}
	if payload.NewKey != pending.Identifier {
		return lock.Key{}, crypto.ErrDecryptionFailed
	}
	if err := payload.FinalSecret.Validate(); err != nil {
		return lock.Key{}, fmt.Errorf("confirmation secret: %w", err)
	}

	// The pending→active transition and the secret rotation commit
	// together; a confirmed key must never authenticate with the
	// one-time transport secret.
	key := pending.Confirm()
	err = a.store.Apply(ctx, lock.Change{
		Data: func(d *lock.ApplicationData) error {
			if !d.RemovePending(pending.Identifier) {
				// Lost a race with another confirmation.
				return ErrUnknownOrExpiredInvitation
			}
			if _, active := d.KeyByID(key.Identifier); active {
				return ErrUnknownOrExpiredInvitation
			}
			d.AddKey(key)
			id := pending.Identifier
			d.AppendEvent(lock.NewEvent(lock.EventConfirmNewKey, now, key.Identifier, &id))
			return nil
		},
		SetSecrets: map[uuid.UUID]lock.Secret{key.Identifier: payload.FinalSecret},
	})
	if err != nil {
		return lock.Key{}, err
	}
	a.logger.Info("Confirmed key", "key", key.Identifier.String(), "permission", string(key.Permission.Type()))
	return key, nil
}

// Unlock performs the unlock-class permission check: owner, admin and
// anytime always pass; scheduled keys pass only while their schedule
// is currently valid, evaluated at verification time in the lock's
// time zone.
func (a *Authority) Unlock(ctx context.Context, header auth.Header) error {
	key, err := a.authenticate(ctx, header)
	if err != nil {
		return err
	}
	now := a.clk.Now()
	if !key.Permission.CanUnlock(now, a.loc) {
		return fmt.Errorf("%w: schedule does not permit unlock", ErrPermissionDenied)
	}
	return a.store.Mutate(ctx, func(d *lock.ApplicationData) error {
		d.AppendEvent(lock.NewEvent(lock.EventUnlock, now.UTC(), key.Identifier, nil))
		return nil
	})
}

// ListKeys returns the key roster sealed under the requester's
// secret. Key management permission is required.
func (a *Authority) ListKeys(ctx context.Context, header auth.Header) (crypto.Envelope, error) {
	key, err := a.authenticate(ctx, header)
	if err != nil {
		return crypto.Envelope{}, err
	}
	if !key.Permission.CanManageKeys() {
		return crypto.Envelope{}, fmt.Errorf("%w: %s key may not list keys", ErrPermissionDenied, key.Permission.Type())
	}
	secret, err := a.store.Secret(key.Identifier)
	if err != nil {
		return crypto.Envelope{}, err
	}
	data := a.store.Snapshot()
	return crypto.EncryptJSON(KeyListing{Keys: data.Keys, PendingKeys: data.PendingKeys}, secret)
}

// RemoveKey revokes an active key or a pending invitation. The owner
// key itself is not removable.
func (a *Authority) RemoveKey(ctx context.Context, header auth.Header, target uuid.UUID) error {
	sender, err := a.authenticate(ctx, header)
	if err != nil {
		return err
	}
	if !sender.Permission.CanManageKeys() {
		return fmt.Errorf("%w: %s key may not remove keys", ErrPermissionDenied, sender.Permission.Type())
	}

	now := a.clk.Now().UTC()
	err = a.store.Apply(ctx, lock.Change{
		Data: func(d *lock.ApplicationData) error {
			if key, ok := d.KeyByID(target); ok {
				if key.Permission.Type() == lock.PermissionOwner {
					return ErrOwnerNotRemovable
				}
				d.RemoveKey(target)
			} else if !d.RemovePending(target) {
				return fmt.Errorf("%w: %s", lock.ErrKeyNotFound, target)
			}
			id := target
			d.AppendEvent(lock.NewEvent(lock.EventRemoveKey, now, sender.Identifier, &id))
			return nil
		},
		DeleteSecrets: []uuid.UUID{target},
	})
	if err != nil {
		return err
	}
	a.logger.Info("Removed key", "key", target.String(), "by", sender.Identifier.String())
	return nil
}
