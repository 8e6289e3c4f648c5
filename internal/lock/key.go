package lock

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SecretSize is the length in bytes of every symmetric key secret.
const SecretSize = 32

// Secret is a symmetric key secret. It never transits in cleartext
// once issued; only the first issuance carries one, inside an
// encrypted envelope.
type Secret []byte

// NewSecret generates a fresh random secret.
func NewSecret() (Secret, error) {
	s := make(Secret, SecretSize)
	if _, err := rand.Read(s); err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}
	return s, nil
}

// Validate checks the secret length.
func (s Secret) Validate() error {
	if len(s) != SecretSize {
		return fmt.Errorf("secret is %d bytes, want %d", len(s), SecretSize)
	}
	return nil
}

// KeyCredentials is the root of trust for one principal's access: a
// key identifier plus its symmetric secret.
type KeyCredentials struct {
	Identifier uuid.UUID `json:"identifier"`
	Secret     Secret    `json:"secret"`
}

// Key is a confirmed, active grant. Immutable once confirmed except
// for revocation, which removes it from ApplicationData.
type Key struct {
	Identifier uuid.UUID  `json:"identifier" db:"identifier"`
	Name       string     `json:"name" db:"name"`
	Created    time.Time  `json:"created" db:"created"`
	Permission Permission `json:"permission"`
}

// NewKey is a pending invitation: a time-bounded offer of access that
// has not yet been confirmed into a Key.
type NewKey struct {
	Identifier uuid.UUID  `json:"identifier" db:"identifier"`
	Name       string     `json:"name" db:"name"`
	Permission Permission `json:"permission"`
	Created    time.Time  `json:"created" db:"created"`
	Expiration time.Time  `json:"expiration" db:"expiration"`
}

// DefaultInvitationTTL bounds how long an invitation stays
// confirmable.
const DefaultInvitationTTL = 24 * time.Hour

var errEmptyKeyName = errors.New("key name must not be empty")

// NewInvitation builds a pending invitation for the given permission.
// Owner permission is rejected: the single owner key is minted at
// setup and never by request.
func NewInvitation(name string, permission Permission, created time.Time, ttl time.Duration) (NewKey, error) {
	if permission.Type() == PermissionOwner {
		return NewKey{}, ErrOwnerNotGrantable
	}
	if name == "" {
		return NewKey{}, errEmptyKeyName
	}
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	return NewKey{
		Identifier: uuid.New(),
		Name:       name,
		Permission: permission,
		Created:    created,
		Expiration: created.Add(ttl),
	}, nil
}

// NewOwnerKey mints the owner key. Only lock setup calls this; owner
// permission is deliberately unreachable from the invitation path.
func NewOwnerKey(name string, created time.Time) Key {
	return Key{
		Identifier: uuid.New(),
		Name:       name,
		Created:    created,
		Permission: ownerPermission(),
	}
}

// Expired reports whether the invitation can no longer be confirmed.
func (k NewKey) Expired(now time.Time) bool {
	return !now.Before(k.Expiration)
}

// Confirm converts the invitation into an active Key. The caller is
// responsible for the expiry check; see Authority.ConfirmNewKey.
func (k NewKey) Confirm() Key {
	return Key{
		Identifier: k.Identifier,
		Name:       k.Name,
		Created:    k.Created,
		Permission: k.Permission,
	}
}
