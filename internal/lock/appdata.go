package lock

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// LockRecord is one known lock in a device's cache: the lock identity,
// a user-chosen display name, and the identifier of the key this
// device holds for it.
type LockRecord struct {
	Identifier uuid.UUID `json:"identifier" db:"identifier"`
	Name       string    `json:"name" db:"name"`
	Key        uuid.UUID `json:"key" db:"key"`
}

// ApplicationData is the aggregate root: the full set of known locks,
// active keys, pending invitations and events, plus a logical version
// timestamp. One device owns an instance for local edits; the merge
// engine is the only code path allowed to combine two instances.
// Updated strictly increases on every local mutation.
type ApplicationData struct {
	Identifier  uuid.UUID    `json:"identifier"`
	Created     time.Time    `json:"created"`
	Updated     time.Time    `json:"updated"`
	Locks       []LockRecord `json:"locks"`
	Keys        []Key        `json:"keys"`
	PendingKeys []NewKey     `json:"pendingKeys"`
	Events      []Event      `json:"events"`
}

// NewApplicationData creates an empty aggregate for a fresh install.
func NewApplicationData(now time.Time) ApplicationData {
	return ApplicationData{
		Identifier: uuid.New(),
		Created:    now,
		Updated:    now,
	}
}

// KeyByID returns the active key with the given identifier.
func (d ApplicationData) KeyByID(id uuid.UUID) (Key, bool) {
	for _, k := range d.Keys {
		if k.Identifier == id {
			return k, true
		}
	}
	return Key{}, false
}

// PendingByID returns the pending invitation with the given
// identifier.
func (d ApplicationData) PendingByID(id uuid.UUID) (NewKey, bool) {
	for _, k := range d.PendingKeys {
		if k.Identifier == id {
			return k, true
		}
	}
	return NewKey{}, false
}

// SetPending stores an invitation, overwriting any existing one with
// the same identifier. Re-receiving the identical invitation is an
// overwrite, not a duplicate.
func (d *ApplicationData) SetPending(invitation NewKey) {
	for i, k := range d.PendingKeys {
		if k.Identifier == invitation.Identifier {
			d.PendingKeys[i] = invitation
			return
		}
	}
	d.PendingKeys = append(d.PendingKeys, invitation)
}

// RemovePending drops the invitation with the given identifier and
// reports whether it was present.
func (d *ApplicationData) RemovePending(id uuid.UUID) bool {
	for i, k := range d.PendingKeys {
		if k.Identifier == id {
			d.PendingKeys = slices.Delete(d.PendingKeys, i, i+1)
			return true
		}
	}
	return false
}

// AddKey inserts an active key. Inserting an identifier that already
// exists is rejected by the caller (see Authority.ConfirmNewKey).
func (d *ApplicationData) AddKey(key Key) {
	d.Keys = append(d.Keys, key)
}

// RemoveKey revokes an active key and reports whether it was present.
func (d *ApplicationData) RemoveKey(id uuid.UUID) bool {
	for i, k := range d.Keys {
		if k.Identifier == id {
			d.Keys = slices.Delete(d.Keys, i, i+1)
			return true
		}
	}
	return false
}

// AppendEvent records a state transition in the event log.
func (d *ApplicationData) AppendEvent(e Event) {
	d.Events = append(d.Events, e)
}

func sortedByID[T any](in []T, id func(T) uuid.UUID) []T {
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b T) int {
		ia, ib := id(a), id(b)
		return slices.Compare(ia[:], ib[:])
	})
	return out
}

func locksEqual(a, b []LockRecord) bool {
	id := func(l LockRecord) uuid.UUID { return l.Identifier }
	return slices.Equal(sortedByID(a, id), sortedByID(b, id))
}

func keysEqual(a, b []Key) bool {
	id := func(k Key) uuid.UUID { return k.Identifier }
	return slices.EqualFunc(sortedByID(a, id), sortedByID(b, id), keyEqual)
}

func keyEqual(a, b Key) bool {
	return a.Identifier == b.Identifier &&
		a.Name == b.Name &&
		a.Created.Equal(b.Created) &&
		permissionEqual(a.Permission, b.Permission)
}

func pendingEqual(a, b []NewKey) bool {
	id := func(k NewKey) uuid.UUID { return k.Identifier }
	return slices.EqualFunc(sortedByID(a, id), sortedByID(b, id), func(a, b NewKey) bool {
		return a.Identifier == b.Identifier &&
			a.Name == b.Name &&
			a.Created.Equal(b.Created) &&
			a.Expiration.Equal(b.Expiration) &&
			permissionEqual(a.Permission, b.Permission)
	})
}

func eventsEqual(a, b []Event) bool {
	id := func(e Event) uuid.UUID { return e.Identifier }
	return slices.EqualFunc(sortedByID(a, id), sortedByID(b, id), func(a, b Event) bool {
		if (a.NewKey == nil) != (b.NewKey == nil) {
			return false
		}
		if a.NewKey != nil && *a.NewKey != *b.NewKey {
			return false
		}
		return a.Identifier == b.Identifier &&
			a.Date.Equal(b.Date) &&
			a.Type == b.Type &&
			a.Key == b.Key
	})
}

func permissionEqual(a, b Permission) bool {
	if a.Type() != b.Type() {
		return false
	}
	sa, oka := a.Schedule()
	sb, _ := b.Schedule()
	if !oka {
		return true
	}
	if !sa.Expiry.Equal(sb.Expiry) || len(sa.Windows) != len(sb.Windows) {
		return false
	}
	for i := range sa.Windows {
		wa, wb := sa.Windows[i], sb.Windows[i]
		if wa.Start != wb.Start || wa.End != wb.End || !slices.Equal(wa.Weekdays, wb.Weekdays) {
			return false
		}
	}
	return true
}

// Equivalent reports whether two snapshots carry the same collections,
// ignoring ordering and the Updated timestamp.
func Equivalent(a, b ApplicationData) bool {
	return collectionsEqual(a, b)
}

// collectionsEqual reports whether every mutable set matches,
// irrespective of ordering and of the Updated timestamp.
func collectionsEqual(a, b ApplicationData) bool {
	return locksEqual(a.Locks, b.Locks) &&
		keysEqual(a.Keys, b.Keys) &&
		pendingEqual(a.PendingKeys, b.PendingKeys) &&
		eventsEqual(a.Events, b.Events)
}
