package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"lockd/internal/clock"
)

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrSecretNotFound = errors.New("key secret not found")
	// ErrStaleSnapshot means a compare-and-swap lost against a
	// concurrent local mutation.
	ErrStaleSnapshot = errors.New("application data changed since snapshot")
)

// Persister is the opaque structured-storage collaborator the store
// writes through. One call carries one committed change; the persister
// must apply all of it or none of it. data is nil when only secrets
// changed.
type Persister interface {
	SaveChange(ctx context.Context, data *ApplicationData, setSecrets map[uuid.UUID]Secret, deleteSecrets []uuid.UUID) error
}

// Change is one atomic unit of local mutation: an application data
// edit plus the secret writes that must land with it. Data may be nil
// for a secrets-only change; a nil Data does not bump Updated and does
// not notify subscribers.
type Change struct {
	Data          func(*ApplicationData) error
	SetSecrets    map[uuid.UUID]Secret
	DeleteSecrets []uuid.UUID
}

// Store owns one device's ApplicationData and per-key secrets. All
// local mutation goes through it under a single mutex; subscribers are
// notified synchronously inside the critical section that performed
// the mutation. It replaces any notion of a process-wide shared
// singleton: callers hold an explicit *Store.
type Store struct {
	mu      sync.Mutex
	clk     clock.Clock
	persist Persister
	data    ApplicationData
	secrets map[uuid.UUID]Secret

	subs    map[int]func(ApplicationData)
	nextSub int
}

// NewStore initializes a store around existing application data and
// secrets. persist may be nil for ephemeral stores (tests).
func NewStore(clk clock.Clock, persist Persister, data ApplicationData, secrets map[uuid.UUID]Secret) *Store {
	if secrets == nil {
		secrets = make(map[uuid.UUID]Secret)
	}
	return &Store{
		clk:     clk,
		persist: persist,
		data:    data,
		secrets: secrets,
		subs:    make(map[int]func(ApplicationData)),
	}
}

// Snapshot returns a copy of the current application data.
func (s *Store) Snapshot() ApplicationData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneData(s.data)
}

// Apply commits a change under the store lock. Either the whole
// change lands, in memory and in the persister, or none of it does.
func (s *Store) Apply(ctx context.Context, ch Change) error {
	for id, secret := range ch.SetSecrets {
		if err := secret.Validate(); err != nil {
			return fmt.Errorf("secret for %s: %w", id, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ch.Data == nil {
		if s.persist != nil {
			if err := s.persist.SaveChange(ctx, nil, ch.SetSecrets, ch.DeleteSecrets); err != nil {
				return fmt.Errorf("persisting secrets: %w", err)
			}
		}
		s.applySecretsLocked(ch.SetSecrets, ch.DeleteSecrets)
		return nil
	}

	next := cloneData(s.data)
	if err := ch.Data(&next); err != nil {
		return err
	}
	return s.commitLocked(ctx, next, s.clk.Now(), ch.SetSecrets, ch.DeleteSecrets)
}

// Mutate applies fn to the application data under the store lock,
// bumps Updated, persists and notifies subscribers. If fn returns an
// error nothing is committed.
func (s *Store) Mutate(ctx context.Context, fn func(*ApplicationData) error) error {
	return s.Apply(ctx, Change{Data: fn})
}

// Replace installs merged application data if and only if the local
// copy still matches the snapshot the merge read (compare-and-swap on
// Updated). Secrets for keys dropped by the merge are purged in the
// same commit.
func (s *Store) Replace(ctx context.Context, snapshotUpdated time.Time, merged ApplicationData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.data.Updated.Equal(snapshotUpdated) {
		return ErrStaleSnapshot
	}

	var dropped []uuid.UUID
	for _, k := range s.data.Keys {
		if _, still := merged.KeyByID(k.Identifier); !still {
			dropped = append(dropped, k.Identifier)
		}
	}
	return s.commitLocked(ctx, cloneData(merged), merged.Updated, nil, dropped)
}

func (s *Store) commitLocked(ctx context.Context, next ApplicationData, updated time.Time, set map[uuid.UUID]Secret, del []uuid.UUID) error {
	// Updated strictly increases on every local mutation.
	if !updated.After(s.data.Updated) {
		updated = s.data.Updated.Add(time.Nanosecond)
	}
	next.Updated = updated

	if s.persist != nil {
		if err := s.persist.SaveChange(ctx, &next, set, del); err != nil {
			return fmt.Errorf("persisting change: %w", err)
		}
	}
	s.data = next
	s.applySecretsLocked(set, del)
	for _, notify := range s.subs {
		notify(cloneData(next))
	}
	return nil
}

func (s *Store) applySecretsLocked(set map[uuid.UUID]Secret, del []uuid.UUID) {
	for id, secret := range set {
		s.secrets[id] = secret
	}
	for _, id := range del {
		delete(s.secrets, id)
	}
}

// Secret returns the secret for a key identifier.
func (s *Store) Secret(id uuid.UUID) (Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.secrets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, id)
	}
	return secret, nil
}

// SetSecret stores the secret for a key identifier.
func (s *Store) SetSecret(ctx context.Context, id uuid.UUID, secret Secret) error {
	return s.Apply(ctx, Change{SetSecrets: map[uuid.UUID]Secret{id: secret}})
}

// DeleteSecret removes the secret for a key identifier.
func (s *Store) DeleteSecret(ctx context.Context, id uuid.UUID) error {
	return s.Apply(ctx, Change{DeleteSecrets: []uuid.UUID{id}})
}

// Secrets returns a copy of all stored secrets keyed by identifier.
func (s *Store) Secrets() map[uuid.UUID]Secret {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]Secret, len(s.secrets))
	for id, secret := range s.secrets {
		out[id] = secret
	}
	return out
}

// Subscribe registers a handler invoked synchronously after every
// committed mutation. The returned function cancels the subscription.
func (s *Store) Subscribe(handler func(ApplicationData)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func cloneData(d ApplicationData) ApplicationData {
	out := d
	out.Locks = append([]LockRecord(nil), d.Locks...)
	out.Keys = append([]Key(nil), d.Keys...)
	out.PendingKeys = append([]NewKey(nil), d.PendingKeys...)
	out.Events = append([]Event(nil), d.Events...)
	return out
}
