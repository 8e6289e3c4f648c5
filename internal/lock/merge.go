package lock

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrIncompatibleData means the two snapshots do not descend from
	// the same install and can never be merged.
	ErrIncompatibleData = errors.New("application data snapshots are not compatible")
	// ErrUnresolvedConflict means the merge was ambiguous and the
	// conflict resolver aborted; both snapshots are untouched.
	ErrUnresolvedConflict = errors.New("unresolved application data conflict")
)

// Resolution is the answer of a conflict resolver.
type Resolution int

const (
	// Abort halts the sync and leaves both snapshots untouched.
	Abort Resolution = iota
	// KeepLocal discards the remote snapshot.
	KeepLocal
	// TakeRemote overwrites local state with the remote snapshot.
	TakeRemote
)

// ConflictFunc decides a merge the automatic rules cannot. The engine
// is agnostic to how, or whether, a human is consulted. A nil
// ConflictFunc always aborts.
type ConflictFunc func(local, remote ApplicationData) Resolution

// Merge deterministically reconciles two snapshots of the same
// aggregate into one. Rules, in order:
//
//  1. Different Identifier or Created: ErrIncompatibleData.
//  2. Equal collections: the snapshot with the larger Updated wins,
//     ties keep local.
//  3. Divergent collections, local strictly newer: local wins (local
//     is authoritative over a provably older remote).
//  4. Divergent collections, remote strictly newer AND every local
//     entry still present in remote: remote is a strict successor and
//     wins without prompting.
//  5. Otherwise the merge is ambiguous and resolve is invoked; Abort
//     surfaces ErrUnresolvedConflict.
//
// On success the result carries Updated = now, the merge completion
// time.
func Merge(local, remote ApplicationData, now time.Time, resolve ConflictFunc) (ApplicationData, error) {
	if local.Identifier != remote.Identifier || !local.Created.Equal(remote.Created) {
		return ApplicationData{}, ErrIncompatibleData
	}

	winner, err := pickWinner(local, remote, resolve)
	if err != nil {
		return ApplicationData{}, err
	}
	winner.Updated = now
	return winner, nil
}

func pickWinner(local, remote ApplicationData, resolve ConflictFunc) (ApplicationData, error) {
	if collectionsEqual(local, remote) {
		if remote.Updated.After(local.Updated) {
			return remote, nil
		}
		return local, nil
	}

	if local.Updated.After(remote.Updated) {
		return local, nil
	}
	if remote.Updated.After(local.Updated) && strictSuccessor(local, remote) {
		return remote, nil
	}

	if resolve == nil {
		return ApplicationData{}, ErrUnresolvedConflict
	}
	switch resolve(local, remote) {
	case KeepLocal:
		return local, nil
	case TakeRemote:
		return remote, nil
	default:
		return ApplicationData{}, ErrUnresolvedConflict
	}
}

// strictSuccessor reports whether every entry of local is still
// present, unmodified, in remote. When it holds, remote only added to
// what local knows and local is provably stale.
func strictSuccessor(local, remote ApplicationData) bool {
	for _, l := range local.Locks {
		if !slices.Contains(remote.Locks, l) {
			return false
		}
	}
	for _, k := range local.Keys {
		if !slices.ContainsFunc(remote.Keys, func(r Key) bool { return keyEqual(k, r) }) {
			return false
		}
	}
	for _, p := range local.PendingKeys {
		if !pendingEqual([]NewKey{p}, pendingMatching(remote.PendingKeys, p.Identifier)) {
			return false
		}
	}
	for _, e := range local.Events {
		if !eventsEqual([]Event{e}, eventsMatching(remote.Events, e.Identifier)) {
			return false
		}
	}
	return true
}

func pendingMatching(in []NewKey, id uuid.UUID) []NewKey {
	for _, k := range in {
		if k.Identifier == id {
			return []NewKey{k}
		}
	}
	return nil
}

func eventsMatching(in []Event, id uuid.UUID) []Event {
	for _, e := range in {
		if e.Identifier == id {
			return []Event{e}
		}
	}
	return nil
}
