package lock

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

var mergeBase = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// testAggregate builds a snapshot with one owner key and its setup
// event, the state every device starts from.
func testAggregate(t *testing.T) ApplicationData {
	t.Helper()
	data := NewApplicationData(mergeBase)
	owner := NewOwnerKey("Owner", mergeBase)
	data.AddKey(owner)
	data.Locks = append(data.Locks, LockRecord{Identifier: uuid.New(), Name: "Front Door", Key: owner.Identifier})
	data.AppendEvent(NewEvent(EventSetup, mergeBase, owner.Identifier, nil))
	return data
}

func addInvitation(t *testing.T, d *ApplicationData, name string, at time.Time) NewKey {
	t.Helper()
	inv, err := NewInvitation(name, Anytime(), at, DefaultInvitationTTL)
	if err != nil {
		t.Fatalf("NewInvitation: %v", err)
	}
	d.SetPending(inv)
	d.AppendEvent(NewEvent(EventCreateNewKey, at, d.Keys[0].Identifier, &inv.Identifier))
	d.Updated = at
	return inv
}

func TestMergeIncompatibleAggregates(t *testing.T) {
	a := testAggregate(t)
	b := testAggregate(t) // fresh identifier and content

	if _, err := Merge(a, b, mergeBase, nil); !errors.Is(err, ErrIncompatibleData) {
		t.Fatalf("expected ErrIncompatibleData, got %v", err)
	}

	// Same identifier, different install time: still incompatible
	c := a
	c.Created = a.Created.Add(time.Hour)
	if _, err := Merge(a, c, mergeBase, nil); !errors.Is(err, ErrIncompatibleData) {
		t.Fatalf("expected ErrIncompatibleData for differing Created, got %v", err)
	}
}

func TestMergeEqualCollectionsKeepsNewerTimestamp(t *testing.T) {
	local := testAggregate(t)
	remote := cloneData(local)
	remote.Updated = local.Updated.Add(time.Minute)

	now := mergeBase.Add(time.Hour)
	merged, err := Merge(local, remote, now, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !Equivalent(merged, local) {
		t.Error("equal-collection merge changed content")
	}
	if !merged.Updated.Equal(now) {
		t.Errorf("merged.Updated = %v, want merge time %v", merged.Updated, now)
	}
}

func TestMergeLocalStrictlyNewerWins(t *testing.T) {
	local := testAggregate(t)
	remote := cloneData(local)

	inv := addInvitation(t, &local, "Bob", mergeBase.Add(time.Minute))

	merged, err := Merge(local, remote, mergeBase.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, ok := merged.PendingByID(inv.Identifier); !ok {
		t.Error("local-only invitation lost in merge")
	}
}

func TestMergeAdoptsStrictSuccessor(t *testing.T) {
	local := testAggregate(t)
	remote := cloneData(local)

	// Remote added an invitation and confirmed nothing was removed:
	// every local entry is still present, so remote is provably ahead.
	inv := addInvitation(t, &remote, "Bob", mergeBase.Add(time.Minute))

	conflictCalled := false
	merged, err := Merge(local, remote, mergeBase.Add(time.Hour), func(l, r ApplicationData) Resolution {
		conflictCalled = true
		return Abort
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if conflictCalled {
		t.Error("strict successor should not consult the conflict resolver")
	}
	if _, ok := merged.PendingByID(inv.Identifier); !ok {
		t.Error("remote invitation missing after merge")
	}
}

func TestMergeDivergenceConsultsResolver(t *testing.T) {
	local := testAggregate(t)
	remote := cloneData(local)

	localInv := addInvitation(t, &local, "Bob", mergeBase.Add(time.Minute))
	remoteInv := addInvitation(t, &remote, "Carol", mergeBase.Add(2*time.Minute))

	// Remote is newer but local has an entry remote lacks: ambiguous.
	merged, err := Merge(local, remote, mergeBase.Add(time.Hour), func(l, r ApplicationData) Resolution {
		return TakeRemote
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, ok := merged.PendingByID(remoteInv.Identifier); !ok {
		t.Error("TakeRemote did not adopt remote state")
	}
	if _, ok := merged.PendingByID(localInv.Identifier); ok {
		t.Error("TakeRemote kept local-only state")
	}

	merged, err = Merge(local, remote, mergeBase.Add(time.Hour), func(l, r ApplicationData) Resolution {
		return KeepLocal
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, ok := merged.PendingByID(localInv.Identifier); !ok {
		t.Error("KeepLocal did not keep local state")
	}
}

func TestMergeAbortLeavesNothingBehind(t *testing.T) {
	local := testAggregate(t)
	remote := cloneData(local)
	addInvitation(t, &local, "Bob", mergeBase.Add(time.Minute))
	addInvitation(t, &remote, "Carol", mergeBase.Add(2*time.Minute))

	if _, err := Merge(local, remote, mergeBase.Add(time.Hour), nil); !errors.Is(err, ErrUnresolvedConflict) {
		t.Fatalf("nil resolver: expected ErrUnresolvedConflict, got %v", err)
	}

	_, err := Merge(local, remote, mergeBase.Add(time.Hour), func(l, r ApplicationData) Resolution {
		return Abort
	})
	if !errors.Is(err, ErrUnresolvedConflict) {
		t.Fatalf("Abort: expected ErrUnresolvedConflict, got %v", err)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	local := testAggregate(t)
	remote := cloneData(local)
	addInvitation(t, &remote, "Bob", mergeBase.Add(time.Minute))

	first, err := Merge(local, remote, mergeBase.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	second, err := Merge(first, remote, mergeBase.Add(2*time.Hour), nil)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if !Equivalent(first, second) {
		t.Error("re-merging the same remote changed the result")
	}
}

func TestMergeOrderInsensitiveCollections(t *testing.T) {
	local := testAggregate(t)
	a, err := NewInvitation("A", Anytime(), mergeBase, DefaultInvitationTTL)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewInvitation("B", Anytime(), mergeBase, DefaultInvitationTTL)
	if err != nil {
		t.Fatal(err)
	}

	left := cloneData(local)
	left.PendingKeys = []NewKey{a, b}
	right := cloneData(local)
	right.PendingKeys = []NewKey{b, a}

	if !Equivalent(left, right) {
		t.Error("collection equality should ignore ordering")
	}
}
