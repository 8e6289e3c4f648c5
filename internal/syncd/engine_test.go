package syncd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"lockd/internal/clock"
	"lockd/internal/lock"
)

var syncEpoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// countingRemote wraps MemoryRemote and records how many snapshots
// were published.
type countingRemote struct {
	*MemoryRemote
	saves int
}

func (r *countingRemote) Save(ctx context.Context, data lock.ApplicationData) error {
	r.saves++
	return r.MemoryRemote.Save(ctx, data)
}

// baseData builds one aggregate with an owner key. Two stores seeded
// from the same return value model two devices of the same lock.
func baseData(t *testing.T) lock.ApplicationData {
	t.Helper()
	d := lock.NewApplicationData(syncEpoch)
	owner := lock.NewOwnerKey("alice", syncEpoch)
	d.AddKey(owner)
	d.Locks = append(d.Locks, lock.LockRecord{Identifier: uuid.New(), Name: "Front Door", Key: owner.Identifier})
	return d
}

func addPending(t *testing.T, ctx context.Context, store *lock.Store, clk *clock.FakeClock, name string) lock.NewKey {
	t.Helper()
	invitation, err := lock.NewInvitation(name, lock.Anytime(), clk.Now(), 0)
	if err != nil {
		t.Fatal(err)
	}
	err = store.Mutate(ctx, func(d *lock.ApplicationData) error {
		d.SetPending(invitation)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return invitation
}

func TestSyncFirstPublication(t *testing.T) {
	clk := clock.Fake(syncEpoch)
	ctx := context.Background()
	store := lock.NewStore(clk, nil, baseData(t), nil)
	remote := &countingRemote{MemoryRemote: NewMemoryRemote()}

	engine := NewEngine(store, remote, clk, nil, time.Minute)
	if err := engine.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if remote.saves != 1 {
		t.Errorf("saves = %d, want 1", remote.saves)
	}

	snapshot := store.Snapshot()
	published, err := remote.Fetch(ctx, snapshot.Identifier)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !published.Updated.Equal(snapshot.Updated) || !lock.Equivalent(published, snapshot) {
		t.Error("published snapshot differs from local state")
	}
}

func TestSyncSkipsWhenAlreadyReconciled(t *testing.T) {
	clk := clock.Fake(syncEpoch)
	ctx := context.Background()
	store := lock.NewStore(clk, nil, baseData(t), nil)
	remote := &countingRemote{MemoryRemote: NewMemoryRemote()}
	engine := NewEngine(store, remote, clk, nil, time.Minute)

	if err := engine.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	before := store.Snapshot().Updated

	if err := engine.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if remote.saves != 1 {
		t.Errorf("saves = %d, want 1 (unchanged state republished)", remote.saves)
	}
	if !store.Snapshot().Updated.Equal(before) {
		t.Error("no-op sync moved the local timestamp")
	}
}

func TestSyncAdoptsStrictSuccessor(t *testing.T) {
	clk := clock.Fake(syncEpoch)
	ctx := context.Background()
	base := baseData(t)
	deviceA := lock.NewStore(clk, nil, base, nil)
	deviceB := lock.NewStore(clk, nil, base, nil)
	remote := NewMemoryRemote()

	clk.Advance(time.Minute)
	invitation := addPending(t, ctx, deviceA, clk, "bob")
	if err := NewEngine(deviceA, remote, clk, nil, time.Minute).Sync(ctx); err != nil {
		t.Fatalf("device A publish: %v", err)
	}

	// B lags strictly behind A, so the remote state wins without any
	// resolver being consulted.
	resolver := func(l, r lock.ApplicationData) lock.Resolution {
		t.Fatal("resolver consulted for a non-ambiguous merge")
		return lock.Abort
	}
	if err := NewEngine(deviceB, remote, clk, resolver, time.Minute).Sync(ctx); err != nil {
		t.Fatalf("device B sync: %v", err)
	}
	if _, ok := deviceB.Snapshot().PendingByID(invitation.Identifier); !ok {
		t.Error("device B did not adopt the remote invitation")
	}
}

func TestSyncConflictAbortChangesNothing(t *testing.T) {
	clk := clock.Fake(syncEpoch)
	ctx := context.Background()
	base := baseData(t)
	deviceA := lock.NewStore(clk, nil, base, nil)
	deviceB := lock.NewStore(clk, nil, base, nil)
	remote := NewMemoryRemote()

	clk.Advance(time.Minute)
	fromA := addPending(t, ctx, deviceA, clk, "bob")
	clk.Advance(time.Minute)
	fromB := addPending(t, ctx, deviceB, clk, "carol")

	if err := NewEngine(deviceA, remote, clk, nil, time.Minute).Sync(ctx); err != nil {
		t.Fatal(err)
	}

	// Divergent histories and a nil resolver: the round aborts.
	err := NewEngine(deviceB, remote, clk, nil, time.Minute).Sync(ctx)
	if !errors.Is(err, lock.ErrUnresolvedConflict) {
		t.Fatalf("expected ErrUnresolvedConflict, got %v", err)
	}

	local := deviceB.Snapshot()
	if _, ok := local.PendingByID(fromB.Identifier); !ok {
		t.Error("aborted sync dropped local state")
	}
	if _, ok := local.PendingByID(fromA.Identifier); ok {
		t.Error("aborted sync adopted remote state")
	}
	published, err := remote.Fetch(ctx, local.Identifier)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := published.PendingByID(fromB.Identifier); ok {
		t.Error("aborted sync published local state")
	}
}

func TestSyncConflictTakeRemote(t *testing.T) {
	clk := clock.Fake(syncEpoch)
	ctx := context.Background()
	base := baseData(t)
	deviceA := lock.NewStore(clk, nil, base, nil)
	deviceB := lock.NewStore(clk, nil, base, nil)
	remote := NewMemoryRemote()

	clk.Advance(time.Minute)
	fromA := addPending(t, ctx, deviceA, clk, "bob")
	clk.Advance(time.Minute)
	fromB := addPending(t, ctx, deviceB, clk, "carol")

	if err := NewEngine(deviceA, remote, clk, nil, time.Minute).Sync(ctx); err != nil {
		t.Fatal(err)
	}

	takeRemote := func(l, r lock.ApplicationData) lock.Resolution { return lock.TakeRemote }
	if err := NewEngine(deviceB, remote, clk, takeRemote, time.Minute).Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	local := deviceB.Snapshot()
	if _, ok := local.PendingByID(fromA.Identifier); !ok {
		t.Error("TakeRemote did not adopt remote state")
	}
	if _, ok := local.PendingByID(fromB.Identifier); ok {
		t.Error("TakeRemote kept local-only state")
	}
}

func TestSyncStaleSnapshotOnConcurrentEdit(t *testing.T) {
	clk := clock.Fake(syncEpoch)
	ctx := context.Background()
	base := baseData(t)
	deviceA := lock.NewStore(clk, nil, base, nil)
	deviceB := lock.NewStore(clk, nil, base, nil)
	remote := NewMemoryRemote()

	clk.Advance(time.Minute)
	addPending(t, ctx, deviceA, clk, "bob")
	if err := NewEngine(deviceA, remote, clk, nil, time.Minute).Sync(ctx); err != nil {
		t.Fatal(err)
	}

	// An edit slips in between the merge read and the installation.
	// The store's compare-and-swap rejects the stale round.
	snapshot := deviceB.Snapshot()
	remoteData, err := remote.Fetch(ctx, snapshot.Identifier)
	if err != nil {
		t.Fatal(err)
	}
	merged, err := lock.Merge(snapshot, remoteData, clk.Now(), nil)
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Second)
	addPending(t, ctx, deviceB, clk, "carol")
	if err := deviceB.Replace(ctx, snapshot.Updated, merged); !errors.Is(err, lock.ErrStaleSnapshot) {
		t.Fatalf("expected ErrStaleSnapshot, got %v", err)
	}
}

func TestSyncMirrorsRecords(t *testing.T) {
	clk := clock.Fake(syncEpoch)
	ctx := context.Background()
	store := lock.NewStore(clk, nil, baseData(t), nil)
	remote := NewMemoryRemote()

	invitation := addPending(t, ctx, store, clk, "bob")
	owner := store.Snapshot().Keys[0]
	if err := store.Mutate(ctx, func(d *lock.ApplicationData) error {
		d.AppendEvent(lock.NewEvent(lock.EventUnlock, clk.Now(), owner.Identifier, nil))
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := NewEngine(store, remote, clk, nil, time.Minute).Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	event := store.Snapshot().Events[0]
	for _, rec := range []struct {
		typ RecordType
		id  uuid.UUID
	}{
		{RecordKey, owner.Identifier},
		{RecordNewKey, invitation.Identifier},
		{RecordEvent, event.Identifier},
	} {
		seen, err := remote.HasRecord(ctx, rec.typ, rec.id)
		if err != nil {
			t.Fatal(err)
		}
		if !seen {
			t.Errorf("%s record %s was not mirrored", rec.typ, rec.id)
		}
	}
}

func TestSyncRecordUploadStopsAtMirrored(t *testing.T) {
	clk := clock.Fake(syncEpoch)
	ctx := context.Background()
	store := lock.NewStore(clk, nil, baseData(t), nil)
	remote := NewMemoryRemote()

	owner := store.Snapshot().Keys[0]
	if err := store.Mutate(ctx, func(d *lock.ApplicationData) error {
		for i := 1; i <= 3; i++ {
			d.AppendEvent(lock.NewEvent(lock.EventUnlock, syncEpoch.Add(time.Duration(i)*time.Minute), owner.Identifier, nil))
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	events := store.Snapshot().Events // appended oldest to newest

	// The middle event is already mirrored: the upload walks newest
	// first, stops there and assumes everything older is present too.
	if err := remote.SaveRecord(ctx, RecordEvent, events[1].Identifier, []byte("{}")); err != nil {
		t.Fatal(err)
	}

	if err := NewEngine(store, remote, clk, nil, time.Minute).Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if seen, _ := remote.HasRecord(ctx, RecordEvent, events[2].Identifier); !seen {
		t.Error("newest event was not uploaded")
	}
	if seen, _ := remote.HasRecord(ctx, RecordEvent, events[0].Identifier); seen {
		t.Error("upload continued past an already-mirrored event")
	}
	// Stopping inside one record type must not skip the others.
	if seen, _ := remote.HasRecord(ctx, RecordKey, owner.Identifier); !seen {
		t.Error("key record was not uploaded after the event walk stopped")
	}
}

func TestFileRemote(t *testing.T) {
	clk := clock.Fake(syncEpoch)
	ctx := context.Background()
	dir := t.TempDir()

	remote, err := NewFileRemote(filepath.Join(dir, "remote"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := remote.Fetch(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty remote: expected ErrNotFound, got %v", err)
	}

	data := baseData(t)
	if err := remote.Save(ctx, data); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := remote.Fetch(ctx, data.Identifier)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Identifier != data.Identifier || !lock.Equivalent(got, data) {
		t.Error("snapshot did not survive the file round trip")
	}

	// A torn or corrupted file is an error, not silent data loss.
	if err := os.WriteFile(filepath.Join(dir, "remote", data.Identifier.String()+".json"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := remote.Fetch(ctx, data.Identifier); err == nil {
		t.Error("corrupt snapshot fetched without error")
	}

	// Records live under records/<type>/ next to the snapshots.
	recordID := uuid.New()
	if seen, err := remote.HasRecord(ctx, RecordEvent, recordID); err != nil || seen {
		t.Errorf("HasRecord on empty remote = %v, %v", seen, err)
	}
	if err := remote.SaveRecord(ctx, RecordEvent, recordID, []byte("{}")); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if seen, err := remote.HasRecord(ctx, RecordEvent, recordID); err != nil || !seen {
		t.Errorf("record did not survive the file round trip: %v, %v", seen, err)
	}

	// An end-to-end round through the engine works on files too.
	store := lock.NewStore(clk, nil, baseData(t), nil)
	if err := NewEngine(store, remote, clk, nil, time.Minute).Sync(ctx); err != nil {
		t.Fatalf("engine over file remote: %v", err)
	}
	owner := store.Snapshot().Keys[0]
	if seen, _ := remote.HasRecord(ctx, RecordKey, owner.Identifier); !seen {
		t.Error("engine did not mirror the key record to the file remote")
	}
}
