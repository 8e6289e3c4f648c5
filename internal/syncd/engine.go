// Background reconciliation between a device's local store and a
// shared remote snapshot.
package syncd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"lockd/internal/clock"
	"lockd/internal/lock"
)

// Engine periodically merges the local store with the remote snapshot.
// Fetching happens outside the store lock; installation goes through
// the store's compare-and-swap so edits made during the merge are
// never silently overwritten, the round simply retries.
type Engine struct {
	store    *lock.Store
	remote   RemoteStore
	clk      clock.Clock
	resolve  lock.ConflictFunc
	interval time.Duration
	logger   *slog.Logger
}

func NewEngine(store *lock.Store, remote RemoteStore, clk clock.Clock, resolve lock.ConflictFunc, interval time.Duration) *Engine {
	return &Engine{
		store:    store,
		remote:   remote,
		clk:      clk,
		resolve:  resolve,
		interval: interval,
		logger:   slog.With("component", "sync"),
	}
}

// Sync runs one reconciliation round. Cancelling the context before
// installation leaves local state untouched.
func (e *Engine) Sync(ctx context.Context) error {
	snapshot := e.store.Snapshot()

	remote, err := e.remote.Fetch(ctx, snapshot.Identifier)
	if errors.Is(err, ErrNotFound) {
		// First publication of this aggregate.
		if err := e.remote.Save(ctx, snapshot); err != nil {
			return err
		}
		return e.uploadRecords(ctx, snapshot)
	}
	if err != nil {
		return err
	}

	// Already reconciled, nothing to install or publish; records may
	// still need mirroring after an interrupted round.
	if snapshot.Updated.Equal(remote.Updated) && lock.Equivalent(snapshot, remote) {
		return e.uploadRecords(ctx, snapshot)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	merged, err := lock.Merge(snapshot, remote, e.clk.Now(), e.resolve)
	if err != nil {
		return err
	}

	if err := e.store.Replace(ctx, snapshot.Updated, merged); err != nil {
		return err
	}

	// Publish what the store actually committed; commit may have
	// nudged the timestamp.
	committed := e.store.Snapshot()
	if err := e.remote.Save(ctx, committed); err != nil {
		return err
	}
	return e.uploadRecords(ctx, committed)
}

// uploadRecords mirrors individual records to the remote, newest
// first per record type, stopping at the first one the remote already
// holds. Everything older was mirrored by an earlier round.
func (e *Engine) uploadRecords(ctx context.Context, data lock.ApplicationData) error {
	events := append([]lock.Event(nil), data.Events...)
	sort.Slice(events, func(i, j int) bool { return events[i].Date.After(events[j].Date) })
	for _, ev := range events {
		stop, err := e.uploadRecord(ctx, RecordEvent, ev.Identifier, ev)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}

	keys := append([]lock.Key(nil), data.Keys...)
	sort.Slice(keys, func(i, j int) bool { return keys[i].Created.After(keys[j].Created) })
	for _, k := range keys {
		stop, err := e.uploadRecord(ctx, RecordKey, k.Identifier, k)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}

	pending := append([]lock.NewKey(nil), data.PendingKeys...)
	sort.Slice(pending, func(i, j int) bool { return pending[i].Created.After(pending[j].Created) })
	for _, nk := range pending {
		stop, err := e.uploadRecord(ctx, RecordNewKey, nk.Identifier, nk)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return nil
}

func (e *Engine) uploadRecord(ctx context.Context, typ RecordType, id uuid.UUID, record any) (stop bool, err error) {
	seen, err := e.remote.HasRecord(ctx, typ, id)
	if err != nil {
		return false, err
	}
	if seen {
		return true, nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s record %s: %w", typ, id, err)
	}
	return false, e.remote.SaveRecord(ctx, typ, id, payload)
}

// Run loops Sync until the context is cancelled. A stale snapshot is
// normal contention and logged at debug; everything else is an error
// the next round may recover from.
func (e *Engine) Run(ctx context.Context) {
	tick, stop := e.clk.NewTicker(e.interval)
	defer stop()

	e.logger.Info("Sync engine started", "interval", e.interval)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Sync engine stopped")
			return
		case <-tick:
			if err := e.Sync(ctx); err != nil {
				switch {
				case errors.Is(err, lock.ErrStaleSnapshot):
					e.logger.Debug("Local state changed during sync, retrying next round")
				case errors.Is(err, lock.ErrUnresolvedConflict):
					e.logger.Warn("Sync aborted on unresolved conflict")
				case errors.Is(err, context.Canceled):
					// Shutdown race, handled by ctx.Done above.
				default:
					e.logger.Error("Sync round failed", "error", err)
				}
			}
		}
	}
}
