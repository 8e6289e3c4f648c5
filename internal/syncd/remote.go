package syncd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"lockd/internal/lock"
)

// ErrNotFound is returned when the remote holds no snapshot for the
// requested identifier.
var ErrNotFound = errors.New("no remote snapshot")

// RecordType tags the individual record classes mirrored to the
// remote alongside the snapshot.
type RecordType string

const (
	RecordEvent  RecordType = "event"
	RecordKey    RecordType = "key"
	RecordNewKey RecordType = "newKey"
)

// RemoteStore is a dumb shared shelf for application data snapshots
// and individual records. It never merges; the engine does that
// locally before saving.
type RemoteStore interface {
	Fetch(ctx context.Context, id uuid.UUID) (lock.ApplicationData, error)
	Save(ctx context.Context, data lock.ApplicationData) error

	// HasRecord reports whether the remote already holds the record.
	HasRecord(ctx context.Context, typ RecordType, id uuid.UUID) (bool, error)
	// SaveRecord uploads one record payload keyed by type and
	// identifier.
	SaveRecord(ctx context.Context, typ RecordType, id uuid.UUID, payload []byte) error
}

// MemoryRemote is an in-process remote store for tests.
type MemoryRemote struct {
	mu      sync.Mutex
	data    map[uuid.UUID]lock.ApplicationData
	records map[RecordType]map[uuid.UUID][]byte
}

func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		data:    make(map[uuid.UUID]lock.ApplicationData),
		records: make(map[RecordType]map[uuid.UUID][]byte),
	}
}

func (r *MemoryRemote) Fetch(ctx context.Context, id uuid.UUID) (lock.ApplicationData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.data[id]
	if !ok {
		return lock.ApplicationData{}, ErrNotFound
	}
	return data, nil
}

func (r *MemoryRemote) Save(ctx context.Context, data lock.ApplicationData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[data.Identifier] = data
	return nil
}

func (r *MemoryRemote) HasRecord(ctx context.Context, typ RecordType, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.records[typ][id]
	return ok, nil
}

func (r *MemoryRemote) SaveRecord(ctx context.Context, typ RecordType, id uuid.UUID, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.records[typ] == nil {
		r.records[typ] = make(map[uuid.UUID][]byte)
	}
	r.records[typ][id] = payload
	return nil
}

// FileRemote stores one JSON snapshot per identifier in a directory,
// typically a mounted share the devices rendezvous on. Individual
// records live under records/<type>/. Writes go through a temp file
// and rename so a crashed writer never leaves a torn snapshot.
type FileRemote struct {
	dir string
}

func NewFileRemote(dir string) (*FileRemote, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create remote directory: %w", err)
	}
	return &FileRemote{dir: dir}, nil
}

func (r *FileRemote) path(id uuid.UUID) string {
	return filepath.Join(r.dir, id.String()+".json")
}

func (r *FileRemote) recordPath(typ RecordType, id uuid.UUID) string {
	return filepath.Join(r.dir, "records", string(typ), id.String()+".json")
}

func (r *FileRemote) Fetch(ctx context.Context, id uuid.UUID) (lock.ApplicationData, error) {
	raw, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return lock.ApplicationData{}, ErrNotFound
		}
		return lock.ApplicationData{}, fmt.Errorf("failed to read remote snapshot: %w", err)
	}

	var data lock.ApplicationData
	if err := json.Unmarshal(raw, &data); err != nil {
		return lock.ApplicationData{}, fmt.Errorf("corrupt remote snapshot: %w", err)
	}
	return data, nil
}

func (r *FileRemote) Save(ctx context.Context, data lock.ApplicationData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return r.write(r.path(data.Identifier), raw)
}

func (r *FileRemote) HasRecord(ctx context.Context, typ RecordType, id uuid.UUID) (bool, error) {
	if _, err := os.Stat(r.recordPath(typ, id)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat remote record: %w", err)
	}
	return true, nil
}

func (r *FileRemote) SaveRecord(ctx context.Context, typ RecordType, id uuid.UUID, payload []byte) error {
	path := r.recordPath(typ, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}
	return r.write(path, payload)
}

func (r *FileRemote) write(path string, raw []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish remote file: %w", err)
	}
	return nil
}
