package lock

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags an entry in the lock's event log.
type EventType string

const (
	EventSetup         EventType = "setup"
	EventUnlock        EventType = "unlock"
	EventCreateNewKey  EventType = "createNewKey"
	EventConfirmNewKey EventType = "confirmNewKey"
	EventRemoveKey     EventType = "removeKey"
)

// Event records one state transition at the authority. Key is the key
// that performed the operation; NewKey, when set, is the invitation the
// operation acted on.
type Event struct {
	Identifier uuid.UUID  `json:"identifier" db:"identifier"`
	Date       time.Time  `json:"date" db:"date"`
	Type       EventType  `json:"type" db:"type"`
	Key        uuid.UUID  `json:"key" db:"key"`
	NewKey     *uuid.UUID `json:"newKey,omitempty" db:"new_key"`
}

// NewEvent builds a log entry with a fresh identifier.
func NewEvent(typ EventType, date time.Time, key uuid.UUID, newKey *uuid.UUID) Event {
	return Event{
		Identifier: uuid.New(),
		Date:       date,
		Type:       typ,
		Key:        key,
		NewKey:     newKey,
	}
}
