package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PermissionType is the access class of a key.
type PermissionType string

const (
	// PermissionOwner is the unrestricted setup key. Exactly one owner
	// key exists per lock and no request path may mint another one.
	PermissionOwner PermissionType = "owner"
	// PermissionAdmin is unrestricted and may create and revoke keys.
	PermissionAdmin PermissionType = "admin"
	// PermissionAnytime is unrestricted but may not manage keys.
	PermissionAnytime PermissionType = "anytime"
	// PermissionScheduled is restricted to a recurring time window.
	PermissionScheduled PermissionType = "scheduled"
)

var ErrOwnerNotGrantable = errors.New("owner permission cannot be granted by request")

// Permission is a tagged union over the four access classes. The zero
// value is invalid; use the constructors. Only PermissionScheduled
// carries a schedule.
type Permission struct {
	typ      PermissionType
	schedule Schedule
}

// ownerPermission is the only way to obtain an owner permission. It is
// unexported so the owner class can only come from lock setup, never
// from an invitation.
func ownerPermission() Permission {
	return Permission{typ: PermissionOwner}
}

func Admin() Permission   { return Permission{typ: PermissionAdmin} }
func Anytime() Permission { return Permission{typ: PermissionAnytime} }

func Scheduled(s Schedule) Permission {
	return Permission{typ: PermissionScheduled, schedule: s}
}

func (p Permission) Type() PermissionType { return p.typ }

// Schedule returns the access schedule and whether one applies.
func (p Permission) Schedule() (Schedule, bool) {
	return p.schedule, p.typ == PermissionScheduled
}

// CanManageKeys reports whether this class may create, list and revoke
// other keys.
func (p Permission) CanManageKeys() bool {
	return p.typ == PermissionOwner || p.typ == PermissionAdmin
}

// CanUnlock reports whether this class grants unlock access at the
// given instant, evaluated in loc. Schedule-restricted keys are checked
// against their window and expiry; all other classes are unrestricted.
func (p Permission) CanUnlock(at time.Time, loc *time.Location) bool {
	switch p.typ {
	case PermissionOwner, PermissionAdmin, PermissionAnytime:
		return true
	case PermissionScheduled:
		return p.schedule.Contains(at, loc)
	default:
		return false
	}
}

type permissionJSON struct {
	Type     PermissionType `json:"type"`
	Schedule *Schedule      `json:"schedule,omitempty"`
}

func (p Permission) MarshalJSON() ([]byte, error) {
	out := permissionJSON{Type: p.typ}
	if p.typ == PermissionScheduled {
		s := p.schedule
		out.Schedule = &s
	}
	return json.Marshal(out)
}

func (p *Permission) UnmarshalJSON(data []byte) error {
	var in permissionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Type {
	case PermissionOwner, PermissionAdmin, PermissionAnytime:
		if in.Schedule != nil {
			return fmt.Errorf("permission %q does not take a schedule", in.Type)
		}
		*p = Permission{typ: in.Type}
	case PermissionScheduled:
		if in.Schedule == nil {
			return errors.New("scheduled permission requires a schedule")
		}
		*p = Permission{typ: in.Type, schedule: *in.Schedule}
	default:
		return fmt.Errorf("unknown permission type %q", in.Type)
	}
	return nil
}
