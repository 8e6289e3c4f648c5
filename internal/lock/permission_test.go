package lock

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestPermissionCapabilities(t *testing.T) {
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	if !Admin().CanManageKeys() {
		t.Error("admin should manage keys")
	}
	if Anytime().CanManageKeys() {
		t.Error("anytime should not manage keys")
	}
	if !Anytime().CanUnlock(at, time.UTC) {
		t.Error("anytime should unlock")
	}

	scheduled := Scheduled(weekdaySchedule(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))
	if scheduled.CanManageKeys() {
		t.Error("scheduled should not manage keys")
	}
	if !scheduled.CanUnlock(at, time.UTC) {
		t.Error("scheduled should unlock inside its window")
	}
	if scheduled.CanUnlock(time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC), time.UTC) {
		t.Error("scheduled should not unlock outside its window")
	}
}

func TestPermissionZeroValueDeniesEverything(t *testing.T) {
	var p Permission
	if p.CanManageKeys() {
		t.Error("zero permission should not manage keys")
	}
	if p.CanUnlock(time.Now(), time.UTC) {
		t.Error("zero permission should not unlock")
	}
}

func TestPermissionJSONRoundTrip(t *testing.T) {
	perms := []Permission{
		Admin(),
		Anytime(),
		Scheduled(weekdaySchedule(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))),
	}

	for _, p := range perms {
		raw, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal %s: %v", p.Type(), err)
		}
		var got Permission
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", p.Type(), err)
		}
		if got.Type() != p.Type() {
			t.Errorf("round trip changed type: %s -> %s", p.Type(), got.Type())
		}
		if p.Type() == PermissionScheduled {
			s, ok := got.Schedule()
			if !ok {
				t.Fatal("scheduled permission lost its schedule")
			}
			if len(s.Windows) != 1 || !s.Expiry.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
				t.Error("schedule content changed in round trip")
			}
		}
	}
}

func TestPermissionJSONRejectsBadShapes(t *testing.T) {
	var p Permission
	if err := json.Unmarshal([]byte(`{"type":"scheduled"}`), &p); err == nil {
		t.Error("expected error for scheduled permission without schedule")
	}
	if err := json.Unmarshal([]byte(`{"type":"anytime","schedule":{"expiry":"2027-01-01T00:00:00Z"}}`), &p); err == nil {
		t.Error("expected error for anytime permission with schedule")
	}
	if err := json.Unmarshal([]byte(`{"type":"sudo"}`), &p); err == nil {
		t.Error("expected error for unknown permission type")
	}
}

func TestInvitationNeverGrantsOwner(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := NewInvitation("Mallory", ownerPermission(), now, DefaultInvitationTTL)
	if !errors.Is(err, ErrOwnerNotGrantable) {
		t.Fatalf("expected ErrOwnerNotGrantable, got %v", err)
	}

	inv, err := NewInvitation("Bob", Anytime(), now, DefaultInvitationTTL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inv.Expiration.Equal(now.Add(DefaultInvitationTTL)) {
		t.Errorf("expiration = %v, want created + TTL", inv.Expiration)
	}
	if inv.Expired(now.Add(DefaultInvitationTTL - time.Second)) {
		t.Error("invitation expired too early")
	}
	if !inv.Expired(now.Add(DefaultInvitationTTL)) {
		t.Error("invitation should expire at the deadline")
	}
}
