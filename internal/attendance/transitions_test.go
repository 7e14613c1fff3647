package attendance

import (
	"testing"
	"time"
)

func TestRegisterReopensExistingRow(t *testing.T) {
	old := Record{ID: "a1", SessionID: "s1", PersonID: "p1", Status: StatusCanceled, CreatedAt: testNow.Add(-time.Hour)}
	next := register(&old, "s1", "p1", testNow)
	if next.ID != "a1" || next.Status != StatusRegistered {
		t.Fatalf("register = %+v, want a1 registered", next)
	}
	if !next.CreatedAt.Equal(old.CreatedAt) || !next.UpdatedAt.Equal(testNow) {
		t.Fatalf("timestamps = %v/%v", next.CreatedAt, next.UpdatedAt)
	}

	fresh := register(nil, "s1", "p2", testNow)
	if fresh.ID == "" || fresh.Status != StatusRegistered || fresh.CheckInTime != nil {
		t.Fatalf("fresh = %+v", fresh)
	}
}

func TestCheckInTransitions(t *testing.T) {
	walk, changed := checkIn(nil, "s1", "p1", MethodQRCode, testNow)
	if !changed || walk.Status != StatusAttended || *walk.Method != MethodQRCode || !walk.CheckInTime.Equal(testNow) {
		t.Fatalf("walk-up = %+v changed=%v", walk, changed)
	}

	reg := Record{ID: "a1", Status: StatusRegistered}
	next, changed := checkIn(&reg, "s1", "p1", "", testNow)
	if !changed || next.Status != StatusAttended || *next.Method != MethodManual {
		t.Fatalf("registered check-in = %+v", next)
	}

	again, changed := checkIn(&next, "s1", "p1", MethodVirtual, testNow.Add(time.Hour))
	if changed {
		t.Fatal("repeat check-in reported a change")
	}
	if !again.CheckInTime.Equal(testNow) || *again.Method != MethodManual {
		t.Fatalf("repeat check-in rewrote the record: %+v", again)
	}
}

func TestOverrideIgnoresPriorState(t *testing.T) {
	canceled := Record{ID: "a1", SessionID: "s1", PersonID: "p1", Status: StatusCanceled, Notes: "old"}
	next := override(&canceled, "s1", "p1", StatusAttended, "admin", "was there", testNow)
	if next.Status != StatusAttended || next.Notes != "was there" {
		t.Fatalf("override = %+v", next)
	}
	if next.VerifiedBy == nil || *next.VerifiedBy != "admin" || !next.VerifiedAt.Equal(testNow) {
		t.Fatalf("verifier not stamped: %+v", next)
	}
	if next.CheckInTime == nil || *next.Method != MethodManual {
		t.Fatalf("attended override without check-in time: %+v", next)
	}

	missed := override(&next, "s1", "p1", StatusMissed, "admin", "", testNow.Add(time.Hour))
	if missed.Status != StatusMissed || !missed.CheckInTime.Equal(testNow) {
		t.Fatalf("missed override = %+v", missed)
	}

	created := override(nil, "s1", "p9", StatusRegistered, "admin", "", testNow)
	if created.ID == "" || created.PersonID != "p9" || created.CheckInTime != nil {
		t.Fatalf("created = %+v", created)
	}
}

func TestDeclareKeepsCheckInTime(t *testing.T) {
	checked := testNow.Add(-2 * time.Hour)
	rec := Record{Status: StatusAttended, CheckInTime: &checked, Method: methodPtr(MethodQRCode)}
	next, changed := declare(rec, testNow)
	if changed || *next.Method != MethodQRCode || !next.CheckInTime.Equal(checked) {
		t.Fatalf("declare on attended = %+v changed=%v", next, changed)
	}

	// a missed record with a stale check-in keeps its original time
	missed := Record{Status: StatusMissed, CheckInTime: &checked}
	next, changed = declare(missed, testNow)
	if !changed || next.Status != StatusAttended || *next.Method != MethodSelfDeclared {
		t.Fatalf("declare on missed = %+v", next)
	}
	if !next.CheckInTime.Equal(checked) {
		t.Fatalf("check-in time = %v, want %v", next.CheckInTime, checked)
	}

	reg := Record{Status: StatusRegistered}
	next, _ = declare(reg, testNow)
	if next.CheckInTime == nil || !next.CheckInTime.Equal(testNow) {
		t.Fatalf("declare on registered check-in = %v", next.CheckInTime)
	}
}
