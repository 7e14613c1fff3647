package attendance

import (
	"time"

	"github.com/google/uuid"
)

// The functions below are the attendance state machine. Each takes the current record (nil
// when the pair has none) and returns the next state; none of them touch storage.
//
//	registered -> attended -> (declared: attended + declaration)
//	any        -> missed | canceled | registered | attended   (override only)

// register returns the record for a new registration. A missed or canceled record for the
// same pair is reopened in place so the pair keeps a single row.
func register(existing *Record, sessionID, personID string, now time.Time) Record {
	if existing != nil {
		next := *existing
		next.Status = StatusRegistered
		next.UpdatedAt = now
		return next
	}
	return Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		PersonID:  personID,
		Status:    StatusRegistered,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// checkIn marks the person present. changed is false when the record was already attended
// and nothing needs writing.
func checkIn(existing *Record, sessionID, personID string, method Method, now time.Time) (next Record, changed bool) {
	if method == "" {
		method = MethodManual
	}
	if existing == nil {
		return walkUp(sessionID, personID, method, now), true
	}
	if existing.Status == StatusAttended {
		return *existing, false
	}
	next = *existing
	next.Status = StatusAttended
	if next.CheckInTime == nil {
		next.CheckInTime = timePtr(now)
	}
	next.Method = methodPtr(method)
	next.UpdatedAt = now
	return next, true
}

// walkUp creates a record for someone who checks in without registering. Capacity is not
// consulted: a person who is physically present is never turned away.
func walkUp(sessionID, personID string, method Method, now time.Time) Record {
	return Record{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		PersonID:    personID,
		Status:      StatusAttended,
		CheckInTime: timePtr(now),
		Method:      methodPtr(method),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// override applies an administrator's manual mark from any prior state, including
// canceled and missed records.
func override(existing *Record, sessionID, personID string, status Status, verifierID, notes string, now time.Time) Record {
	var next Record
	if existing != nil {
		next = *existing
	} else {
		next = Record{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			PersonID:  personID,
			CreatedAt: now,
		}
	}
	next.Status = status
	next.Notes = notes
	next.VerifiedBy = &verifierID
	next.VerifiedAt = timePtr(now)
	if status == StatusAttended && next.CheckInTime == nil {
		next.CheckInTime = timePtr(now)
		next.Method = methodPtr(MethodManual)
	}
	next.UpdatedAt = now
	return next
}

// declare is the transition applied when a declaration is accepted. It never regresses an
// attended record and never replaces an existing check-in time.
func declare(existing Record, now time.Time) (next Record, changed bool) {
	if existing.Status == StatusAttended {
		return existing, false
	}
	next = existing
	next.Status = StatusAttended
	if next.CheckInTime == nil {
		next.CheckInTime = timePtr(now)
	}
	next.Method = methodPtr(MethodSelfDeclared)
	next.UpdatedAt = now
	return next, true
}
