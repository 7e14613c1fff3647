package attendance

import (
	"fmt"
	"time"
)

// Reserve decides whether a person may take a seat in session. existing is the person's
// current record for the session, if any; occupied is the live count of records holding a
// seat (registered or attended). Reserve has no side effects: callers must run the count,
// this check and the insert inside one Store.Atomic unit so two reservations for the last
// seat cannot both pass.
func Reserve(session Session, existing *Record, occupied int, now time.Time) error {
	if session.Status != SessionScheduled {
		return newError(KindInvalidState, CodeSessionClosed,
			fmt.Sprintf("training session is %s and not open for registration", session.Status))
	}
	if session.StartsAt.Before(now) {
		return newError(KindInvalidState, CodeSessionInPast, "cannot register for past training sessions")
	}
	if existing != nil && existing.Status.Occupies() {
		return alreadyRegistered()
	}
	if session.Capacity != nil && occupied >= *session.Capacity {
		return newError(KindCapacityExceeded, CodeCapacityExceeded, "training session is at full capacity")
	}
	return nil
}

// SeatsLeft returns the remaining seats, or -1 when the session is unlimited.
func SeatsLeft(session Session, occupied int) int {
	if session.Capacity == nil {
		return -1
	}
	if left := *session.Capacity - occupied; left > 0 {
		return left
	}
	return 0
}
