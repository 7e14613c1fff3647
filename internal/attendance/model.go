package attendance

import "time"

// SessionStatus is the lifecycle state of a training session.
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionInProgress SessionStatus = "in-progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionInProgress, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// Status is the state of one person's attendance at one session.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusAttended   Status = "attended"
	StatusMissed     Status = "missed"
	StatusCanceled   Status = "canceled"
)

// Valid reports whether s is a known attendance status.
func (s Status) Valid() bool {
	switch s {
	case StatusRegistered, StatusAttended, StatusMissed, StatusCanceled:
		return true
	}
	return false
}

// Occupies reports whether a record in this status holds a seat.
func (s Status) Occupies() bool {
	return s == StatusRegistered || s == StatusAttended
}

// Method records how attendance was established.
type Method string

const (
	MethodQRCode       Method = "qr-code"
	MethodManual       Method = "manual"
	MethodVirtual      Method = "virtual"
	MethodSelfDeclared Method = "self-declared"
)

// Valid reports whether m is a known check-in method.
func (m Method) Valid() bool {
	switch m {
	case MethodQRCode, MethodManual, MethodVirtual, MethodSelfDeclared:
		return true
	}
	return false
}

// Session is a scheduled training session.
type Session struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Description        string        `json:"description,omitempty"`
	StartsAt           time.Time     `json:"starts_at"`
	EndsAt             time.Time     `json:"ends_at"`
	Location           string        `json:"location,omitempty"`
	IsVirtual          bool          `json:"is_virtual"`
	MeetingLink        string        `json:"meeting_link,omitempty"`
	Capacity           *int          `json:"capacity,omitempty"`
	IsMandatory        bool          `json:"is_mandatory"`
	FacilitatorName    string        `json:"facilitator_name,omitempty"`
	FacilitatorContact string        `json:"facilitator_contact,omitempty"`
	Status             SessionStatus `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Record is the attendance of one person at one session.
type Record struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	PersonID    string     `json:"person_id"`
	Status      Status     `json:"status"`
	CheckInTime *time.Time `json:"check_in_time,omitempty"`
	Method      *Method    `json:"method,omitempty"`
	VerifiedBy  *string    `json:"verified_by,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Declaration is a participant's post-session compliance declaration.
type Declaration struct {
	ID              string    `json:"id"`
	AttendanceID    string    `json:"attendance_id"`
	Content         string    `json:"content"`
	Signature       string    `json:"signature,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
	IPAddress       string    `json:"ip_address,omitempty"`
	UserAgent       string    `json:"user_agent,omitempty"`
	IsCompliant     bool      `json:"is_compliant"`
	ComplianceNotes string    `json:"compliance_notes,omitempty"`
}

// Person is a participant as seen through the directory.
type Person struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company,omitempty"`
	Role      string `json:"role"`
}

// DisplayName joins first and last name.
func (p Person) DisplayName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// RecordView pairs a record with its session and declaration for listings.
type RecordView struct {
	Record
	Session     *Session     `json:"session,omitempty"`
	Person      *Person      `json:"person,omitempty"`
	Declaration *Declaration `json:"declaration,omitempty"`
}

// Declared reports whether the attendance is complete: attended and declared.
func (v RecordView) Declared() bool {
	return v.Status == StatusAttended && v.Declaration != nil
}

// MandatorySession is an upcoming mandatory session with the caller's attendance state.
type MandatorySession struct {
	Session
	AttendanceStatus *Status `json:"attendance_status"`
	AttendanceID     *string `json:"attendance_id"`
}

func timePtr(t time.Time) *time.Time { return &t }

func methodPtr(m Method) *Method { return &m }
