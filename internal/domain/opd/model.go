package opd

import (
	"time"

	"github.com/google/uuid"
)

// Status is shared by visits and appointments.
type Status string

const (
	StatusScheduled      Status = "scheduled"
	StatusCheckedIn      Status = "checked_in"
	StatusVitalsDone     Status = "vitals_done"
	StatusInConsultation Status = "in_consultation"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusNoShow         Status = "no_show"
)

var allStatuses = map[Status]bool{
	StatusScheduled:      true,
	StatusCheckedIn:      true,
	StatusVitalsDone:     true,
	StatusInConsultation: true,
	StatusCompleted:      true,
	StatusCancelled:      true,
	StatusNoShow:         true,
}

func (s Status) Valid() bool { return allStatuses[s] }

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Role is a staff role held within one tenant.
type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleReception  Role = "reception"
	RoleDoctor     Role = "doctor"
	RoleNurse      Role = "nurse"
	RoleLabStaff   Role = "lab_staff"
	RolePharmacy   Role = "pharmacy"
)

var knownRoles = map[Role]bool{
	RoleSuperadmin: true,
	RoleAdmin:      true,
	RoleReception:  true,
	RoleDoctor:     true,
	RoleNurse:      true,
	RoleLabStaff:   true,
	RolePharmacy:   true,
}

// ParseRoles converts raw role names, dropping anything outside the closed set.
func ParseRoles(raw []string) []Role {
	out := make([]Role, 0, len(raw))
	for _, r := range raw {
		if role := Role(r); knownRoles[role] {
			out = append(out, role)
		}
	}
	return out
}

// VisitType distinguishes first visits from follow-ups on an appointment.
type VisitType string

const (
	VisitTypeNew      VisitType = "new"
	VisitTypeFollowUp VisitType = "follow_up"
)

// Visit is one outpatient visit for one operating day.
type Visit struct {
	ID                    uuid.UUID  `json:"id"`
	TenantID              uuid.UUID  `json:"tenant_id"`
	PatientID             uuid.UUID  `json:"patient_id"`
	DoctorID              *uuid.UUID `json:"doctor_id,omitempty"`
	DepartmentID          *uuid.UUID `json:"department_id,omitempty"`
	AppointmentID         *uuid.UUID `json:"appointment_id,omitempty"`
	Status                Status     `json:"status"`
	TokenNumber           int        `json:"token_number"`
	VisitDate             time.Time  `json:"visit_date"`
	CheckInTime           *time.Time `json:"check_in_time,omitempty"`
	VitalsTime            *time.Time `json:"vitals_time,omitempty"`
	ConsultationStartTime *time.Time `json:"consultation_start_time,omitempty"`
	ConsultationEndTime   *time.Time `json:"consultation_end_time,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Appointment is a booking that becomes a Visit at check-in.
type Appointment struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"tenant_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorID        *uuid.UUID `json:"doctor_id,omitempty"`
	DepartmentID    *uuid.UUID `json:"department_id,omitempty"`
	AppointmentDate time.Time  `json:"appointment_date"`
	AppointmentTime string     `json:"appointment_time"`
	TokenNumber     *int       `json:"token_number,omitempty"`
	Status          Status     `json:"status"`
	VisitType       VisitType  `json:"visit_type"`
	ChiefComplaint  *string    `json:"chief_complaint,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	CreatedBy       *uuid.UUID `json:"created_by,omitempty"`
	CheckInTime     *time.Time `json:"check_in_time,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Transition is an ordered pair of statuses.
type Transition struct {
	From Status
	To   Status
}

func (t Transition) String() string {
	return string(t.From) + "->" + string(t.To)
}

// CivilDate truncates t to midnight UTC of its calendar date in loc.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD query value into a civil date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}
