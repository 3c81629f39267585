package opd

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenCounterStore issues per (tenant, department, date) token numbers.
// A nil departmentID selects the tenant-wide counter.
type TokenCounterStore interface {
	IssueNextToken(ctx context.Context, tenantID uuid.UUID, departmentID *uuid.UUID, date time.Time) (int, error)
}

type VisitRepository interface {
	// LoadVisitsForDate returns the day's visits in no particular order.
	LoadVisitsForDate(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]Visit, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Visit, error)
	GetByAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID) (*Visit, error)
	// PersistVisit inserts a visit without an id, otherwise overwrites it.
	PersistVisit(ctx context.Context, v Visit) (Visit, error)
	// SaveTransition writes v only if the stored status still equals from.
	SaveTransition(ctx context.Context, v Visit, from Status) (Visit, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error)
	ListByDate(ctx context.Context, tenantID uuid.UUID, date time.Time, status Status) ([]Appointment, error)
	CountByDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (int, error)
	SaveTransition(ctx context.Context, a Appointment, from Status) (Appointment, error)
	// MirrorStatus copies a visit status onto its source appointment.
	MirrorStatus(ctx context.Context, tenantID, id uuid.UUID, status Status) error
}

// OperatingDay resolves an active tenant's local timezone. It returns
// ErrInvalidTenant for unknown or inactive tenants.
type OperatingDay interface {
	Location(ctx context.Context, tenantID uuid.UUID) (*time.Location, error)
}
