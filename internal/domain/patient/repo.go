package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error)
	// Search matches q case-insensitively against name, UHID and phone,
	// newest first. An empty q lists every patient.
	Search(ctx context.Context, tenantID uuid.UUID, q string, limit, offset int) ([]*Patient, int, error)
}

// UHIDGenerator issues the next <CODE>-<YYYY>-<NNNNNN> identifier for a tenant.
type UHIDGenerator interface {
	GenerateUHID(ctx context.Context, tenantID uuid.UUID) (string, error)
}
