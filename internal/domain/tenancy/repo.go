package tenancy

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetByCode(ctx context.Context, code string) (*Tenant, error)
	// RolesFor lists the roles userID holds in tenantID, sorted.
	RolesFor(ctx context.Context, userID, tenantID uuid.UUID) ([]string, error)
	GrantRole(ctx context.Context, userID, tenantID uuid.UUID, role string) error
}
