package tenancy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type tenantPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &tenantPG{pool: pool}
}

const tenantCols = `id, name, code, is_active, settings, created_at, updated_at`

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Code, &t.IsActive, &t.Settings, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tenantPG) Create(ctx context.Context, t *Tenant) error {
	t.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tenants (id, name, code, is_active, settings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Code, t.IsActive, t.Settings,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "tenants_code_key") {
			return fmt.Errorf("%w: tenant code %q already exists", ErrValidation, t.Code)
		}
		return fmt.Errorf("insert tenant: %w", db.Classify(err))
	}
	return nil
}

func (r *tenantPG) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	t, err := scanTenant(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+tenantCols+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", id, db.Classify(err))
	}
	return t, nil
}

func (r *tenantPG) GetByCode(ctx context.Context, code string) (*Tenant, error) {
	t, err := scanTenant(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+tenantCols+` FROM tenants WHERE code = $1`, code))
	if err != nil {
		return nil, fmt.Errorf("get tenant %q: %w", code, db.Classify(err))
	}
	return t, nil
}

func (r *tenantPG) RolesFor(ctx context.Context, userID, tenantID uuid.UUID) ([]string, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT role FROM user_roles WHERE user_id = $1 AND tenant_id = $2 ORDER BY role`,
		userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", db.Classify(err))
	}
	roles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan user roles: %w", db.Classify(err))
	}
	return roles, nil
}

func (r *tenantPG) GrantRole(ctx context.Context, userID, tenantID uuid.UUID, role string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO user_roles (user_id, tenant_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, tenant_id, role) DO NOTHING`,
		userID, tenantID, role)
	if err != nil {
		return fmt.Errorf("grant role: %w", db.Classify(err))
	}
	return nil
}
