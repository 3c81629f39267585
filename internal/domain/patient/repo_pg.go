package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type patientPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &patientPG{pool: pool}
}

// NewUHIDGenerator returns a generator backed by the generate_uhid SQL function.
func NewUHIDGenerator(pool *pgxpool.Pool) UHIDGenerator {
	return &patientPG{pool: pool}
}

const patientCols = `id, tenant_id, uhid, first_name, last_name, date_of_birth, gender,
	blood_group, phone, email, address, city, state, pincode,
	emergency_contact_name, emergency_contact_phone, is_active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var gender *string
	err := row.Scan(&p.ID, &p.TenantID, &p.UHID, &p.FirstName, &p.LastName, &p.DateOfBirth, &gender,
		&p.BloodGroup, &p.Phone, &p.Email, &p.Address, &p.City, &p.State, &p.Pincode,
		&p.EmergencyContactName, &p.EmergencyContactPhone, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if gender != nil {
		g := Gender(*gender)
		p.Gender = &g
	}
	return &p, nil
}

func (r *patientPG) GenerateUHID(ctx context.Context, tenantID uuid.UUID) (string, error) {
	var uhid string
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT generate_uhid($1)`, tenantID).Scan(&uhid); err != nil {
		return "", fmt.Errorf("generate uhid: %w", db.Classify(err))
	}
	return uhid, nil
}

func (r *patientPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	var gender *string
	if p.Gender != nil {
		g := string(*p.Gender)
		gender = &g
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (
			id, tenant_id, uhid, first_name, last_name, date_of_birth, gender,
			blood_group, phone, email, address, city, state, pincode,
			emergency_contact_name, emergency_contact_phone, is_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		p.ID, p.TenantID, p.UHID, p.FirstName, p.LastName, p.DateOfBirth, gender,
		p.BloodGroup, p.Phone, p.Email, p.Address, p.City, p.State, p.Pincode,
		p.EmergencyContactName, p.EmergencyContactPhone, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "patients_tenant_uhid_key") {
			return fmt.Errorf("%w: uhid %s already registered", db.ErrConcurrencyConflict, p.UHID)
		}
		return fmt.Errorf("insert patient: %w", db.Classify(err))
	}
	return nil
}

func (r *patientPG) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, db.Classify(err))
	}
	return p, nil
}

func (r *patientPG) Search(ctx context.Context, tenantID uuid.UUID, q string, limit, offset int) ([]*Patient, int, error) {
	where := `WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if q = strings.TrimSpace(q); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		where += ` AND (first_name ILIKE $2 OR last_name ILIKE $2 OR uhid ILIKE $2 OR phone ILIKE $2)`
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patients `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", db.Classify(err))
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM patients %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		patientCols, where, len(args)-1, len(args))
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", db.Classify(err))
	}
	defer rows.Close()

	out := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", db.Classify(err))
	}
	return out, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
