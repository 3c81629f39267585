package opd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// -- Token counters --

type counterPG struct {
	pool *pgxpool.Pool
}

func NewCounterStore(pool *pgxpool.Pool) TokenCounterStore {
	return &counterPG{pool: pool}
}

// IssueNextToken increments and reads the counter in one statement, so two
// callers can never observe the same value.
func (r *counterPG) IssueNextToken(ctx context.Context, tenantID uuid.UUID, departmentID *uuid.UUID, date time.Time) (int, error) {
	var token int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO token_counters (tenant_id, department_id, counter_date, last_token)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (tenant_id, department_key, counter_date)
		DO UPDATE SET last_token = token_counters.last_token + 1, updated_at = NOW()
		RETURNING last_token`,
		tenantID, departmentID, date,
	).Scan(&token)
	if err != nil {
		return 0, fmt.Errorf("issue token: %w", db.Classify(err))
	}
	return token, nil
}

// -- Visits --

type visitPG struct {
	pool *pgxpool.Pool
}

func NewVisitRepo(pool *pgxpool.Pool) VisitRepository {
	return &visitPG{pool: pool}
}

const visitCols = `id, tenant_id, patient_id, doctor_id, department_id, appointment_id,
	status, token_number, visit_date, check_in_time, vitals_time,
	consultation_start_time, consultation_end_time, created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	var status string
	err := row.Scan(&v.ID, &v.TenantID, &v.PatientID, &v.DoctorID, &v.DepartmentID, &v.AppointmentID,
		&status, &v.TokenNumber, &v.VisitDate, &v.CheckInTime, &v.VitalsTime,
		&v.ConsultationStartTime, &v.ConsultationEndTime, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Status = Status(status)
	return &v, nil
}

func (r *visitPG) LoadVisitsForDate(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]Visit, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+visitCols+` FROM opd_visits WHERE tenant_id = $1 AND visit_date = $2`,
		tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("load visits: %w", db.Classify(err))
	}
	defer rows.Close()

	var out []Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load visits: %w", db.Classify(err))
	}
	return out, nil
}

func (r *visitPG) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+visitCols+` FROM opd_visits WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return nil, fmt.Errorf("get visit %s: %w", id, db.Classify(err))
	}
	return v, nil
}

func (r *visitPG) GetByAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID) (*Visit, error) {
	v, err := scanVisit(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+visitCols+` FROM opd_visits WHERE tenant_id = $1 AND appointment_id = $2`,
		tenantID, appointmentID))
	if err != nil {
		return nil, fmt.Errorf("get visit for appointment %s: %w", appointmentID, db.Classify(err))
	}
	return v, nil
}

func (r *visitPG) PersistVisit(ctx context.Context, v Visit) (Visit, error) {
	q := db.Conn(ctx, r.pool)
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
		err := q.QueryRow(ctx, `
			INSERT INTO opd_visits (
				id, tenant_id, patient_id, doctor_id, department_id, appointment_id,
				status, token_number, visit_date, check_in_time, vitals_time,
				consultation_start_time, consultation_end_time
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			RETURNING created_at, updated_at`,
			v.ID, v.TenantID, v.PatientID, v.DoctorID, v.DepartmentID, v.AppointmentID,
			string(v.Status), v.TokenNumber, v.VisitDate, v.CheckInTime, v.VitalsTime,
			v.ConsultationStartTime, v.ConsultationEndTime,
		).Scan(&v.CreatedAt, &v.UpdatedAt)
		if err != nil {
			if db.IsUniqueViolation(err, "opd_visits_appointment_id_key") {
				return v, ErrAlreadyCheckedIn
			}
			return v, fmt.Errorf("insert visit: %w", db.Classify(err))
		}
		return v, nil
	}

	err := q.QueryRow(ctx, `
		UPDATE opd_visits SET
			doctor_id = $3, status = $4, check_in_time = $5, vitals_time = $6,
			consultation_start_time = $7, consultation_end_time = $8, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at`,
		v.TenantID, v.ID, v.DoctorID, string(v.Status), v.CheckInTime, v.VitalsTime,
		v.ConsultationStartTime, v.ConsultationEndTime,
	).Scan(&v.UpdatedAt)
	if err != nil {
		return v, fmt.Errorf("update visit %s: %w", v.ID, db.Classify(err))
	}
	return v, nil
}

func (r *visitPG) SaveTransition(ctx context.Context, v Visit, from Status) (Visit, error) {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE opd_visits SET
			status = $4, check_in_time = $5, vitals_time = $6,
			consultation_start_time = $7, consultation_end_time = $8, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status = $3
		RETURNING updated_at`,
		v.TenantID, v.ID, string(from), string(v.Status), v.CheckInTime, v.VitalsTime,
		v.ConsultationStartTime, v.ConsultationEndTime,
	).Scan(&v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// the row exists (it was just read) so someone else moved it first
		return v, fmt.Errorf("%w: visit %s is no longer %s", ErrConcurrencyConflict, v.ID, from)
	}
	if err != nil {
		return v, fmt.Errorf("save visit transition: %w", db.Classify(err))
	}
	return v, nil
}

// -- Appointments --

type appointmentPG struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepo(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentPG{pool: pool}
}

const apptCols = `id, tenant_id, patient_id, doctor_id, department_id, appointment_date,
	to_char(appointment_time, 'HH24:MI'), token_number, status, visit_type, chief_complaint,
	notes, created_by, check_in_time, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, visitType string
	err := row.Scan(&a.ID, &a.TenantID, &a.PatientID, &a.DoctorID, &a.DepartmentID, &a.AppointmentDate,
		&a.AppointmentTime, &a.TokenNumber, &status, &visitType, &a.ChiefComplaint,
		&a.Notes, &a.CreatedBy, &a.CheckInTime, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.VisitType = VisitType(visitType)
	return &a, nil
}

func (r *appointmentPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (
			id, tenant_id, patient_id, doctor_id, department_id, appointment_date,
			appointment_time, token_number, status, visit_type, chief_complaint, notes, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7::time,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		a.ID, a.TenantID, a.PatientID, a.DoctorID, a.DepartmentID, a.AppointmentDate,
		a.AppointmentTime, a.TokenNumber, string(a.Status), string(a.VisitType), a.ChiefComplaint,
		a.Notes, a.CreatedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", db.Classify(err))
	}
	return nil
}

func (r *appointmentPG) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, db.Classify(err))
	}
	return a, nil
}

func (r *appointmentPG) ListByDate(ctx context.Context, tenantID uuid.UUID, date time.Time, status Status) ([]Appointment, error) {
	query := `SELECT ` + apptCols + ` FROM appointments WHERE tenant_id = $1 AND appointment_date = $2`
	args := []interface{}{tenantID, date}
	if status != "" {
		query += ` AND status = $3`
		args = append(args, string(status))
	}
	query += ` ORDER BY appointment_time, token_number NULLS LAST`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", db.Classify(err))
	}
	defer rows.Close()

	out := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list appointments: %w", db.Classify(err))
	}
	return out, nil
}

func (r *appointmentPG) CountByDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE tenant_id = $1 AND appointment_date = $2`,
		tenantID, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count appointments: %w", db.Classify(err))
	}
	return n, nil
}

func (r *appointmentPG) SaveTransition(ctx context.Context, a Appointment, from Status) (Appointment, error) {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET status = $4, check_in_time = $5, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status = $3
		RETURNING updated_at`,
		a.TenantID, a.ID, string(from), string(a.Status), a.CheckInTime,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, fmt.Errorf("%w: appointment %s is no longer %s", ErrConcurrencyConflict, a.ID, from)
	}
	if err != nil {
		return a, fmt.Errorf("save appointment transition: %w", db.Classify(err))
	}
	return a, nil
}

func (r *appointmentPG) MirrorStatus(ctx context.Context, tenantID, id uuid.UUID, status Status) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE appointments SET status = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, string(status))
	if err != nil {
		return fmt.Errorf("mirror appointment status: %w", db.Classify(err))
	}
	return nil
}
