package opd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/websocket"
)

// DefaultTokenRetryLimit bounds IssueToken attempts on ConcurrencyConflict.
const DefaultTokenRetryLimit = 3

// QueueUpdatedEvent is published whenever a visit enters or moves in the queue.
const QueueUpdatedEvent = "opd.queue.updated"

type Service struct {
	counter      TokenCounterStore
	visits       VisitRepository
	appointments AppointmentRepository
	days         OperatingDay
	tx           db.TxRunner
	publisher    websocket.EventPublisher
	counters     Counters
	logger       zerolog.Logger
	tracer       trace.Tracer
	retryLimit   int
	now          func() time.Time
}

func NewService(counter TokenCounterStore, visits VisitRepository, appointments AppointmentRepository, days OperatingDay, logger zerolog.Logger) *Service {
	return &Service{
		counter:      counter,
		visits:       visits,
		appointments: appointments,
		days:         days,
		tx:           passthroughTx{},
		counters:     noopCounters{},
		logger:       logger.With().Str("component", "opd").Logger(),
		tracer:       otel.Tracer("github.com/hms/hms/internal/domain/opd"),
		retryLimit:   DefaultTokenRetryLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetTxRunner makes appointment check-in and visit transitions atomic.
func (s *Service) SetTxRunner(tx db.TxRunner) { s.tx = tx }

// SetPublisher attaches the realtime queue board.
func (s *Service) SetPublisher(p websocket.EventPublisher) { s.publisher = p }

// Counters receives engine counters; telemetry.Metrics implements it.
type Counters interface {
	Inc(name string, labels ...string)
}

type noopCounters struct{}

func (noopCounters) Inc(string, ...string) {}

func (s *Service) SetCounters(c Counters) {
	if c != nil {
		s.counters = c
	}
}

func (s *Service) SetRetryLimit(n int) {
	if n > 0 {
		s.retryLimit = n
	}
}

// SetClock replaces the engine clock; every stamped time comes from it.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Today returns the tenant's current operating day.
func (s *Service) Today(ctx context.Context, tenantID uuid.UUID) (time.Time, error) {
	loc, err := s.days.Location(ctx, tenantID)
	if err != nil {
		return time.Time{}, err
	}
	return CivilDate(s.now(), loc), nil
}

func (s *Service) dayOrToday(ctx context.Context, tenantID uuid.UUID, date time.Time) (time.Time, error) {
	if date.IsZero() {
		return s.Today(ctx, tenantID)
	}
	if _, err := s.days.Location(ctx, tenantID); err != nil {
		return time.Time{}, err
	}
	return CivilDate(date, time.UTC), nil
}

// IssueToken returns the next token for (tenant, department, date). A zero
// date means the tenant's current operating day. ConcurrencyConflict is
// retried immediately up to the retry limit.
func (s *Service) IssueToken(ctx context.Context, tenantID uuid.UUID, departmentID *uuid.UUID, date time.Time) (int, error) {
	if tenantID == uuid.Nil {
		return 0, fmt.Errorf("%w: tenant_id is required", ErrInvalidTenant)
	}
	day, err := s.dayOrToday(ctx, tenantID, date)
	if err != nil {
		return 0, err
	}

	ctx, span := s.tracer.Start(ctx, "opd.IssueToken", trace.WithAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("counter_date", day.Format(time.DateOnly)),
	))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= s.retryLimit; attempt++ {
		token, err := s.counter.IssueNextToken(ctx, tenantID, departmentID, day)
		if err == nil {
			s.counters.Inc("opd_tokens_issued_total", "scope", counterScope(departmentID))
			span.SetAttributes(attribute.Int("token_number", token), attribute.Int("attempts", attempt))
			s.logger.Debug().
				Str("tenant_id", tenantID.String()).
				Str("counter_date", day.Format(time.DateOnly)).
				Int("token", token).
				Int("attempt", attempt).
				Msg("token issued")
			return token, nil
		}
		lastErr = err
		if !errors.Is(err, ErrConcurrencyConflict) {
			break
		}
		s.counters.Inc("opd_token_conflicts_total")
		s.logger.Warn().Err(err).Int("attempt", attempt).Str("tenant_id", tenantID.String()).Msg("token counter conflict")
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return 0, lastErr
}

func counterScope(departmentID *uuid.UUID) string {
	if departmentID == nil {
		return "tenant"
	}
	return "department"
}

// WalkInRequest registers a patient who arrives without an appointment.
type WalkInRequest struct {
	PatientID    uuid.UUID  `json:"patient_id"`
	DoctorID     *uuid.UUID `json:"doctor_id,omitempty"`
	DepartmentID *uuid.UUID `json:"department_id,omitempty"`
}

// CheckInWalkIn creates a checked-in visit for today with a fresh token.
func (s *Service) CheckInWalkIn(ctx context.Context, tenantID uuid.UUID, req WalkInRequest, roles []Role) (Visit, error) {
	if !IsPermitted(Transition{From: StatusScheduled, To: StatusCheckedIn}, roles) {
		return Visit{}, fmt.Errorf("%w: check-in requires one of %v", ErrForbidden, RolesFor(Transition{From: StatusScheduled, To: StatusCheckedIn}))
	}
	if req.PatientID == uuid.Nil {
		return Visit{}, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}

	day, err := s.Today(ctx, tenantID)
	if err != nil {
		return Visit{}, err
	}
	token, err := s.IssueToken(ctx, tenantID, req.DepartmentID, day)
	if err != nil {
		return Visit{}, err
	}

	v := NewWalkInVisit(Visit{
		TenantID:     tenantID,
		PatientID:    req.PatientID,
		DoctorID:     req.DoctorID,
		DepartmentID: req.DepartmentID,
	}, token, day, s.now())

	saved, err := s.visits.PersistVisit(ctx, v)
	if err != nil {
		return Visit{}, err
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("visit_id", saved.ID.String()).
		Int("token", saved.TokenNumber).
		Msg("walk-in checked in")
	s.publish(ctx, saved)
	return saved, nil
}

// BookAppointment validates and stores a scheduled appointment, assigning a
// token from the department counter for the appointment date.
func (s *Service) BookAppointment(ctx context.Context, tenantID uuid.UUID, a *Appointment, actor *uuid.UUID, roles []Role) error {
	if !CanSchedule(roles) {
		return fmt.Errorf("%w: booking requires one of %v", ErrForbidden, schedulerRoles)
	}
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if a.AppointmentTime == "" {
		return fmt.Errorf("%w: appointment_time is required", ErrValidation)
	}
	if _, err := time.Parse("15:04", a.AppointmentTime); err != nil {
		return fmt.Errorf("%w: invalid appointment_time %q, expected HH:MM", ErrValidation, a.AppointmentTime)
	}
	switch a.VisitType {
	case "":
		a.VisitType = VisitTypeNew
	case VisitTypeNew, VisitTypeFollowUp:
	default:
		return fmt.Errorf("%w: invalid visit_type %s", ErrValidation, a.VisitType)
	}

	today, err := s.Today(ctx, tenantID)
	if err != nil {
		return err
	}
	if a.AppointmentDate.IsZero() {
		a.AppointmentDate = today
	}
	a.AppointmentDate = CivilDate(a.AppointmentDate, time.UTC)
	if a.AppointmentDate.Before(today) {
		return fmt.Errorf("%w: appointment_date must not be in the past", ErrValidation)
	}

	token, err := s.IssueToken(ctx, tenantID, a.DepartmentID, a.AppointmentDate)
	if err != nil {
		return err
	}

	a.TenantID = tenantID
	a.TokenNumber = &token
	a.Status = StatusScheduled
	a.CreatedBy = actor
	a.CheckInTime = nil
	if err := s.appointments.Create(ctx, a); err != nil {
		return err
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("appointment_id", a.ID.String()).
		Int("token", token).
		Msg("appointment booked")
	return nil
}

func (s *Service) ListAppointments(ctx context.Context, tenantID uuid.UUID, date time.Time, status Status) ([]Appointment, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %s", ErrValidation, status)
	}
	day, err := s.dayOrToday(ctx, tenantID, date)
	if err != nil {
		return nil, err
	}
	return s.appointments.ListByDate(ctx, tenantID, day, status)
}

func (s *Service) GetAppointment(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, tenantID, id)
}

// CheckInAppointment moves a scheduled appointment to checked_in and opens
// its visit, reusing the appointment token. An appointment yields at most one
// visit; checking in an already checked-in appointment returns that visit.
func (s *Service) CheckInAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID, roles []Role) (Appointment, Visit, error) {
	ctx, span := s.tracer.Start(ctx, "opd.CheckInAppointment", trace.WithAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("appointment_id", appointmentID.String()),
	))
	defer span.End()

	var appt Appointment
	var visit Visit
	repeated := false
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.appointments.GetByID(ctx, tenantID, appointmentID)
		if err != nil {
			return err
		}

		now := s.now()
		next, err := ApplyAppointmentTransition(*current, StatusCheckedIn, roles, now)
		if err != nil {
			return err
		}
		if current.Status == StatusCheckedIn {
			existing, err := s.visits.GetByAppointment(ctx, tenantID, appointmentID)
			if err != nil {
				return err
			}
			appt, visit, repeated = *current, *existing, true
			return nil
		}
		if appt, err = s.appointments.SaveTransition(ctx, next, current.Status); err != nil {
			return err
		}

		token := 0
		if current.TokenNumber != nil {
			token = *current.TokenNumber
		} else if token, err = s.IssueToken(ctx, tenantID, current.DepartmentID, current.AppointmentDate); err != nil {
			return err
		}

		id := current.ID
		visit = NewWalkInVisit(Visit{
			TenantID:      tenantID,
			PatientID:     current.PatientID,
			DoctorID:      current.DoctorID,
			DepartmentID:  current.DepartmentID,
			AppointmentID: &id,
		}, token, current.AppointmentDate, now)
		visit, err = s.visits.PersistVisit(ctx, visit)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Appointment{}, Visit{}, err
	}
	if repeated {
		s.logger.Debug().
			Str("tenant_id", tenantID.String()).
			Str("appointment_id", appointmentID.String()).
			Str("visit_id", visit.ID.String()).
			Msg("appointment already checked in")
		return appt, visit, nil
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("appointment_id", appointmentID.String()).
		Str("visit_id", visit.ID.String()).
		Int("token", visit.TokenNumber).
		Msg("appointment checked in")
	s.publish(ctx, visit)
	return appt, visit, nil
}

// TransitionAppointment applies a pre-visit status change. Moving to
// checked_in goes through CheckInAppointment so the visit is created.
func (s *Service) TransitionAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID, requested Status, roles []Role) (Appointment, error) {
	if requested == StatusCheckedIn {
		appt, _, err := s.CheckInAppointment(ctx, tenantID, appointmentID, roles)
		return appt, err
	}

	current, err := s.appointments.GetByID(ctx, tenantID, appointmentID)
	if err != nil {
		return Appointment{}, err
	}
	next, err := ApplyAppointmentTransition(*current, requested, roles, s.now())
	if err != nil {
		return Appointment{}, err
	}
	if next.Status == current.Status {
		return *current, nil
	}
	saved, err := s.appointments.SaveTransition(ctx, next, current.Status)
	if err != nil {
		return Appointment{}, err
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("appointment_id", appointmentID.String()).
		Str("from", string(current.Status)).
		Str("to", string(requested)).
		Msg("appointment transitioned")
	return saved, nil
}

// TransitionVisit advances a visit and mirrors the new status onto its
// appointment, if any.
func (s *Service) TransitionVisit(ctx context.Context, tenantID, visitID uuid.UUID, requested Status, roles []Role) (Visit, error) {
	ctx, span := s.tracer.Start(ctx, "opd.TransitionVisit", trace.WithAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("visit_id", visitID.String()),
		attribute.String("requested", string(requested)),
	))
	defer span.End()

	var from Status
	var saved Visit
	changed := false
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.visits.GetByID(ctx, tenantID, visitID)
		if err != nil {
			return err
		}
		from = current.Status

		next, err := ApplyTransition(*current, requested, roles, s.now())
		if err != nil {
			return err
		}
		if next.Status == current.Status {
			saved = *current
			return nil
		}

		if saved, err = s.visits.SaveTransition(ctx, next, current.Status); err != nil {
			return err
		}
		changed = true
		if saved.AppointmentID != nil {
			return s.appointments.MirrorStatus(ctx, tenantID, *saved.AppointmentID, saved.Status)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug().Err(err).
			Str("tenant_id", tenantID.String()).
			Str("visit_id", visitID.String()).
			Str("requested", string(requested)).
			Msg("visit transition rejected")
		s.counters.Inc("opd_transitions_rejected_total", "reason", ErrorKind(err))
		return Visit{}, err
	}
	if !changed {
		return saved, nil
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("visit_id", visitID.String()).
		Str("from", string(from)).
		Str("to", string(saved.Status)).
		Msg("visit transitioned")
	s.counters.Inc("opd_transitions_total", "from", string(from), "to", string(saved.Status))
	s.publish(ctx, saved)
	return saved, nil
}

// Queue projects the visits of date (default today) into the four board groups.
func (s *Service) Queue(ctx context.Context, tenantID uuid.UUID, date time.Time) (Queue, error) {
	day, err := s.dayOrToday(ctx, tenantID, date)
	if err != nil {
		return Queue{}, err
	}
	visits, err := s.visits.LoadVisitsForDate(ctx, tenantID, day)
	if err != nil {
		return Queue{}, err
	}
	return ProjectQueue(visits), nil
}

// Stats returns the dashboard counters for date (default today).
func (s *Service) Stats(ctx context.Context, tenantID uuid.UUID, date time.Time) (Stats, error) {
	day, err := s.dayOrToday(ctx, tenantID, date)
	if err != nil {
		return Stats{}, err
	}
	q, err := s.Queue(ctx, tenantID, day)
	if err != nil {
		return Stats{}, err
	}
	n, err := s.appointments.CountByDate(ctx, tenantID, day)
	if err != nil {
		return Stats{}, err
	}
	return q.Count(n), nil
}

// QueueTopic is the websocket topic for one tenant's board on one day.
func QueueTopic(tenantID uuid.UUID, day time.Time) string {
	return "opd/" + tenantID.String() + "/" + day.Format(time.DateOnly)
}

func (s *Service) publish(ctx context.Context, v Visit) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal queue event")
		return
	}
	err = s.publisher.Publish(ctx, websocket.Event{
		Type:         QueueUpdatedEvent,
		Topic:        QueueTopic(v.TenantID, v.VisitDate),
		ResourceType: "opd_visit",
		ResourceID:   v.ID.String(),
		Timestamp:    s.now(),
		Data:         data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("visit_id", v.ID.String()).Msg("publish queue event")
	}
}
