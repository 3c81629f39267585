package opd

import (
	"fmt"
	"time"
)

// stamp identifies which time field a transition sets.
type stamp int

const (
	stampNone stamp = iota
	stampCheckIn
	stampVitals
	stampConsultationStart
	stampConsultationEnd
)

// transitions is the complete set of legal single-step moves.
var transitions = map[Transition]stamp{
	{StatusScheduled, StatusCheckedIn}:       stampCheckIn,
	{StatusCheckedIn, StatusVitalsDone}:      stampVitals,
	{StatusVitalsDone, StatusInConsultation}: stampConsultationStart,
	{StatusInConsultation, StatusCompleted}:  stampConsultationEnd,
	{StatusScheduled, StatusCancelled}:       stampNone,
	{StatusScheduled, StatusNoShow}:          stampNone,
}

// IsLegal reports whether t appears in the transition table.
func IsLegal(t Transition) bool {
	_, ok := transitions[t]
	return ok
}

// step validates a move and returns the stamp to apply. noop is true when
// requested equals current and the actor could have produced that status.
func step(current, requested Status, roles []Role) (s stamp, noop bool, err error) {
	if !requested.Valid() {
		return stampNone, false, fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, requested)
	}

	if current == requested {
		if requested == StatusScheduled {
			return stampNone, false, fmt.Errorf("%w: %s is an initial status", ErrIllegalTransition, requested)
		}
		if !mayReach(requested, roles) {
			return stampNone, false, fmt.Errorf("%w: %s", ErrForbidden, requested)
		}
		return stampNone, true, nil
	}

	t := Transition{From: current, To: requested}
	s, ok := transitions[t]
	if !ok {
		return stampNone, false, fmt.Errorf("%w: %s", ErrIllegalTransition, t)
	}
	if !IsPermitted(t, roles) {
		return stampNone, false, fmt.Errorf("%w: %s requires one of %v", ErrForbidden, t, RolesFor(t))
	}
	return s, false, nil
}

// ApplyTransition moves v to requested, stamping the matching time field with now.
// The input is not modified. Re-applying the current status returns v unchanged.
func ApplyTransition(v Visit, requested Status, roles []Role, now time.Time) (Visit, error) {
	s, noop, err := step(v.Status, requested, roles)
	if err != nil {
		return v, err
	}
	if noop {
		return v, nil
	}

	out := v
	switch s {
	case stampCheckIn:
		out.CheckInTime = timePtr(now)
	case stampVitals:
		out.VitalsTime = timePtr(notBefore(now, v.CheckInTime))
	case stampConsultationStart:
		out.ConsultationStartTime = timePtr(notBefore(now, v.VitalsTime, v.CheckInTime))
	case stampConsultationEnd:
		out.ConsultationEndTime = timePtr(notBefore(now, v.ConsultationStartTime, v.VitalsTime, v.CheckInTime))
	}
	out.Status = requested
	return out, nil
}

// ApplyAppointmentTransition is the appointment counterpart of ApplyTransition.
// Appointments only carry a check-in timestamp.
func ApplyAppointmentTransition(a Appointment, requested Status, roles []Role, now time.Time) (Appointment, error) {
	s, noop, err := step(a.Status, requested, roles)
	if err != nil {
		return a, err
	}
	if noop {
		return a, nil
	}

	out := a
	if s == stampCheckIn {
		out.CheckInTime = timePtr(now)
	}
	out.Status = requested
	return out, nil
}

// NewWalkInVisit builds a checked-in visit with the given token.
func NewWalkInVisit(v Visit, token int, day, now time.Time) Visit {
	v.Status = StatusCheckedIn
	v.TokenNumber = token
	v.VisitDate = day
	v.CheckInTime = timePtr(now)
	return v
}

// notBefore returns now, or the latest earlier stamp if the clock went backwards,
// so stamps stay ordered.
func notBefore(now time.Time, earlier ...*time.Time) time.Time {
	for _, e := range earlier {
		if e != nil && e.After(now) {
			now = *e
		}
	}
	return now
}

func timePtr(t time.Time) *time.Time {
	return &t
}
