package opd

import "testing"

func TestIsPermitted(t *testing.T) {
	tests := []struct {
		from, to Status
		roles    []Role
		want     bool
	}{
		{StatusScheduled, StatusCheckedIn, []Role{RoleReception}, true},
		{StatusScheduled, StatusCheckedIn, []Role{RoleAdmin}, true},
		{StatusScheduled, StatusCheckedIn, []Role{RoleDoctor}, false},
		{StatusCheckedIn, StatusVitalsDone, []Role{RoleNurse}, true},
		{StatusCheckedIn, StatusVitalsDone, []Role{RoleDoctor}, true},
		{StatusCheckedIn, StatusVitalsDone, []Role{RoleAdmin}, true},
		{StatusCheckedIn, StatusVitalsDone, []Role{RoleReception}, false},
		{StatusVitalsDone, StatusInConsultation, []Role{RoleDoctor}, true},
		{StatusVitalsDone, StatusInConsultation, []Role{RoleAdmin}, false},
		{StatusInConsultation, StatusCompleted, []Role{RoleDoctor}, true},
		{StatusInConsultation, StatusCompleted, []Role{RoleNurse}, false},
		{StatusScheduled, StatusCancelled, []Role{RoleReception}, true},
		{StatusCheckedIn, StatusCancelled, []Role{RoleAdmin}, true},
		{StatusScheduled, StatusCancelled, []Role{RoleDoctor}, false},
		{StatusScheduled, StatusNoShow, []Role{RoleReception}, true},
		{StatusScheduled, StatusNoShow, []Role{RoleNurse}, false},
		{StatusCompleted, StatusCancelled, []Role{RoleAdmin}, false},
		{StatusScheduled, StatusCheckedIn, []Role{RoleSuperadmin}, false},
		{StatusScheduled, StatusCheckedIn, nil, false},
		{StatusCheckedIn, StatusCompleted, []Role{RoleDoctor}, false},
		{Status("bogus"), StatusCheckedIn, []Role{RoleAdmin}, false},
	}

	for _, tt := range tests {
		got := IsPermitted(Transition{From: tt.from, To: tt.to}, tt.roles)
		if got != tt.want {
			t.Errorf("IsPermitted(%s->%s, %v) = %v, want %v", tt.from, tt.to, tt.roles, got, tt.want)
		}
	}
}

func TestIsPermitted_AnyIntersectingRole(t *testing.T) {
	roles := []Role{RoleLabStaff, RolePharmacy, RoleDoctor}
	if !IsPermitted(Transition{From: StatusVitalsDone, To: StatusInConsultation}, roles) {
		t.Error("expected doctor within a mixed role set to be permitted")
	}
}

func TestCanSchedule(t *testing.T) {
	if !CanSchedule([]Role{RoleReception}) {
		t.Error("expected reception to schedule")
	}
	if CanSchedule([]Role{RoleDoctor, RoleNurse}) {
		t.Error("expected clinical roles not to schedule")
	}
}

func TestEveryLegalTransitionHasRoles(t *testing.T) {
	for tr := range transitions {
		if len(RolesFor(tr)) == 0 {
			t.Errorf("legal transition %s has no permitted roles", tr)
		}
	}
}
