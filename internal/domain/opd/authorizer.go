package opd

// permission grants a transition to a set of roles. An empty From matches
// every non-terminal source status.
type permission struct {
	From  Status
	To    Status
	Roles []Role
}

var permissions = []permission{
	{To: StatusCheckedIn, Roles: []Role{RoleAdmin, RoleReception}},
	{From: StatusCheckedIn, To: StatusVitalsDone, Roles: []Role{RoleAdmin, RoleNurse, RoleDoctor}},
	{From: StatusVitalsDone, To: StatusInConsultation, Roles: []Role{RoleDoctor}},
	{From: StatusInConsultation, To: StatusCompleted, Roles: []Role{RoleDoctor}},
	{To: StatusCancelled, Roles: []Role{RoleAdmin, RoleReception}},
	{From: StatusScheduled, To: StatusNoShow, Roles: []Role{RoleAdmin, RoleReception}},
}

func (p permission) matches(t Transition) bool {
	if p.To != t.To {
		return false
	}
	if p.From == "" {
		return t.From.Valid() && !t.From.Terminal() && t.From != t.To
	}
	return p.From == t.From
}

func (p permission) grants(roles []Role) bool {
	for _, want := range p.Roles {
		for _, have := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsPermitted reports whether any of roles may perform t. Unknown transitions
// are never permitted, and no role implies another.
func IsPermitted(t Transition, roles []Role) bool {
	for _, p := range permissions {
		if p.matches(t) && p.grants(roles) {
			return true
		}
	}
	return false
}

// mayReach reports whether roles could have moved a record into status by
// any permitted transition.
func mayReach(status Status, roles []Role) bool {
	for _, p := range permissions {
		if p.To == status && p.grants(roles) {
			return true
		}
	}
	return false
}

// RolesFor lists the roles permitted to perform t, for error messages.
func RolesFor(t Transition) []Role {
	for _, p := range permissions {
		if p.matches(t) {
			return p.Roles
		}
	}
	return nil
}

var schedulerRoles = []Role{RoleAdmin, RoleReception}

// CanSchedule reports whether roles may book appointments and register patients.
func CanSchedule(roles []Role) bool {
	return permission{Roles: schedulerRoles}.grants(roles)
}
