package tenancy

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is one hospital. Settings.Timezone names the IANA zone that
// defines its operating day.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	IsActive  bool      `json:"is_active"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Settings struct {
	Timezone string `json:"timezone,omitempty"`
}

// Roles a user may hold within a tenant.
var knownRoles = map[string]bool{
	"superadmin": true,
	"admin":      true,
	"reception":  true,
	"doctor":     true,
	"nurse":      true,
	"lab_staff":  true,
	"pharmacy":   true,
}

func ValidRole(role string) bool { return knownRoles[role] }
