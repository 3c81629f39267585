package patient

import (
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Patient is a registered person identified within a tenant by UHID.
type Patient struct {
	ID                    uuid.UUID  `json:"id"`
	TenantID              uuid.UUID  `json:"tenant_id"`
	UHID                  string     `json:"uhid"`
	FirstName             string     `json:"first_name"`
	LastName              *string    `json:"last_name,omitempty"`
	DateOfBirth           *time.Time `json:"date_of_birth,omitempty"`
	Gender                *Gender    `json:"gender,omitempty"`
	BloodGroup            *string    `json:"blood_group,omitempty"`
	Phone                 string     `json:"phone"`
	Email                 *string    `json:"email,omitempty"`
	Address               *string    `json:"address,omitempty"`
	City                  *string    `json:"city,omitempty"`
	State                 *string    `json:"state,omitempty"`
	Pincode               *string    `json:"pincode,omitempty"`
	EmergencyContactName  *string    `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string    `json:"emergency_contact_phone,omitempty"`
	IsActive              bool       `json:"is_active"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// FullName joins first and last name.
func (p *Patient) FullName() string {
	if p.LastName == nil || *p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + *p.LastName
}
