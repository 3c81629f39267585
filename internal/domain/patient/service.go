package patient

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
)

var ErrValidation = errors.New("validation failed")

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 -]{6,18}$`)
	bloodGroups  = map[string]bool{"A+": true, "A-": true, "B+": true, "B-": true, "AB+": true, "AB-": true, "O+": true, "O-": true}
)

type Service struct {
	repo   Repository
	uhids  UHIDGenerator
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, uhids UHIDGenerator, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		uhids:  uhids,
		logger: logger.With().Str("component", "patient").Logger(),
		now:    time.Now,
	}
}

func validate(p *Patient, now time.Time) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.Phone = strings.TrimSpace(p.Phone)
	if p.FirstName == "" {
		return fmt.Errorf("%w: first_name is required", ErrValidation)
	}
	if p.Phone == "" {
		return fmt.Errorf("%w: phone is required", ErrValidation)
	}
	if !phonePattern.MatchString(p.Phone) {
		return fmt.Errorf("%w: invalid phone %q", ErrValidation, p.Phone)
	}
	if p.Gender != nil {
		switch *p.Gender {
		case GenderMale, GenderFemale, GenderOther:
		default:
			return fmt.Errorf("%w: invalid gender %q", ErrValidation, *p.Gender)
		}
	}
	if p.BloodGroup != nil && *p.BloodGroup != "" && !bloodGroups[strings.ToUpper(*p.BloodGroup)] {
		return fmt.Errorf("%w: invalid blood_group %q", ErrValidation, *p.BloodGroup)
	}
	if p.Email != nil && *p.Email != "" && !strings.Contains(*p.Email, "@") {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if p.DateOfBirth != nil && p.DateOfBirth.After(now) {
		return fmt.Errorf("%w: date_of_birth is in the future", ErrValidation)
	}
	return nil
}

// Register validates p, assigns the next UHID of the tenant and stores it.
func (s *Service) Register(ctx context.Context, tenantID uuid.UUID, p *Patient) error {
	if tenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant_id is required", db.ErrInvalidTenant)
	}
	if err := validate(p, s.now()); err != nil {
		return err
	}

	uhid, err := s.uhids.GenerateUHID(ctx, tenantID)
	if err != nil {
		return err
	}
	p.TenantID = tenantID
	p.UHID = uhid
	p.IsActive = true
	if p.BloodGroup != nil {
		bg := strings.ToUpper(*p.BloodGroup)
		p.BloodGroup = &bg
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("patient_id", p.ID.String()).
		Str("uhid", p.UHID).
		Msg("patient registered")
	return nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

func (s *Service) Search(ctx context.Context, tenantID uuid.UUID, q string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, tenantID, q, limit, offset)
}
