package tenancy

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

var codePattern = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)

type Service struct {
	repo       Repository
	defaultLoc *time.Location
	logger     zerolog.Logger
}

// NewService returns a tenancy service. defaultLoc is used for tenants
// without a configured timezone; nil means UTC.
func NewService(repo Repository, defaultLoc *time.Location, logger zerolog.Logger) *Service {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Service{repo: repo, defaultLoc: defaultLoc, logger: logger.With().Str("component", "tenancy").Logger()}
}

// ResolveActive returns the tenant, or ErrInvalidTenant when it is unknown
// or deactivated.
func (s *Service) ResolveActive(ctx context.Context, tenantID uuid.UUID) (*Tenant, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant_id is required", db.ErrInvalidTenant)
	}
	t, err := s.repo.GetByID(ctx, tenantID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown tenant %s", db.ErrInvalidTenant, tenantID)
	}
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, fmt.Errorf("%w: tenant %s is inactive", db.ErrInvalidTenant, tenantID)
	}
	return t, nil
}

// Location returns the timezone of the tenant's operating day.
func (s *Service) Location(ctx context.Context, tenantID uuid.UUID) (*time.Location, error) {
	t, err := s.ResolveActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t.Settings.Timezone == "" {
		return s.defaultLoc, nil
	}
	loc, err := time.LoadLocation(t.Settings.Timezone)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("tenant_id", tenantID.String()).
			Str("timezone", t.Settings.Timezone).
			Msg("invalid tenant timezone, using default")
		return s.defaultLoc, nil
	}
	return loc, nil
}

// GetCallerRoles returns the roles userID holds in tenantID. An empty result
// is not an error.
func (s *Service) GetCallerRoles(ctx context.Context, userID, tenantID uuid.UUID) ([]string, error) {
	roles, err := s.repo.RolesFor(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []string{}
	}
	return roles, nil
}

func (s *Service) Create(ctx context.Context, name, code, timezone string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	code = strings.ToUpper(strings.TrimSpace(code))
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("%w: code must be 2-12 letters or digits", ErrValidation)
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", ErrValidation, timezone)
		}
	}

	t := &Tenant{Name: name, Code: code, IsActive: true, Settings: Settings{Timezone: timezone}}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("tenant_id", t.ID.String()).Str("code", t.Code).Msg("tenant created")
	return t, nil
}

// GrantRole assigns role to userID in an active tenant. Granting a held
// role is a no-op.
func (s *Service) GrantRole(ctx context.Context, userID, tenantID uuid.UUID, role string) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !ValidRole(role) {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if _, err := s.ResolveActive(ctx, tenantID); err != nil {
		return err
	}
	if err := s.repo.GrantRole(ctx, userID, tenantID, role); err != nil {
		return err
	}
	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("user_id", userID.String()).
		Str("role", role).
		Msg("role granted")
	return nil
}
