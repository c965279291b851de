package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"wedding-bet-service/internal/domain"
)

// AdminService lets the configured super identity grant or revoke the
// administrator attribute.
type AdminService struct {
	users        UserRepository
	superAdminID string
	log          zerolog.Logger
}

func NewAdminService(users UserRepository, superAdminID string, log zerolog.Logger) *AdminService {
	return &AdminService{
		users:        users,
		superAdminID: superAdminID,
		log:          log.With().Str("component", "admin").Logger(),
	}
}

// Grant makes the user behind email an administrator.
func (s *AdminService) Grant(ctx context.Context, caller *domain.Principal, email string) (string, error) {
	if err := s.setAdmin(ctx, caller, email, true); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! %s has been made an admin.", NormalizeEmail(email)), nil
}

// Revoke removes the administrator attribute from the user behind email.
func (s *AdminService) Revoke(ctx context.Context, caller *domain.Principal, email string) (string, error) {
	if err := s.setAdmin(ctx, caller, email, false); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! %s no longer has admin role.", NormalizeEmail(email)), nil
}

// IsSuperAdmin reports whether p is the configured super identity.
func (s *AdminService) IsSuperAdmin(p *domain.Principal) bool {
	return p != nil && s.superAdminID != "" && p.UserID == s.superAdminID
}

func (s *AdminService) setAdmin(ctx context.Context, caller *domain.Principal, email string, admin bool) error {
	if caller == nil {
		return domain.ErrUnauthenticated
	}
	if !s.IsSuperAdmin(caller) {
		return domain.ErrPermissionDenied
	}
	email = NormalizeEmail(email)
	if email == "" {
		return domain.NewValidationError("email", "the request must include an email address")
	}

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.users.SetAdmin(ctx, user.ID, admin); err != nil {
		return fmt.Errorf("set admin claim: %w", err)
	}

	// Open sessions keep their admin flag; it applies from the next sign-in.
	s.log.Info().Str("target", user.ID).Bool("admin", admin).Str("by", caller.UserID).Msg("admin claim changed")
	return nil
}
