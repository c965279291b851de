package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"wedding-bet-service/internal/domain"
)

// AuthService is the identity provider: sign-up, sign-in, sign-out and
// token lookup.
type AuthService struct {
	users    UserRepository
	sessions SessionStore
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
	cost     int
}

func NewAuthService(users UserRepository, sessions SessionStore, notifier Notifier, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		notifier: notifier,
		log:      log.With().Str("component", "auth").Logger(),
		now:      time.Now,
		cost:     bcrypt.DefaultCost,
	}
}

// WithHashCost lowers the bcrypt cost, mostly for tests.
func (s *AuthService) WithHashCost(cost int) *AuthService {
	s.cost = cost
	return s
}

// SignUp registers a new guest.
func (s *AuthService) SignUp(ctx context.Context, name, email, password string) (domain.User, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)

	verr := &domain.ValidationError{}
	if name == "" {
		verr.Add("name", "required")
	}
	if email == "" || !strings.Contains(email, "@") {
		verr.Add("email", "a valid email address is required")
	}
	if problems := PasswordProblems(password); len(problems) > 0 {
		verr.Add("password", strings.Join(problems, ", "))
	}
	if !verr.Empty() {
		return domain.User{}, verr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.users.InsertUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	s.log.Info().Str("user", user.ID).Msg("user signed up")
	return user, nil
}

// SignIn checks credentials and opens a session. The admin flag is captured
// here and stays fixed for the session's lifetime.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (domain.Principal, error) {
	user, err := s.users.UserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.Principal{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Principal{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return domain.Principal{}, domain.ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return domain.Principal{}, err
	}
	principal := domain.Principal{
		UserID:   user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Admin:    user.Admin,
		Token:    token,
		IssuedAt: s.now(),
	}
	if err := s.sessions.Save(ctx, principal); err != nil {
		return domain.Principal{}, fmt.Errorf("save session: %w", err)
	}

	s.log.Info().Str("user", user.ID).Bool("admin", user.Admin).Msg("user signed in")
	s.publish(ctx, user.ID)
	return principal, nil
}

// SignOut closes the session behind token.
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	principal, err := s.sessions.Load(ctx, token)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.log.Info().Str("user", principal.UserID).Msg("user signed out")
	s.publish(ctx, principal.UserID)
	return nil
}

// Authenticate resolves a session token to its principal.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	principal, err := s.sessions.Load(ctx, token)
	if err != nil {
		return domain.Principal{}, err
	}
	principal.Token = token
	return principal, nil
}

func (s *AuthService) publish(ctx context.Context, userID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, domain.Change{Collection: domain.CollectionSessions, DocumentID: userID, At: s.now()})
}

// NormalizeEmail lower-cases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PasswordProblems lists the password rules that are not met.
func PasswordProblems(password string) []string {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}

	var problems []string
	if len([]rune(password)) < 8 {
		problems = append(problems, "at least 8 characters")
	}
	if len(password) > 72 {
		problems = append(problems, "at most 72 bytes")
	}
	if !upper {
		problems = append(problems, "at least one uppercase letter")
	}
	if !lower {
		problems = append(problems, "at least one lowercase letter")
	}
	if !digit {
		problems = append(problems, "at least one number")
	}
	if !special {
		problems = append(problems, "at least one special character")
	}
	return problems
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
