package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"wedding-bet-service/internal/app"
	"wedding-bet-service/internal/domain"
	"wedding-bet-service/internal/infra/memory"
)

func newAuth(t *testing.T) (*app.AuthService, *memory.Store, *memory.SessionStore) {
	t.Helper()
	store := memory.NewStore()
	sessions := memory.NewSessionStore(time.Hour)
	auth := app.NewAuthService(store, sessions, app.NewFeed(), zerolog.Nop()).WithHashCost(bcrypt.MinCost)
	return auth, store, sessions
}

func TestSignUpAndSignIn(t *testing.T) {
	auth, _, sessions := newAuth(t)
	ctx := context.Background()

	user, err := auth.SignUp(ctx, " Alice ", " Alice@Example.com ", "Secret#123")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.False(t, user.Admin)
	assert.NotEqual(t, []byte("Secret#123"), user.PasswordHash)

	_, err = auth.SignUp(ctx, "Alice again", "alice@example.com", "Secret#123")
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	p, err := auth.SignIn(ctx, "ALICE@example.com", "Secret#123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, p.UserID)
	assert.NotEmpty(t, p.Token)
	assert.Equal(t, 1, sessions.Len())

	got, err := auth.Authenticate(ctx, p.Token)
	require.NoError(t, err)
	assert.Equal(t, p.UserID, got.UserID)
	assert.Equal(t, p.Token, got.Token)

	require.NoError(t, auth.SignOut(ctx, p.Token))
	_, err = auth.Authenticate(ctx, p.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.ErrorIs(t, auth.SignOut(ctx, p.Token), domain.ErrUnauthenticated)
}

func TestSignInFailures(t *testing.T) {
	auth, _, _ := newAuth(t)
	ctx := context.Background()
	_, err := auth.SignUp(ctx, "Bob", "bob@example.com", "Secret#123")
	require.NoError(t, err)

	_, err = auth.SignIn(ctx, "nobody@example.com", "Secret#123")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = auth.SignIn(ctx, "bob@example.com", "secret#123")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = auth.Authenticate(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestSignUpValidation(t *testing.T) {
	auth, _, _ := newAuth(t)
	_, err := auth.SignUp(context.Background(), "", "not-an-email", "short")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "password")
}

func TestPasswordProblems(t *testing.T) {
	assert.Empty(t, app.PasswordProblems("Secret#123"))
	assert.Len(t, app.PasswordProblems("abc"), 4)
	assert.Contains(t, app.PasswordProblems("NoDigits!!"), "at least one number")
	assert.Contains(t, app.PasswordProblems("nouppercase1!"), "at least one uppercase letter")
	assert.Contains(t, app.PasswordProblems("NOLOWER1!"), "at least one lowercase letter")
	assert.Contains(t, app.PasswordProblems("NoSpecial12"), "at least one special character")
}

func TestAdminGrantAppliesFromNextSignIn(t *testing.T) {
	auth, store, _ := newAuth(t)
	ctx := context.Background()

	super, err := auth.SignUp(ctx, "Groom", "groom@example.com", "Secret#123")
	require.NoError(t, err)
	_, err = auth.SignUp(ctx, "Best Man", "bestman@example.com", "Secret#123")
	require.NoError(t, err)

	admin := app.NewAdminService(store, super.ID, zerolog.Nop())
	superP, err := auth.SignIn(ctx, "groom@example.com", "Secret#123")
	require.NoError(t, err)
	before, err := auth.SignIn(ctx, "bestman@example.com", "Secret#123")
	require.NoError(t, err)
	assert.True(t, admin.IsSuperAdmin(&superP))
	assert.False(t, admin.IsSuperAdmin(&before))

	msg, err := admin.Grant(ctx, &superP, "BestMan@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Success! bestman@example.com has been made an admin.", msg)

	stale, err := auth.Authenticate(ctx, before.Token)
	require.NoError(t, err)
	assert.False(t, stale.Admin)

	after, err := auth.SignIn(ctx, "bestman@example.com", "Secret#123")
	require.NoError(t, err)
	assert.True(t, after.Admin)

	_, err = admin.Grant(ctx, &after, "groom@example.com")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	_, err = admin.Grant(ctx, nil, "groom@example.com")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = admin.Grant(ctx, &superP, "ghost@example.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = admin.Revoke(ctx, &superP, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	msg, err = admin.Revoke(ctx, &superP, "bestman@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Success! bestman@example.com no longer has admin role.", msg)
}

func TestAdminServiceWithoutSuperID(t *testing.T) {
	admin := app.NewAdminService(memory.NewStore(), "", zerolog.Nop())
	p := &domain.Principal{UserID: ""}
	assert.False(t, admin.IsSuperAdmin(p))
	_, err := admin.Grant(context.Background(), p, "x@example.com")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}
