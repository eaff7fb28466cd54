package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/audit"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/repository"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/testutil"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/token"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *captureRecorder) Record(_ context.Context, event audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *captureRecorder) has(eventType audit.EventType, outcome audit.Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == eventType && e.Outcome == outcome {
			return true
		}
	}
	return false
}

type authEnv struct {
	svc      service.AuthService
	users    repository.UserRepository
	tokens   repository.TokenRepository
	mailer   *testutil.RecordingMailer
	recorder *captureRecorder
	clock    *testutil.Clock
	codec    *token.Codec
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	cfg := testutil.TestConfig()
	db := testutil.SetupTestDB(t)
	clock := testutil.NewClock()
	codec := testutil.NewCodec(t, cfg, clock)

	env := &authEnv{
		users:    repository.NewUserRepository(db),
		tokens:   repository.NewTokenRepository(db),
		mailer:   &testutil.RecordingMailer{},
		recorder: &captureRecorder{},
		clock:    clock,
		codec:    codec,
	}
	env.svc = service.NewAuthService(
		env.users,
		repository.NewRoleRepository(db),
		env.tokens,
		repository.NewTransactor(db),
		codec,
		service.NewBcryptHasher(int(cfg.BcryptCost)),
		env.mailer,
		env.recorder,
		cfg,
		testutil.TestLogger(),
	)
	return env
}

func (e *authEnv) register(t *testing.T, email string) *models.User {
	t.Helper()
	user, err := e.svc.Register(context.Background(), service.RegisterInput{
		Email:     email,
		Password:  "correct horse",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	return user
}

func (e *authEnv) registerVerified(t *testing.T, email string) (*models.User, *service.TokenPair) {
	t.Helper()
	e.register(t, email)
	user, pair, err := e.svc.VerifyEmail(context.Background(), e.mailer.LastLinkToken(t))
	require.NoError(t, err)
	return user, pair
}

func TestAuthService_RegisterThenVerify(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	user := env.register(t, "A@X.com ")
	assert.Equal(t, "a@x.com", user.Email)
	assert.False(t, user.Enabled)
	assert.True(t, user.Active)
	assert.Equal(t, models.ProviderLocal, user.Provider)
	assert.Equal(t, []string{models.RoleUser}, user.RoleTitles())

	sent := env.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@x.com", sent[0].To)
	assert.Contains(t, sent[0].Body, "http://localhost:8080/api/v1/auth/verify?token=")

	link := env.mailer.LastLinkToken(t)
	record, err := env.tokens.FindByToken(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeVerification, record.Type)
	assert.Equal(t, user.ID, record.UserID)

	verified, pair, err := env.svc.VerifyEmail(ctx, link)
	require.NoError(t, err)
	assert.True(t, verified.Enabled)
	require.NotNil(t, pair)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	stored, err := env.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.Enabled)

	_, err = env.tokens.FindByToken(ctx, link)
	assert.ErrorIs(t, err, repository.ErrTokenNotFound, "verification token is one-shot")

	assert.True(t, env.recorder.has(audit.EventRegistered, audit.OutcomeSuccess))
	assert.True(t, env.recorder.has(audit.EventEmailVerified, audit.OutcomeSuccess))
}

func TestAuthService_RegisterValidation(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, service.RegisterInput{Email: "a@x.com", Password: "pw", FirstName: "A"})
	assert.ErrorIs(t, err, service.ErrIncorrectRequest)

	env.register(t, "a@x.com")
	_, err = env.svc.Register(ctx, service.RegisterInput{Email: "a@x.com", Password: "pw", FirstName: "A", LastName: "B"})
	assert.ErrorIs(t, err, service.ErrAlreadyExists)
	assert.Len(t, env.mailer.Sent(), 1)
}

func TestAuthService_RegisterFailsWhenMailFails(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	in := service.RegisterInput{Email: "a@x.com", Password: "pw", FirstName: "A", LastName: "B"}
	env.mailer.Err = errors.New("smtp unavailable")

	_, err := env.svc.Register(ctx, in)
	assert.EqualError(t, err, "smtp unavailable")

	_, err = env.users.FindByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, repository.ErrUserNotFound, "failed sign-up leaves no account behind")
	assert.False(t, env.recorder.has(audit.EventRegistered, audit.OutcomeSuccess))

	env.mailer.Err = nil
	user, err := env.svc.Register(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.Email)

	record, err := env.tokens.FindByToken(ctx, env.mailer.LastLinkToken(t))
	require.NoError(t, err)
	assert.Equal(t, user.ID, record.UserID)
}

func TestAuthService_ResendFailureKeepsOldLink(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	env.register(t, "a@x.com")
	first := env.mailer.LastLinkToken(t)

	env.mailer.Err = errors.New("smtp unavailable")
	assert.EqualError(t, env.svc.ResendVerification(ctx, "a@x.com"), "smtp unavailable")
	env.mailer.Err = nil

	verified, pair, err := env.svc.VerifyEmail(ctx, first)
	require.NoError(t, err)
	assert.True(t, verified.Enabled)
	assert.NotNil(t, pair)
}

func TestAuthService_VerifyEmailRejectsReuseAndExpiry(t *testing.T) {
	t.Run("reuse", func(t *testing.T) {
		env := newAuthEnv(t)
		env.register(t, "a@x.com")
		link := env.mailer.LastLinkToken(t)

		_, _, err := env.svc.VerifyEmail(context.Background(), link)
		require.NoError(t, err)
		_, _, err = env.svc.VerifyEmail(context.Background(), link)
		assert.ErrorIs(t, err, service.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		env := newAuthEnv(t)
		env.register(t, "a@x.com")
		link := env.mailer.LastLinkToken(t)

		env.clock.Advance(30 * time.Minute)
		_, _, err := env.svc.VerifyEmail(context.Background(), link)
		assert.ErrorIs(t, err, service.ErrTokenExpired)
	})

	t.Run("unknown", func(t *testing.T) {
		env := newAuthEnv(t)
		_, _, err := env.svc.VerifyEmail(context.Background(), "not-a-token")
		assert.ErrorIs(t, err, service.ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		env := newAuthEnv(t)
		_, _, err := env.svc.VerifyEmail(context.Background(), "")
		assert.ErrorIs(t, err, service.ErrNoTokenProvided)
	})
}

func TestAuthService_ResendVerificationInvalidatesOldLink(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	env.register(t, "a@x.com")
	first := env.mailer.LastLinkToken(t)

	require.NoError(t, env.svc.ResendVerification(ctx, "a@x.com"))
	second := env.mailer.LastLinkToken(t)
	require.NotEqual(t, first, second)

	_, _, err := env.svc.VerifyEmail(ctx, first)
	assert.ErrorIs(t, err, service.ErrTokenExpired)

	_, _, err = env.svc.VerifyEmail(ctx, second)
	assert.NoError(t, err)

	// Verified and unknown addresses are silent.
	before := len(env.mailer.Sent())
	assert.NoError(t, env.svc.ResendVerification(ctx, "a@x.com"))
	assert.NoError(t, env.svc.ResendVerification(ctx, "ghost@x.com"))
	assert.Len(t, env.mailer.Sent(), before)
}

func TestAuthService_Login(t *testing.T) {
	t.Run("unverified account is blocked before the password check", func(t *testing.T) {
		env := newAuthEnv(t)
		env.register(t, "a@x.com")

		_, _, err := env.svc.Login(context.Background(), "a@x.com", "wrong")
		assert.ErrorIs(t, err, service.ErrVerificationRequired)
	})

	t.Run("bad credentials", func(t *testing.T) {
		env := newAuthEnv(t)
		env.registerVerified(t, "a@x.com")

		_, _, err := env.svc.Login(context.Background(), "a@x.com", "wrong")
		assert.ErrorIs(t, err, service.ErrInvalidCredentials)

		_, _, err = env.svc.Login(context.Background(), "ghost@x.com", "whatever")
		assert.ErrorIs(t, err, service.ErrInvalidCredentials)
		assert.True(t, env.recorder.has(audit.EventLogin, audit.OutcomeFailure))
	})

	t.Run("missing fields", func(t *testing.T) {
		env := newAuthEnv(t)
		_, _, err := env.svc.Login(context.Background(), "", "pw")
		assert.ErrorIs(t, err, service.ErrIncorrectRequest)
	})

	t.Run("disabled account", func(t *testing.T) {
		env := newAuthEnv(t)
		user, _ := env.registerVerified(t, "a@x.com")
		user.Active = false
		require.NoError(t, env.users.Update(context.Background(), user))

		_, _, err := env.svc.Login(context.Background(), "a@x.com", "correct horse")
		assert.ErrorIs(t, err, service.ErrAccountDisabled)
	})

	t.Run("revokes the previous session", func(t *testing.T) {
		env := newAuthEnv(t)
		ctx := context.Background()
		_, first := env.registerVerified(t, "a@x.com")

		_, second, err := env.svc.Login(ctx, "a@x.com", "correct horse")
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.NotEqual(t, first.AccessToken, second.AccessToken)

		for _, old := range []string{first.AccessToken, first.RefreshToken} {
			record, err := env.tokens.FindByToken(ctx, old)
			require.NoError(t, err)
			assert.True(t, record.Expired)
			assert.True(t, record.Revoked)
		}

		_, err = env.svc.Authenticate(ctx, first.AccessToken)
		assert.ErrorIs(t, err, service.ErrInvalidToken)

		principal, err := env.svc.Authenticate(ctx, second.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", principal.Email)
	})
}

func TestAuthService_TwoFactorLogin(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	user, _ := env.registerVerified(t, "a@x.com")
	user.TwoFactorEnabled = true
	require.NoError(t, env.users.Update(ctx, user))
	mailsBefore := len(env.mailer.Sent())

	loggedIn, pair, err := env.svc.Login(ctx, "a@x.com", "correct horse")
	require.NoError(t, err)
	assert.Nil(t, pair, "no tokens before the second factor")
	assert.Equal(t, user.ID, loggedIn.ID)
	require.Len(t, env.mailer.Sent(), mailsBefore+1)
	assert.Equal(t, "Your sign-in link", env.mailer.Sent()[mailsBefore].Subject)

	link := env.mailer.LastLinkToken(t)
	confirmed, pair, err := env.svc.ConfirmTwoFactor(ctx, link)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.True(t, confirmed.Enabled)
	assert.True(t, env.recorder.has(audit.EventTwoFactorConfirmed, audit.OutcomeSuccess))

	_, _, err = env.svc.ConfirmTwoFactor(ctx, link)
	assert.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestAuthService_FailedRedemptionKeepsLink(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	user, _ := env.registerVerified(t, "a@x.com")
	user.TwoFactorEnabled = true
	require.NoError(t, env.users.Update(ctx, user))

	_, _, err := env.svc.Login(ctx, "a@x.com", "correct horse")
	require.NoError(t, err)
	link := env.mailer.LastLinkToken(t)

	user.Enabled = false
	require.NoError(t, env.users.Update(ctx, user))
	_, _, err = env.svc.ConfirmTwoFactor(ctx, link)
	assert.ErrorIs(t, err, service.ErrVerificationRequired)

	record, err := env.tokens.FindByToken(ctx, link)
	require.NoError(t, err, "rejected confirmation must not consume the link")
	assert.True(t, record.IsActive())

	user.Enabled = true
	require.NoError(t, env.users.Update(ctx, user))
	_, pair, err := env.svc.ConfirmTwoFactor(ctx, link)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestAuthService_TwoFactorTokenExpires(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	user, _ := env.registerVerified(t, "a@x.com")
	user.TwoFactorEnabled = true
	require.NoError(t, env.users.Update(ctx, user))

	_, _, err := env.svc.Login(ctx, "a@x.com", "correct horse")
	require.NoError(t, err)

	env.clock.Advance(5 * time.Minute)
	_, _, err = env.svc.ConfirmTwoFactor(ctx, env.mailer.LastLinkToken(t))
	assert.ErrorIs(t, err, service.ErrTokenExpired)
}

func TestAuthService_RedeemLinkDispatchesByPurpose(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	env.register(t, "a@x.com")
	user, pair, err := env.svc.RedeemLink(ctx, env.mailer.LastLinkToken(t))
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.True(t, user.Enabled)

	user.TwoFactorEnabled = true
	require.NoError(t, env.users.Update(ctx, user))
	_, _, err = env.svc.Login(ctx, "a@x.com", "correct horse")
	require.NoError(t, err)

	_, pair, err = env.svc.RedeemLink(ctx, env.mailer.LastLinkToken(t))
	require.NoError(t, err)
	require.NotNil(t, pair)

	_, _, err = env.svc.RedeemLink(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, service.ErrInvalidToken, "session tokens are not links")

	_, _, err = env.svc.RedeemLink(ctx, "")
	assert.ErrorIs(t, err, service.ErrNoTokenProvided)
}

func TestAuthService_RefreshToken(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	_, pair := env.registerVerified(t, "a@x.com")

	refreshed, err := env.svc.RefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, refreshed.RefreshToken, "refresh token is re-returned")
	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)

	_, err = env.svc.Authenticate(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, service.ErrInvalidToken, "previous access token is revoked")

	_, err = env.svc.Authenticate(ctx, refreshed.AccessToken)
	assert.NoError(t, err)

	again, err := env.svc.RefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, again.RefreshToken)
	assert.True(t, env.recorder.has(audit.EventTokenRefreshed, audit.OutcomeSuccess))
}

func TestAuthService_RefreshTokenFailures(t *testing.T) {
	t.Run("no token", func(t *testing.T) {
		env := newAuthEnv(t)
		_, err := env.svc.RefreshToken(context.Background(), "")
		assert.ErrorIs(t, err, service.ErrNoTokenProvided)
	})

	t.Run("revoked refresh token", func(t *testing.T) {
		env := newAuthEnv(t)
		ctx := context.Background()
		_, first := env.registerVerified(t, "a@x.com")
		_, _, err := env.svc.Login(ctx, "a@x.com", "correct horse")
		require.NoError(t, err)

		pair, err := env.svc.RefreshToken(ctx, first.RefreshToken)
		assert.ErrorIs(t, err, service.ErrInvalidToken)
		assert.Nil(t, pair)
	})

	t.Run("access token presented", func(t *testing.T) {
		env := newAuthEnv(t)
		_, pair := env.registerVerified(t, "a@x.com")
		_, err := env.svc.RefreshToken(context.Background(), pair.AccessToken)
		assert.ErrorIs(t, err, service.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		env := newAuthEnv(t)
		_, pair := env.registerVerified(t, "a@x.com")
		env.clock.Advance(24 * time.Hour)
		_, err := env.svc.RefreshToken(context.Background(), pair.RefreshToken)
		assert.ErrorIs(t, err, service.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		env := newAuthEnv(t)
		_, err := env.svc.RefreshToken(context.Background(), "garbage")
		assert.ErrorIs(t, err, service.ErrInvalidToken)
	})

	t.Run("disabled owner", func(t *testing.T) {
		env := newAuthEnv(t)
		user, pair := env.registerVerified(t, "a@x.com")
		user.Active = false
		require.NoError(t, env.users.Update(context.Background(), user))

		_, err := env.svc.RefreshToken(context.Background(), pair.RefreshToken)
		assert.ErrorIs(t, err, service.ErrAccountDisabled)
	})
}

func TestAuthService_LogoutRevokesOnlyPresentedToken(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	_, pair := env.registerVerified(t, "a@x.com")

	require.NoError(t, env.svc.Logout(ctx, pair.AccessToken))

	access, err := env.tokens.FindByToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, access.Expired)
	assert.True(t, access.Revoked)

	refresh, err := env.tokens.FindByToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, refresh.IsActive())

	_, err = env.svc.Authenticate(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, service.ErrInvalidToken)

	assert.NoError(t, env.svc.Logout(ctx, ""))
	assert.NoError(t, env.svc.Logout(ctx, "unknown"))
}

func TestAuthService_Authenticate(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	user, pair := env.registerVerified(t, "a@x.com")

	principal, err := env.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.UserID)
	assert.Equal(t, []string{models.RoleUser}, principal.Roles)
	assert.Equal(t, []string{"profile:read"}, principal.Permissions)

	claims, err := env.codec.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{models.RoleUser}, claims.Roles)

	_, err = env.svc.Authenticate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, service.ErrInvalidToken, "refresh tokens do not authenticate requests")

	_, err = env.svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, service.ErrNoTokenProvided)

	env.clock.Advance(15 * time.Minute)
	_, err = env.svc.Authenticate(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestAuthService_AuthenticateRejectsForeignSubject(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	_, pair := env.registerVerified(t, "a@x.com")
	env.registerVerified(t, "b@x.com")

	// A token signed for b but stored under a's id must not authenticate.
	forged, err := env.codec.Issue("b@x.com", token.PurposeAccess, nil)
	require.NoError(t, err)
	principal, err := env.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	_, err = env.tokens.Save(ctx, principal.UserID, forged, models.TokenTypeAccess)
	require.NoError(t, err)

	_, err = env.svc.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestAuthService_LinkTargetsBaseURL(t *testing.T) {
	env := newAuthEnv(t)
	env.register(t, "a@x.com")

	body := env.mailer.Sent()[0].Body
	assert.True(t, strings.Contains(body, "/auth/verify?token="+env.mailer.LastLinkToken(t)))
	assert.Contains(t, body, "30m0s")
}
