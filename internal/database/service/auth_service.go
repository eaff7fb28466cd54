package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/audit"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/auth"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/config"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/repository"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/mail"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/token"
)

// AuthService defines the interface for authentication business logic
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	ResendVerification(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, verificationToken string) (*models.User, *TokenPair, error)
	Login(ctx context.Context, email, password string) (*models.User, *TokenPair, error)
	ConfirmTwoFactor(ctx context.Context, twoFactorToken string) (*models.User, *TokenPair, error)
	RedeemLink(ctx context.Context, linkToken string) (*models.User, *TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, accessToken string) error
	CompleteOAuth2Login(ctx context.Context, identity FederatedIdentity) (*models.User, *TokenPair, error)
	Authenticate(ctx context.Context, accessToken string) (*auth.Principal, error)
}

// TokenPair represents access and refresh tokens
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // Access token lifetime in seconds
}

// RegisterInput carries a local sign-up.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

type authService struct {
	userRepo  repository.UserRepository
	roleRepo  repository.RoleRepository
	tokenRepo repository.TokenRepository
	tx        repository.Transactor
	codec     *token.Codec
	hasher    PasswordHasher
	mailer    mail.Sender
	audit     audit.Recorder
	cfg       *config.Config
	logger    *slog.Logger
}

// NewAuthService creates a new authentication service instance
func NewAuthService(
	userRepo repository.UserRepository,
	roleRepo repository.RoleRepository,
	tokenRepo repository.TokenRepository,
	tx repository.Transactor,
	codec *token.Codec,
	hasher PasswordHasher,
	mailer mail.Sender,
	recorder audit.Recorder,
	cfg *config.Config,
	logger *slog.Logger,
) AuthService {
	if recorder == nil {
		recorder = audit.Discard
	}
	if tx == nil {
		tx = repository.Inline(repository.Stores{Users: userRepo, Roles: roleRepo, Tokens: tokenRepo})
	}
	return &authService{
		userRepo:  userRepo,
		roleRepo:  roleRepo,
		tokenRepo: tokenRepo,
		tx:        tx,
		codec:     codec,
		hasher:    hasher,
		mailer:    mailer,
		audit:     recorder,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.Email == "" || in.Password == "" || in.FirstName == "" || in.LastName == "" {
		return nil, ErrIncorrectRequest
	}

	s.logger.Info("📝 [AuthService] Registration attempt", "email", in.Email)

	existing, err := s.userRepo.FindByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		s.logger.Error("❌ [AuthService] Database error", "error", err)
		return nil, err
	}
	if existing != nil {
		s.logger.Warn("⚠️ [AuthService] Email already registered", "email", in.Email)
		s.record(ctx, audit.EventRegistered, audit.OutcomeFailure, existing, "email already registered")
		return nil, ErrAlreadyExists
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.logger.Error("❌ [AuthService] Failed to hash password", "error", err)
		return nil, err
	}

	user := &models.User{
		Email:     in.Email,
		Password:  hashed,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     strings.TrimSpace(in.Phone),
		Active:    true,
		Enabled:   false,
		Provider:  models.ProviderLocal,
	}

	// The account only exists once its verification link went out.
	err = s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		role, err := st.Roles.FindByTitle(ctx, models.RoleUser)
		if err != nil {
			s.logger.Error("❌ [AuthService] Default role missing", "role", models.RoleUser, "error", err)
			return fmt.Errorf("load default role: %w", err)
		}
		user.Roles = []models.Role{*role}

		if err := st.Users.Create(ctx, user); err != nil {
			s.logger.Error("❌ [AuthService] Failed to create user", "error", err)
			return err
		}
		return s.sendLink(ctx, st, user, token.PurposeVerification)
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.EventRegistered, audit.OutcomeSuccess, user, "")
	s.logger.Info("✅ [AuthService] User registered, verification pending", "user_id", user.ID)
	return user, nil
}

// ResendVerification mails a fresh verification link. Unknown and already
// verified addresses succeed silently so the endpoint cannot enumerate users.
func (s *authService) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrIncorrectRequest
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if user.Enabled || !user.Active {
		return nil
	}

	// Older links stop working once a new one is sent.
	return s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		if err := st.Tokens.RevokeAllForUser(ctx, user.ID); err != nil {
			s.logger.Error("❌ [AuthService] Failed to revoke tokens", "user_id", user.ID, "error", err)
			return err
		}
		return s.sendLink(ctx, st, user, token.PurposeVerification)
	})
}

// VerifyEmail consumes the link, enables the account and opens a session as
// one unit. A failure at any step leaves the link redeemable.
func (s *authService) VerifyEmail(ctx context.Context, verificationToken string) (*models.User, *TokenPair, error) {
	var (
		user *models.User
		pair *TokenPair
	)
	err := s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		var err error
		user, err = s.redeemOneShot(ctx, st, verificationToken, models.TokenTypeVerification)
		if err != nil {
			return err
		}

		if !user.Enabled {
			user.Enabled = true
			if err := st.Users.Update(ctx, user); err != nil {
				s.logger.Error("❌ [AuthService] Failed to enable user", "user_id", user.ID, "error", err)
				return err
			}
		}

		pair, err = s.issueSession(ctx, st, user)
		return err
	})
	if err != nil {
		s.record(ctx, audit.EventEmailVerified, audit.OutcomeFailure, nil, err.Error())
		return nil, nil, err
	}

	s.record(ctx, audit.EventEmailVerified, audit.OutcomeSuccess, user, "")
	s.logger.Info("✅ [AuthService] Email verified", "user_id", user.ID)
	return user, pair, nil
}

// Login returns a nil pair and a nil error when a second factor was mailed.
func (s *authService) Login(ctx context.Context, email, password string) (*models.User, *TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, ErrIncorrectRequest
	}

	s.logger.Info("🔐 [AuthService] Login attempt", "email", email)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Warn("⚠️ [AuthService] User not found", "email", email)
			s.record(ctx, audit.EventLogin, audit.OutcomeFailure, &models.User{Email: email}, "unknown email")
			return nil, nil, ErrInvalidCredentials
		}
		s.logger.Error("❌ [AuthService] Database error", "error", err)
		return nil, nil, err
	}

	if !user.Enabled {
		s.record(ctx, audit.EventLogin, audit.OutcomeFailure, user, "email not verified")
		return nil, nil, ErrVerificationRequired
	}

	if !user.Active {
		s.record(ctx, audit.EventLogin, audit.OutcomeFailure, user, "account disabled")
		return nil, nil, ErrAccountDisabled
	}

	if !s.hasher.Matches(password, user.Password) {
		s.logger.Warn("⚠️ [AuthService] Invalid password", "email", email)
		s.record(ctx, audit.EventLogin, audit.OutcomeFailure, user, "invalid password")
		return nil, nil, ErrInvalidCredentials
	}

	if user.TwoFactorEnabled {
		err := s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
			return s.sendLink(ctx, st, user, token.PurposeTwoFactor)
		})
		if err != nil {
			return nil, nil, err
		}
		s.record(ctx, audit.EventTwoFactorChallenge, audit.OutcomeSuccess, user, "")
		s.logger.Info("📧 [AuthService] Second factor mailed", "user_id", user.ID)
		return user, nil, nil
	}

	var pair *TokenPair
	err = s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		var issueErr error
		pair, issueErr = s.issueSession(ctx, st, user)
		return issueErr
	})
	if err != nil {
		return nil, nil, err
	}

	s.record(ctx, audit.EventLogin, audit.OutcomeSuccess, user, "")
	s.logger.Info("✅ [AuthService] User logged in successfully", "user_id", user.ID)
	return user, pair, nil
}

// ConfirmTwoFactor consumes the sign-in link and opens a session as one unit.
func (s *authService) ConfirmTwoFactor(ctx context.Context, twoFactorToken string) (*models.User, *TokenPair, error) {
	var (
		user *models.User
		pair *TokenPair
	)
	err := s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		var err error
		user, err = s.redeemOneShot(ctx, st, twoFactorToken, models.TokenTypeTwoFactor)
		if err != nil {
			return err
		}
		if !user.Enabled {
			return ErrVerificationRequired
		}

		pair, err = s.issueSession(ctx, st, user)
		return err
	})
	if err != nil {
		s.record(ctx, audit.EventTwoFactorConfirmed, audit.OutcomeFailure, user, err.Error())
		return nil, nil, err
	}

	s.record(ctx, audit.EventTwoFactorConfirmed, audit.OutcomeSuccess, user, "")
	s.logger.Info("✅ [AuthService] Second factor confirmed", "user_id", user.ID)
	return user, pair, nil
}

// RedeemLink serves the single emailed link route and dispatches on the
// stored purpose of the token.
func (s *authService) RedeemLink(ctx context.Context, linkToken string) (*models.User, *TokenPair, error) {
	if linkToken == "" {
		return nil, nil, ErrNoTokenProvided
	}

	record, err := s.tokenRepo.FindByToken(ctx, linkToken)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}

	switch record.Type {
	case models.TokenTypeVerification:
		return s.VerifyEmail(ctx, linkToken)
	case models.TokenTypeTwoFactor:
		return s.ConfirmTwoFactor(ctx, linkToken)
	default:
		return nil, nil, ErrInvalidToken
	}
}

// RefreshToken mints a new access token and hands the same refresh token
// back. Every other credential of the user is revoked first.
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrNoTokenProvided
	}

	s.logger.Info("🔄 [AuthService] Token refresh attempt")

	user, record, err := s.resolveStored(ctx, refreshToken, models.TokenTypeRefresh)
	if err != nil {
		s.logger.Warn("⚠️ [AuthService] Refresh rejected", "error", err)
		s.record(ctx, audit.EventTokenRefreshed, audit.OutcomeFailure, user, err.Error())
		return nil, err
	}

	access, err := s.codec.Issue(user.Username(), token.PurposeAccess, s.accessClaims(user))
	if err != nil {
		return nil, err
	}
	err = s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		if err := st.Tokens.RevokeAllForUserExcept(ctx, user.ID, record.Token); err != nil {
			s.logger.Error("❌ [AuthService] Failed to revoke tokens", "user_id", user.ID, "error", err)
			return err
		}
		if _, err := st.Tokens.Save(ctx, user.ID, access, models.TokenTypeAccess); err != nil {
			s.logger.Error("❌ [AuthService] Failed to store access token", "user_id", user.ID, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.EventTokenRefreshed, audit.OutcomeSuccess, user, "")
	s.logger.Info("✅ [AuthService] Token refreshed successfully", "user_id", user.ID)
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresIn:    s.expiresIn(),
	}, nil
}

// Logout revokes the presented token only. A missing or unknown token is
// not an error and changes nothing.
func (s *authService) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}

	record, err := s.tokenRepo.FindByToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil
		}
		s.logger.Error("❌ [AuthService] Database error", "error", err)
		return err
	}

	if err := s.tokenRepo.Revoke(ctx, record); err != nil {
		s.logger.Error("❌ [AuthService] Failed to revoke token", "error", err)
		return err
	}

	s.record(ctx, audit.EventLogout, audit.OutcomeSuccess, &models.User{ID: record.UserID}, "")
	s.logger.Info("👋 [AuthService] User logged out", "user_id", record.UserID)
	return nil
}

// Authenticate resolves an access token into a principal. The token must
// verify, belong to its subject, be unexpired and still be active in the store.
func (s *authService) Authenticate(ctx context.Context, accessToken string) (*auth.Principal, error) {
	if accessToken == "" {
		return nil, ErrNoTokenProvided
	}

	user, _, err := s.resolveStored(ctx, accessToken, models.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	return &auth.Principal{
		UserID:      user.ID,
		Email:       user.Email,
		Roles:       user.RoleTitles(),
		Permissions: user.Permissions(),
	}, nil
}

// resolveStored applies both validity layers to a session token: the signed
// expiry and subject, then the store record's type, owner and flags. Every
// token failure is ErrInvalidToken; only a disabled owner is reported apart.
func (s *authService) resolveStored(ctx context.Context, tok string, tokenType models.TokenType) (*models.User, *models.Token, error) {
	subject, err := s.codec.ParseSubject(tok)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, err := s.userRepo.FindByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}

	if !s.codec.IsValidFor(tok, user.Username()) {
		return user, nil, fmt.Errorf("%w: expired", ErrInvalidToken)
	}

	record, err := s.tokenRepo.FindByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return user, nil, ErrInvalidToken
		}
		return user, nil, err
	}
	if record.Type != tokenType || record.UserID != user.ID {
		return user, nil, ErrInvalidToken
	}
	if !record.IsActive() {
		return user, nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}
	if !user.Active {
		return user, nil, ErrAccountDisabled
	}
	return user, record, nil
}

// redeemOneShot validates an emailed token and deletes it through st.
// Concurrent redemptions race on the delete, so only one of them succeeds.
func (s *authService) redeemOneShot(ctx context.Context, st repository.Stores, tok string, tokenType models.TokenType) (*models.User, error) {
	if tok == "" {
		return nil, ErrNoTokenProvided
	}

	record, err := st.Tokens.FindByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if record.Type != tokenType {
		return nil, ErrInvalidToken
	}
	if !record.IsActive() || s.codec.IsExpired(tok) {
		return nil, ErrTokenExpired
	}

	user, err := st.Users.FindByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !s.codec.IsValidFor(tok, user.Username()) {
		return nil, ErrInvalidToken
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}

	if err := st.Tokens.DeleteByToken(ctx, tok); err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// issueSession revokes every outstanding credential of the user, then stores
// a fresh access and refresh token. Callers pass transaction-bound stores so
// the revoke and both saves commit together.
func (s *authService) issueSession(ctx context.Context, st repository.Stores, user *models.User) (*TokenPair, error) {
	access, err := s.codec.Issue(user.Username(), token.PurposeAccess, s.accessClaims(user))
	if err != nil {
		s.logger.Error("❌ [AuthService] Failed to generate tokens", "error", err)
		return nil, err
	}
	refresh, err := s.codec.Issue(user.Username(), token.PurposeRefresh, nil)
	if err != nil {
		s.logger.Error("❌ [AuthService] Failed to generate tokens", "error", err)
		return nil, err
	}

	if err := st.Tokens.RevokeAllForUser(ctx, user.ID); err != nil {
		s.logger.Error("❌ [AuthService] Failed to revoke tokens", "user_id", user.ID, "error", err)
		return nil, err
	}
	if _, err := st.Tokens.Save(ctx, user.ID, access, models.TokenTypeAccess); err != nil {
		s.logger.Error("❌ [AuthService] Failed to store access token", "user_id", user.ID, "error", err)
		return nil, err
	}
	if _, err := st.Tokens.Save(ctx, user.ID, refresh, models.TokenTypeRefresh); err != nil {
		s.logger.Error("❌ [AuthService] Failed to store refresh token", "user_id", user.ID, "error", err)
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.expiresIn(),
	}, nil
}

// sendLink stores a one-shot token and mails it as <BaseURL>/auth/verify?token=.
// A failed send returns an error so the surrounding transaction drops the token.
func (s *authService) sendLink(ctx context.Context, st repository.Stores, user *models.User, purpose token.Purpose) error {
	tok, err := s.codec.Issue(user.Username(), purpose, nil)
	if err != nil {
		return err
	}
	if _, err := st.Tokens.Save(ctx, user.ID, tok, models.TokenType(purpose)); err != nil {
		s.logger.Error("❌ [AuthService] Failed to store link token", "user_id", user.ID, "error", err)
		return err
	}

	subject, intro := "Verify your email address", "Open the link below to activate your account."
	if purpose == token.PurposeTwoFactor {
		subject, intro = "Your sign-in link", "Open the link below to finish signing in."
	}
	body := fmt.Sprintf("Hello %s,\n\n%s\n\n%s\n\nThe link expires in %s.\n",
		user.FirstName, intro, s.linkURL(tok), s.codec.Lifetime(purpose))

	if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
		s.logger.Error("❌ [AuthService] Failed to send email", "user_id", user.ID, "error", err)
		return err
	}

	if purpose == token.PurposeVerification {
		s.record(ctx, audit.EventVerificationSent, audit.OutcomeSuccess, user, "")
	}
	return nil
}

func (s *authService) linkURL(tok string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/auth/verify?token=" + url.QueryEscape(tok)
}

func (s *authService) accessClaims(user *models.User) map[string]any {
	return map[string]any{"roles": user.RoleTitles()}
}

func (s *authService) expiresIn() int64 {
	return int64(s.codec.Lifetime(token.PurposeAccess).Seconds())
}

func (s *authService) record(ctx context.Context, eventType audit.EventType, outcome audit.Outcome, user *models.User, reason string) {
	event := audit.Event{Type: eventType, Outcome: outcome, Reason: reason}
	if user != nil {
		event.UserID = user.ID
		event.Email = user.Email
	}
	s.audit.Record(ctx, event)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
