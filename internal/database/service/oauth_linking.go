package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/audit"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/repository"
)

// FederatedIdentity is the raw attribute map a provider returned for the
// signed-in account.
type FederatedIdentity struct {
	Provider   models.Provider
	Attributes map[string]any
}

// FederatedProfile is the provider-neutral view used for account linking.
type FederatedProfile struct {
	Email       string
	DisplayName string
}

// ResolveFederatedProfile extracts email and display name using the
// attribute conventions of each provider.
func ResolveFederatedProfile(identity FederatedIdentity) (FederatedProfile, error) {
	attr := func(key string) string {
		return attributeString(identity.Attributes[key])
	}

	var profile FederatedProfile
	switch identity.Provider {
	case models.ProviderGitHub:
		login := attr("login")
		profile.Email = attr("email")
		if profile.Email == "" && login != "" {
			profile.Email = login + "@users.noreply.github.com"
		}
		profile.DisplayName = firstNonEmpty(attr("name"), login)
	case models.ProviderFacebook:
		id := attr("id")
		profile.Email = attr("email")
		if profile.Email == "" && id != "" {
			profile.Email = id + "@facebook.com"
		}
		profile.DisplayName = firstNonEmpty(attr("name"), joinName(attr("first_name"), attr("last_name")))
	case models.ProviderGoogle:
		profile.Email = attr("email")
		profile.DisplayName = firstNonEmpty(attr("name"), joinName(attr("given_name"), attr("family_name")))
	default:
		return FederatedProfile{}, ErrUnsupportedProvider
	}

	profile.Email = normalizeEmail(profile.Email)
	if profile.Email == "" {
		return FederatedProfile{}, ErrIncorrectRequest
	}
	if profile.DisplayName == "" {
		profile.DisplayName = strings.SplitN(profile.Email, "@", 2)[0]
	}
	return profile, nil
}

// CompleteOAuth2Login links the federated account to a local user, creating
// one on first sight, and opens a session. Verification and 2FA are skipped:
// the provider already authenticated the person.
func (s *authService) CompleteOAuth2Login(ctx context.Context, identity FederatedIdentity) (*models.User, *TokenPair, error) {
	profile, err := ResolveFederatedProfile(identity)
	if err != nil {
		s.logger.Warn("⚠️ [AuthService] Unusable federated identity", "provider", identity.Provider, "error", err)
		s.record(ctx, audit.EventOAuth2Login, audit.OutcomeFailure, nil, err.Error())
		return nil, nil, err
	}

	s.logger.Info("🌐 [AuthService] OAuth2 login", "provider", identity.Provider, "email", profile.Email)

	user, err := s.userRepo.FindByEmail(ctx, profile.Email)
	created := false
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		user, err = s.newFederatedUser(identity.Provider, profile)
		if err != nil {
			return nil, nil, err
		}
		created = true
	case err != nil:
		s.logger.Error("❌ [AuthService] Database error", "error", err)
		return nil, nil, err
	case !user.Active:
		s.record(ctx, audit.EventOAuth2Login, audit.OutcomeFailure, user, "account disabled")
		return nil, nil, ErrAccountDisabled
	}

	var pair *TokenPair
	err = s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		switch {
		case created:
			role, err := st.Roles.FindByTitle(ctx, models.RoleUser)
			if err != nil {
				s.logger.Error("❌ [AuthService] Default role missing", "role", models.RoleUser, "error", err)
				return err
			}
			user.Roles = []models.Role{*role}
			if err := st.Users.Create(ctx, user); err != nil {
				s.logger.Error("❌ [AuthService] Failed to create user", "error", err)
				return err
			}
		case !user.Enabled:
			user.Enabled = true
			if err := st.Users.Update(ctx, user); err != nil {
				s.logger.Error("❌ [AuthService] Failed to enable user", "user_id", user.ID, "error", err)
				return err
			}
		}

		var err error
		pair, err = s.issueSession(ctx, st, user)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if created {
		s.record(ctx, audit.EventRegistered, audit.OutcomeSuccess, user, string(identity.Provider))
	}
	s.record(ctx, audit.EventOAuth2Login, audit.OutcomeSuccess, user, string(identity.Provider))
	s.logger.Info("✅ [AuthService] OAuth2 login completed", "user_id", user.ID, "provider", identity.Provider)
	return user, pair, nil
}

// newFederatedUser builds an enabled account for a first-time federated login.
// Its password hash matches nothing a person can type.
func (s *authService) newFederatedUser(provider models.Provider, profile FederatedProfile) (*models.User, error) {
	hashed, err := s.hasher.Hash(unusablePassword())
	if err != nil {
		s.logger.Error("❌ [AuthService] Failed to hash password", "error", err)
		return nil, err
	}

	first, last := splitName(profile.DisplayName)
	return &models.User{
		Email:     profile.Email,
		Password:  hashed,
		FirstName: first,
		LastName:  last,
		Active:    true,
		Enabled:   true,
		Provider:  provider,
	}, nil
}

// attributeString renders JSON-decoded scalars. GitHub sends numeric ids.
func attributeString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

func splitName(display string) (string, string) {
	fields := strings.Fields(display)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
