package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/audit"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/auth"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// UserService defines the interface for user business logic
type UserService interface {
	// Self service
	Profile(ctx context.Context, principal auth.Principal) (*models.User, error)
	SetTwoFactor(ctx context.Context, principal auth.Principal, enabled bool) (*models.User, error)

	// Administration
	Disable(ctx context.Context, actor auth.Principal, userID uint) error
	Enable(ctx context.Context, actor auth.Principal, userID uint) error
	AssignRoles(ctx context.Context, actor auth.Principal, userID uint, titles []string) (*models.User, error)
	List(ctx context.Context, page, pageSize int) ([]models.User, int64, error)
	Roles(ctx context.Context) ([]models.Role, error)
}

type userService struct {
	userRepo  repository.UserRepository
	roleRepo  repository.RoleRepository
	tokenRepo repository.TokenRepository
	tx        repository.Transactor
	audit     audit.Recorder
	logger    *slog.Logger
}

// NewUserService creates a new user service instance
func NewUserService(
	userRepo repository.UserRepository,
	roleRepo repository.RoleRepository,
	tokenRepo repository.TokenRepository,
	tx repository.Transactor,
	recorder audit.Recorder,
	logger *slog.Logger,
) UserService {
	if recorder == nil {
		recorder = audit.Discard
	}
	if tx == nil {
		tx = repository.Inline(repository.Stores{Users: userRepo, Roles: roleRepo, Tokens: tokenRepo})
	}
	return &userService{
		userRepo:  userRepo,
		roleRepo:  roleRepo,
		tokenRepo: tokenRepo,
		tx:        tx,
		audit:     recorder,
		logger:    logger,
	}
}

// ==================== Self Service ====================

func (s *userService) Profile(ctx context.Context, principal auth.Principal) (*models.User, error) {
	return s.findUser(ctx, principal.UserID)
}

func (s *userService) SetTwoFactor(ctx context.Context, principal auth.Principal, enabled bool) (*models.User, error) {
	user, err := s.findUser(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled == enabled {
		return user, nil
	}

	user.TwoFactorEnabled = enabled
	if err := s.userRepo.Update(ctx, user); err != nil {
		s.logger.Error("❌ [UserService] Failed to update two-factor setting", "user_id", user.ID, "error", err)
		return nil, err
	}

	s.record(ctx, audit.EventTwoFactorToggled, user.ID, user.Email, "enabled="+strconv.FormatBool(enabled))
	s.logger.Info("🔒 [UserService] Two-factor setting changed", "user_id", user.ID, "enabled", enabled)
	return user, nil
}

// ==================== Administration ====================

// Disable soft-deletes the account and revokes every credential it holds.
func (s *userService) Disable(ctx context.Context, actor auth.Principal, userID uint) error {
	if actor.UserID == userID {
		return ErrIncorrectRequest
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.Active {
		return ErrAlreadyDisabled
	}

	user.Active = false
	err = s.tx.WithinTransaction(ctx, func(st repository.Stores) error {
		if err := st.Users.Update(ctx, user); err != nil {
			s.logger.Error("❌ [UserService] Failed to disable user", "user_id", userID, "error", err)
			return err
		}
		if err := st.Tokens.RevokeAllForUser(ctx, userID); err != nil {
			s.logger.Error("❌ [UserService] Failed to revoke tokens", "user_id", userID, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.record(ctx, audit.EventAccountDisabled, user.ID, user.Email, "by user "+strconv.FormatUint(uint64(actor.UserID), 10))
	s.logger.Info("🚫 [UserService] User disabled", "user_id", userID, "actor_id", actor.UserID)
	return nil
}

func (s *userService) Enable(ctx context.Context, actor auth.Principal, userID uint) error {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Active {
		return ErrAlreadyEnabled
	}

	user.Active = true
	if err := s.userRepo.Update(ctx, user); err != nil {
		s.logger.Error("❌ [UserService] Failed to enable user", "user_id", userID, "error", err)
		return err
	}

	s.record(ctx, audit.EventAccountEnabled, user.ID, user.Email, "by user "+strconv.FormatUint(uint64(actor.UserID), 10))
	s.logger.Info("✅ [UserService] User enabled", "user_id", userID, "actor_id", actor.UserID)
	return nil
}

// AssignRoles replaces the role set of a user. Unknown titles fail the whole call.
func (s *userService) AssignRoles(ctx context.Context, actor auth.Principal, userID uint, titles []string) (*models.User, error) {
	cleaned := make([]string, 0, len(titles))
	for _, t := range titles {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrIncorrectRequest
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	roles, err := s.roleRepo.FindByTitles(ctx, cleaned)
	if err != nil {
		if errors.Is(err, repository.ErrRoleNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := s.userRepo.ReplaceRoles(ctx, user, roles); err != nil {
		s.logger.Error("❌ [UserService] Failed to replace roles", "user_id", userID, "error", err)
		return nil, err
	}

	s.record(ctx, audit.EventRolesChanged, user.ID, user.Email, strings.Join(user.RoleTitles(), ","))
	s.logger.Info("🎭 [UserService] Roles replaced", "user_id", userID, "roles", user.RoleTitles(), "actor_id", actor.UserID)
	return user, nil
}

func (s *userService) List(ctx context.Context, page, pageSize int) ([]models.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.userRepo.List(ctx, page, pageSize)
}

func (s *userService) Roles(ctx context.Context) ([]models.Role, error) {
	return s.roleRepo.List(ctx)
}

func (s *userService) findUser(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		s.logger.Error("❌ [UserService] Database error", "error", err)
		return nil, err
	}
	return user, nil
}

func (s *userService) record(ctx context.Context, eventType audit.EventType, userID uint, email, reason string) {
	s.audit.Record(ctx, audit.Event{
		Type:    eventType,
		Outcome: audit.OutcomeSuccess,
		UserID:  userID,
		Email:   email,
		Reason:  reason,
	})
}
