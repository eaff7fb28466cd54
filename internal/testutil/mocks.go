package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/auth"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
)

// ==================== MOCK USER REPOSITORY ====================

// MockUserRepository implements repository.UserRepository for testing
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) Update(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) ReplaceRoles(ctx context.Context, user *models.User, roles []models.Role) error {
	args := m.Called(ctx, user, roles)
	return args.Error(0)
}

func (m *MockUserRepository) List(ctx context.Context, page, pageSize int) ([]models.User, int64, error) {
	args := m.Called(ctx, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.User), args.Get(1).(int64), args.Error(2)
}

// ==================== MOCK ROLE REPOSITORY ====================

// MockRoleRepository implements repository.RoleRepository for testing
type MockRoleRepository struct {
	mock.Mock
}

func (m *MockRoleRepository) FindByTitle(ctx context.Context, title string) (*models.Role, error) {
	args := m.Called(ctx, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Role), args.Error(1)
}

func (m *MockRoleRepository) FindByTitles(ctx context.Context, titles []string) ([]models.Role, error) {
	args := m.Called(ctx, titles)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Role), args.Error(1)
}

func (m *MockRoleRepository) List(ctx context.Context) ([]models.Role, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Role), args.Error(1)
}

// ==================== MOCK TOKEN REPOSITORY ====================

// MockTokenRepository implements repository.TokenRepository for testing
type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Save(ctx context.Context, userID uint, token string, tokenType models.TokenType) (*models.Token, error) {
	args := m.Called(ctx, userID, token, tokenType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Token), args.Error(1)
}

func (m *MockTokenRepository) FindByToken(ctx context.Context, token string) (*models.Token, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Token), args.Error(1)
}

func (m *MockTokenRepository) RevokeAllForUser(ctx context.Context, userID uint) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockTokenRepository) RevokeAllForUserExcept(ctx context.Context, userID uint, keep string) error {
	args := m.Called(ctx, userID, keep)
	return args.Error(0)
}

func (m *MockTokenRepository) Revoke(ctx context.Context, token *models.Token) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepository) DeleteByToken(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// ==================== MOCK AUTH SERVICE ====================

// MockAuthService implements service.AuthService for testing
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Register(ctx context.Context, in service.RegisterInput) (*models.User, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAuthService) ResendVerification(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockAuthService) VerifyEmail(ctx context.Context, verificationToken string) (*models.User, *service.TokenPair, error) {
	return m.userAndPair(m.Called(ctx, verificationToken))
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*models.User, *service.TokenPair, error) {
	return m.userAndPair(m.Called(ctx, email, password))
}

func (m *MockAuthService) ConfirmTwoFactor(ctx context.Context, twoFactorToken string) (*models.User, *service.TokenPair, error) {
	return m.userAndPair(m.Called(ctx, twoFactorToken))
}

func (m *MockAuthService) RedeemLink(ctx context.Context, linkToken string) (*models.User, *service.TokenPair, error) {
	return m.userAndPair(m.Called(ctx, linkToken))
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*service.TokenPair, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.TokenPair), args.Error(1)
}

func (m *MockAuthService) Logout(ctx context.Context, accessToken string) error {
	args := m.Called(ctx, accessToken)
	return args.Error(0)
}

func (m *MockAuthService) CompleteOAuth2Login(ctx context.Context, identity service.FederatedIdentity) (*models.User, *service.TokenPair, error) {
	return m.userAndPair(m.Called(ctx, identity))
}

func (m *MockAuthService) Authenticate(ctx context.Context, accessToken string) (*auth.Principal, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Principal), args.Error(1)
}

func (m *MockAuthService) userAndPair(args mock.Arguments) (*models.User, *service.TokenPair, error) {
	var user *models.User
	var pair *service.TokenPair
	if args.Get(0) != nil {
		user = args.Get(0).(*models.User)
	}
	if args.Get(1) != nil {
		pair = args.Get(1).(*service.TokenPair)
	}
	return user, pair, args.Error(2)
}

// ==================== MOCK USER SERVICE ====================

// MockUserService implements service.UserService for testing
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Profile(ctx context.Context, principal auth.Principal) (*models.User, error) {
	args := m.Called(ctx, principal)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) SetTwoFactor(ctx context.Context, principal auth.Principal, enabled bool) (*models.User, error) {
	args := m.Called(ctx, principal, enabled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Disable(ctx context.Context, actor auth.Principal, userID uint) error {
	args := m.Called(ctx, actor, userID)
	return args.Error(0)
}

func (m *MockUserService) Enable(ctx context.Context, actor auth.Principal, userID uint) error {
	args := m.Called(ctx, actor, userID)
	return args.Error(0)
}

func (m *MockUserService) AssignRoles(ctx context.Context, actor auth.Principal, userID uint, titles []string) (*models.User, error) {
	args := m.Called(ctx, actor, userID, titles)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) List(ctx context.Context, page, pageSize int) ([]models.User, int64, error) {
	args := m.Called(ctx, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.User), args.Get(1).(int64), args.Error(2)
}

func (m *MockUserService) Roles(ctx context.Context) ([]models.Role, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Role), args.Error(1)
}
