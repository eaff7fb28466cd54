package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/api"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/repository"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/handler"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/middleware"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
	gin.DefaultWriter = io.Discard
}

type stack struct {
	router *gin.Engine
	mailer *testutil.RecordingMailer
	users  repository.UserRepository
	roles  repository.RoleRepository
}

func newStack(t *testing.T, attempts int64) *stack {
	t.Helper()
	cfg := testutil.TestConfig()
	logger := testutil.TestLogger()
	db := testutil.SetupTestDB(t)
	codec := testutil.NewCodec(t, cfg, testutil.NewClock())

	s := &stack{
		mailer: &testutil.RecordingMailer{},
		users:  repository.NewUserRepository(db),
		roles:  repository.NewRoleRepository(db),
	}
	tokens := repository.NewTokenRepository(db)
	tx := repository.NewTransactor(db)

	authService := service.NewAuthService(s.users, s.roles, tokens, tx, codec,
		service.NewBcryptHasher(int(cfg.BcryptCost)), s.mailer, nil, cfg, logger)
	userService := service.NewUserService(s.users, s.roles, tokens, tx, nil, logger)

	reg := prometheus.NewRegistry()
	metrics, err := middleware.NewHTTPMetrics(reg)
	require.NoError(t, err)

	cookies := handler.NewCookieWriter(cfg)
	s.router = api.SetupRouter(api.Handlers{
		Auth:  handler.NewAuthHandler(authService, cookies, logger),
		OAuth: handler.NewOAuthHandler(authService, cookies, cfg, logger),
		User:  handler.NewUserHandler(userService, logger),
		Admin: handler.NewAdminHandler(userService, logger),
	}, api.Options{
		AuthMiddleware: middleware.NewAuthMiddleware(authService, logger),
		RateLimiter:    middleware.NewLocalRateLimiter(attempts, time.Minute),
		Metrics:        metrics,
		Gatherer:       reg,
		Logger:         logger,
	})
	return s
}

func (s *stack) do(method, path string, body any, bearer string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func tokensOf(t *testing.T, w *httptest.ResponseRecorder) handler.TokenResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp handler.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *stack) signUp(t *testing.T, email string) handler.TokenResponse {
	t.Helper()
	w := s.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"email": email, "password": "correct horse", "first_name": "Grace", "last_name": "Hopper",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	return tokensOf(t, s.do(http.MethodGet, "/api/v1/auth/verify?token="+s.mailer.LastLinkToken(t), nil, ""))
}

func TestRouter_Health(t *testing.T) {
	s := newStack(t, 100)

	w := s.do(http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestRouter_SignUpFlow(t *testing.T) {
	s := newStack(t, 100)

	w := s.do(http.MethodPost, "/api/v1/auth/login", gin.H{"email": "grace@school.test", "password": "correct horse"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	pair := s.signUp(t, "grace@school.test")
	assert.Equal(t, "Bearer", pair.TokenType)

	w = s.do(http.MethodGet, "/api/v1/users/me", nil, pair.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"email":"grace@school.test"`)

	refreshed := tokensOf(t, s.do(http.MethodPost, "/api/v1/auth/refresh", nil, pair.RefreshToken))
	assert.Equal(t, pair.RefreshToken, refreshed.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)

	// The previous access token was revoked by the refresh.
	w = s.do(http.MethodGet, "/api/v1/users/me", nil, pair.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/v1/auth/logout", nil, refreshed.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/users/me", nil, refreshed.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_TwoFactorLogin(t *testing.T) {
	s := newStack(t, 100)
	pair := s.signUp(t, "grace@school.test")

	w := s.do(http.MethodPut, "/api/v1/users/me/two-factor", gin.H{"enabled": true}, pair.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/v1/auth/login", gin.H{"email": "grace@school.test", "password": "correct horse"}, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	confirmed := tokensOf(t, s.do(http.MethodPost, "/api/v1/auth/2fa/confirm", gin.H{"token": s.mailer.LastLinkToken(t)}, ""))
	assert.NotEmpty(t, confirmed.AccessToken)
}

func TestRouter_AdminRoutesRequireRole(t *testing.T) {
	s := newStack(t, 100)
	ctx := context.Background()

	w := s.do(http.MethodGet, "/api/v1/admin/roles", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	pair := s.signUp(t, "grace@school.test")
	w = s.do(http.MethodGet, "/api/v1/admin/roles", nil, pair.AccessToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	user, err := s.users.FindByEmail(ctx, "grace@school.test")
	require.NoError(t, err)
	adminRoles, err := s.roles.FindByTitles(ctx, []string{models.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, s.users.ReplaceRoles(ctx, user, adminRoles))

	w = s.do(http.MethodGet, "/api/v1/admin/roles", nil, pair.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"TEACHER"`)

	w = s.do(http.MethodGet, "/api/v1/admin/users?page=1&pageSize=10", nil, pair.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestRouter_AuthRoutesAreRateLimited(t *testing.T) {
	s := newStack(t, 2)
	body := gin.H{"email": "nobody@school.test", "password": "whatever"}

	for i := 0; i < 2; i++ {
		w := s.do(http.MethodPost, "/api/v1/auth/login", body, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := s.do(http.MethodPost, "/api/v1/auth/login", body, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Other routes keep their own budget.
	w = s.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_MetricsAndNoRoute(t *testing.T) {
	s := newStack(t, 100)
	s.do(http.MethodGet, "/health", nil, "")

	w := s.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")

	w = s.do(http.MethodGet, "/nowhere", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"NotFound"`)
}
