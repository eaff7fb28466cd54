// Package testutil holds shared fixtures for package tests: configuration,
// an in-memory database, a token codec with a controllable clock and mocks.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/config"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/token"
)

// TestSecret is long enough for token.NewCodec.
const TestSecret = "schoolms-test-secret-0123456789abcdef"

// TestConfig returns a configuration suited to unit tests.
func TestConfig() *config.Config {
	return &config.Config{
		AppEnv:                      "test",
		LogLevel:                    slog.LevelError,
		ApiServicePort:              "8080",
		ApiGrpcPort:                 "50052",
		BaseURL:                     "http://localhost:8080/api/v1",
		FrontendURL:                 "http://localhost:3000",
		JWTSecret:                   TestSecret,
		JWTIssuer:                   "schoolms-test",
		AccessTokenExpiration:       900,
		RefreshTokenExpiration:      86400,
		VerificationTokenExpiration: 1800,
		TwoFactorTokenExpiration:    300,
		CookieSecure:                false,
		BcryptCost:                  4,
		AuthRateLimitAttempts:       5,
		AuthRateLimitWindow:         60,
		MailFrom:                    "no-reply@schoolms.test",
	}
}

// TestLogger returns a logger that discards output
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewCodec builds a codec from cfg driven by clock.
func NewCodec(t *testing.T, cfg *config.Config, clock *Clock) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec(cfg.JWTSecret, token.Lifetimes{
		Access:       config.Seconds(cfg.AccessTokenExpiration),
		Refresh:      config.Seconds(cfg.RefreshTokenExpiration),
		Verification: config.Seconds(cfg.VerificationTokenExpiration),
		TwoFactor:    config.Seconds(cfg.TwoFactorTokenExpiration),
	}, token.WithIssuer(cfg.JWTIssuer), token.WithClock(clock.Now))
	require.NoError(t, err)
	return codec
}

// SetupTestDB opens a private in-memory SQLite database with the identity
// schema and the built-in roles.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// Every pooled connection would otherwise see its own empty database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Role{}, &models.User{}, &models.Token{}))

	roles := []models.Role{
		{Title: models.RoleAdmin, Permissions: []string{"users:read", "users:write", "roles:read", "roles:write", "school:read", "school:write"}},
		{Title: models.RoleTeacher, Permissions: []string{"school:read", "marks:write", "lessons:write"}},
		{Title: models.RoleStudent, Permissions: []string{"school:read"}},
		{Title: models.RoleParent, Permissions: []string{"school:read"}},
		{Title: models.RoleUser, Permissions: []string{"profile:read"}},
	}
	require.NoError(t, db.Create(&roles).Error)
	return db
}

// SentMail is one message captured by RecordingMailer.
type SentMail struct {
	To      string
	Subject string
	Body    string
}

// RecordingMailer keeps every message instead of sending it.
type RecordingMailer struct {
	mu   sync.Mutex
	sent []SentMail
	Err  error
}

func (m *RecordingMailer) Send(_ context.Context, to, subject, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMail{To: to, Subject: subject, Body: body})
	return nil
}

// Sent returns a copy of the captured messages.
func (m *RecordingMailer) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMail(nil), m.sent...)
}

// LastLinkToken extracts the token query parameter from the newest message.
func (m *RecordingMailer) LastLinkToken(t *testing.T) string {
	t.Helper()
	sent := m.Sent()
	require.NotEmpty(t, sent, "no mail was sent")
	body := sent[len(sent)-1].Body

	const marker = "/auth/verify?token="
	idx := strings.Index(body, marker)
	require.GreaterOrEqual(t, idx, 0, "mail carries no verification link")
	raw := body[idx+len(marker):]
	if end := strings.IndexAny(raw, " \n"); end >= 0 {
		raw = raw[:end]
	}
	tok, err := url.QueryUnescape(raw)
	require.NoError(t, err)
	return tok
}
