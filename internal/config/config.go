package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv         string
	LogLevel       slog.Level
	ApiServicePort string
	ApiGrpcPort    string
	BaseURL        string // Public URL used in emailed links
	FrontendURL    string // Where the browser lands after OAuth2 login

	PostgreSQLHost     string
	PostgreSQLPort     int64
	PostgreSQLUser     string
	PostgreSQLPassword string
	PostgreSQLDatabase string

	JWTSecret                   string
	JWTIssuer                   string
	AccessTokenExpiration       int64 // Seconds
	RefreshTokenExpiration      int64 // Seconds
	VerificationTokenExpiration int64 // Seconds
	TwoFactorTokenExpiration    int64 // Seconds
	CookieSecure                bool
	CookieDomain                string
	BcryptCost                  int64

	RedisHost     string
	RedisPort     int64
	RedisPassword string
	RedisDatabase int64

	AuthRateLimitAttempts int64 // Attempts per window per client and route
	AuthRateLimitWindow   int64 // Seconds

	SMTPHost     string
	SMTPPort     int64
	SMTPUser     string
	SMTPPassword string
	MailFrom     string

	KafkaBrokers    []string
	KafkaAuditTopic string

	GitHubClientID       string
	GitHubClientSecret   string
	FacebookClientID     string
	FacebookClientSecret string
	GoogleClientID       string
	GoogleClientSecret   string
}

func LoadConfig() *Config {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	return &Config{
		AppEnv:         getEnv("APP_ENV", "development"),                   // Default development
		LogLevel:       getLogLevel(),                                      // Default INFO
		ApiServicePort: getEnv("API_SERVICE_PORT", "8080"),                 // Default 8080
		ApiGrpcPort:    getEnv("API_GRPC_PORT", "50052"),                   // Default 50052
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080/api/v1"), // Default local API
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:3000"),    // Default local frontend

		PostgreSQLHost:     getEnv("POSTGRESQL_HOST", "db"),                    // Default db
		PostgreSQLPort:     getEnvAsInt64("POSTGRESQL_PORT", 5432),             // Default 5432
		PostgreSQLUser:     getEnv("POSTGRESQL_USER", "schoolms_user"),         // Default user
		PostgreSQLPassword: getEnv("POSTGRESQL_PASSWORD", "schoolms_password"), // Default password
		PostgreSQLDatabase: getEnv("POSTGRESQL_DATABASE", "schoolms_db"),       // Default database name

		JWTSecret:                   getEnv("JWT_SECRET", "schoolms_development_secret_change_me!"), // Default 38-byte dev key
		JWTIssuer:                   getEnv("JWT_ISSUER", "schoolms"),                               // Default schoolms
		AccessTokenExpiration:       getEnvAsInt64("ACCESS_TOKEN_EXPIRATION", 3600),                 // Default 1 hour
		RefreshTokenExpiration:      getEnvAsInt64("REFRESH_TOKEN_EXPIRATION", 604800),              // Default 7 days
		VerificationTokenExpiration: getEnvAsInt64("VERIFICATION_TOKEN_EXPIRATION", 3600),           // Default 1 hour
		TwoFactorTokenExpiration:    getEnvAsInt64("TWO_FACTOR_TOKEN_EXPIRATION", 600),              // Default 10 minutes
		CookieSecure:                getEnvAsBool("COOKIE_SECURE", true),                            // Default secure cookies
		CookieDomain:                getEnv("COOKIE_DOMAIN", ""),                                    // Default host-only
		BcryptCost:                  getEnvAsInt64("BCRYPT_COST", 10),                               // Default bcrypt.DefaultCost

		RedisHost:     getEnv("REDIS_HOST", "redis"),      // Default redis
		RedisPort:     getEnvAsInt64("REDIS_PORT", 6379),  // Default 6379
		RedisPassword: getEnv("REDIS_PASSWORD", ""),       // Default empty
		RedisDatabase: getEnvAsInt64("REDIS_DATABASE", 0), // Default 0

		AuthRateLimitAttempts: getEnvAsInt64("AUTH_RATE_LIMIT_ATTEMPTS", 10), // Default 10 attempts
		AuthRateLimitWindow:   getEnvAsInt64("AUTH_RATE_LIMIT_WINDOW", 60),   // Default 1 minute

		SMTPHost:     getEnv("SMTP_HOST", ""),                        // Default empty: mail is logged
		SMTPPort:     getEnvAsInt64("SMTP_PORT", 587),                // Default 587
		SMTPUser:     getEnv("SMTP_USER", ""),                        // Default empty
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),                    // Default empty
		MailFrom:     getEnv("MAIL_FROM", "no-reply@schoolms.local"), // Default sender

		KafkaBrokers:    getEnvAsList("KAFKA_BROKERS"),                      // Default none: audit is logged
		KafkaAuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "schoolms.auth.audit"), // Default topic

		GitHubClientID:       getEnv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret:   getEnv("GITHUB_CLIENT_SECRET", ""),
		FacebookClientID:     getEnv("FACEBOOK_CLIENT_ID", ""),
		FacebookClientSecret: getEnv("FACEBOOK_CLIENT_SECRET", ""),
		GoogleClientID:       getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:   getEnv("GOOGLE_CLIENT_SECRET", ""),
	}
}

// Seconds converts one of the integer second settings into a time.Duration.
func Seconds(v int64) time.Duration {
	return time.Duration(v) * time.Second
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getLogLevel() slog.Level {
	levelStr := getEnv("LOG_LEVEL", "INFO")

	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
