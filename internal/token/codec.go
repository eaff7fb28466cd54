// Package token signs and parses the compact HS256 tokens handed to clients.
//
// The codec is pure: it never touches storage, so a token that verifies here
// may still be revoked. Callers pair it with the token store.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the smallest accepted HMAC key, in bytes.
const MinSecretLength = 32

// Purpose tells what a token may be used for. Each purpose has its own lifetime.
type Purpose string

const (
	PurposeAccess       Purpose = "ACCESS"
	PurposeRefresh      Purpose = "REFRESH"
	PurposeVerification Purpose = "VERIFICATION"
	PurposeTwoFactor    Purpose = "TWO_FACTOR"
)

// Lifetimes holds the configured validity window per purpose.
type Lifetimes struct {
	Access       time.Duration
	Refresh      time.Duration
	Verification time.Duration
	TwoFactor    time.Duration
}

// Claims is the decoded view of a token.
type Claims struct {
	Purpose Purpose  `json:"typ"`
	Roles   []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Codec issues and verifies tokens with a single process-wide key.
type Codec struct {
	secret    []byte
	lifetimes Lifetimes
	issuer    string
	now       func() time.Time
	parser    *jwt.Parser
}

// Option configures a Codec.
type Option func(*Codec)

// WithIssuer sets the iss claim on issued tokens.
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		c.issuer = issuer
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec validates the key and lifetimes and returns a ready codec.
func NewCodec(secret string, lifetimes Lifetimes, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token: secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	for purpose, ttl := range map[Purpose]time.Duration{
		PurposeAccess:       lifetimes.Access,
		PurposeRefresh:      lifetimes.Refresh,
		PurposeVerification: lifetimes.Verification,
		PurposeTwoFactor:    lifetimes.TwoFactor,
	} {
		if ttl <= 0 {
			return nil, fmt.Errorf("token: lifetime for %s must be positive", purpose)
		}
	}

	c := &Codec{
		secret:    []byte(secret),
		lifetimes: lifetimes,
		now:       time.Now,
		// Expiry is checked by IsExpired against the codec clock, not by the parser.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lifetime returns the configured validity for purpose, or zero if unknown.
func (c *Codec) Lifetime(purpose Purpose) time.Duration {
	switch purpose {
	case PurposeAccess:
		return c.lifetimes.Access
	case PurposeRefresh:
		return c.lifetimes.Refresh
	case PurposeVerification:
		return c.lifetimes.Verification
	case PurposeTwoFactor:
		return c.lifetimes.TwoFactor
	default:
		return 0
	}
}

// Issue signs a token for subject. Extra claims are copied first so they can
// never replace sub, iat, exp, jti, iss or typ.
func (c *Codec) Issue(subject string, purpose Purpose, extra map[string]any) (string, error) {
	ttl := c.Lifetime(purpose)
	if ttl == 0 {
		return "", fmt.Errorf("token: unknown purpose %q", purpose)
	}
	if subject == "" {
		return "", errors.New("token: empty subject")
	}

	now := c.now()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims["sub"] = subject
	claims["typ"] = string(purpose)
	claims["jti"] = uuid.NewString()
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(ttl))
	if c.issuer != "" {
		claims["iss"] = c.issuer
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Parse verifies the signature and decodes the claims. Expiry is not enforced.
func (c *Codec) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}
	return claims, nil
}

// ParseSubject returns the subject of a correctly signed token.
func (c *Codec) ParseSubject(tokenString string) (string, error) {
	claims, err := c.Parse(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// IsExpired reports whether the embedded expiry has passed. Tokens that fail
// to parse, or carry no expiry, count as expired.
func (c *Codec) IsExpired(tokenString string) bool {
	claims, err := c.Parse(tokenString)
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	return !c.now().Before(claims.ExpiresAt.Time)
}

// IsValidFor reports whether the token belongs to identity and is unexpired.
func (c *Codec) IsValidFor(tokenString, identity string) bool {
	claims, err := c.Parse(tokenString)
	if err != nil || claims.Subject != identity || claims.ExpiresAt == nil {
		return false
	}
	return c.now().Before(claims.ExpiresAt.Time)
}

var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrSignatureInvalid = errors.New("token signature invalid")
)
