package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/config"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateTTL    = 10 * time.Minute
)

// OAuthProvider is one configured federated login provider. When EmailsURL
// is set, the email attribute is replaced by the primary verified address
// listed there, since the profile email of such providers is unverified.
type OAuthProvider struct {
	Config      *oauth2.Config
	UserInfoURL string
	EmailsURL   string
	Kind        models.Provider
}

// providerEmail is one entry of a GitHub style email listing.
type providerEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// OAuthHandler runs the authorization code flow and hands the resulting
// identity to the auth service for account linking.
type OAuthHandler struct {
	service     service.AuthService
	cookies     *CookieWriter
	providers   map[string]OAuthProvider
	frontendURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewOAuthHandler registers every provider that has client credentials.
func NewOAuthHandler(service service.AuthService, cookies *CookieWriter, cfg *config.Config, logger *slog.Logger) *OAuthHandler {
	h := &OAuthHandler{
		service:     service,
		cookies:     cookies,
		providers:   make(map[string]OAuthProvider),
		frontendURL: cfg.FrontendURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}

	callback := func(name string) string {
		return strings.TrimRight(cfg.BaseURL, "/") + "/auth/oauth2/" + name + "/callback"
	}

	if cfg.GitHubClientID != "" {
		h.RegisterProvider("github", OAuthProvider{
			Config: &oauth2.Config{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				Endpoint:     endpoints.GitHub,
				RedirectURL:  callback("github"),
				Scopes:       []string{"read:user", "user:email"},
			},
			UserInfoURL: "https://api.github.com/user",
			EmailsURL:   "https://api.github.com/user/emails",
			Kind:        models.ProviderGitHub,
		})
	}
	if cfg.FacebookClientID != "" {
		h.RegisterProvider("facebook", OAuthProvider{
			Config: &oauth2.Config{
				ClientID:     cfg.FacebookClientID,
				ClientSecret: cfg.FacebookClientSecret,
				Endpoint:     endpoints.Facebook,
				RedirectURL:  callback("facebook"),
				Scopes:       []string{"email", "public_profile"},
			},
			UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email,first_name,last_name",
			Kind:        models.ProviderFacebook,
		})
	}
	if cfg.GoogleClientID != "" {
		h.RegisterProvider("google", OAuthProvider{
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				Endpoint:     endpoints.Google,
				RedirectURL:  callback("google"),
				Scopes:       []string{"openid", "email", "profile"},
			},
			UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
			Kind:        models.ProviderGoogle,
		})
	}

	return h
}

// RegisterProvider adds or replaces a provider under name.
func (h *OAuthHandler) RegisterProvider(name string, provider OAuthProvider) {
	h.providers[strings.ToLower(name)] = provider
	h.logger.Info("🌐 [OAuthHandler] Provider registered", "provider", name)
}

// Login handles GET /auth/oauth2/:provider
func (h *OAuthHandler) Login(c *gin.Context) {
	provider, ok := h.provider(c)
	if !ok {
		return
	}

	state := uuid.NewString()
	h.cookies.Set(c, oauthStateCookie, state, oauthStateTTL)
	c.Redirect(http.StatusFound, provider.Config.AuthCodeURL(state))
}

// Callback handles GET /auth/oauth2/:provider/callback
func (h *OAuthHandler) Callback(c *gin.Context) {
	provider, ok := h.provider(c)
	if !ok {
		return
	}

	expected, err := c.Cookie(oauthStateCookie)
	state := c.Query("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		h.logger.Warn("⚠️ [OAuthHandler] State mismatch", "provider", provider.Kind)
		WriteError(c, h.logger, service.ErrInvalidToken)
		return
	}
	h.cookies.Set(c, oauthStateCookie, "", -time.Second)

	code := c.Query("code")
	if code == "" {
		WriteError(c, h.logger, service.ErrIncorrectRequest)
		return
	}

	ctx := context.WithValue(c.Request.Context(), oauth2.HTTPClient, h.httpClient)
	tok, err := provider.Config.Exchange(ctx, code)
	if err != nil {
		h.logger.Warn("⚠️ [OAuthHandler] Code exchange failed", "provider", provider.Kind, "error", err)
		WriteError(c, h.logger, service.ErrInvalidCredentials)
		return
	}

	attributes, err := h.fetchUserInfo(ctx, provider, tok)
	if err != nil {
		h.logger.Error("❌ [OAuthHandler] Failed to fetch user info", "provider", provider.Kind, "error", err)
		WriteError(c, h.logger, service.ErrInvalidCredentials)
		return
	}

	_, tokens, err := h.service.CompleteOAuth2Login(c.Request.Context(), service.FederatedIdentity{
		Provider:   provider.Kind,
		Attributes: attributes,
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	h.cookies.SetTokens(c, tokens)
	if h.frontendURL != "" {
		c.Redirect(http.StatusFound, h.frontendURL)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(tokens))
}

func (h *OAuthHandler) provider(c *gin.Context) (OAuthProvider, bool) {
	name := strings.ToLower(c.Param("provider"))
	provider, ok := h.providers[name]
	if !ok {
		WriteError(c, h.logger, service.ErrUnsupportedProvider)
		return OAuthProvider{}, false
	}
	return provider, true
}

func (h *OAuthHandler) fetchUserInfo(ctx context.Context, provider OAuthProvider, tok *oauth2.Token) (map[string]any, error) {
	client := provider.Config.Client(ctx, tok)

	attributes := make(map[string]any)
	if err := getJSON(client, provider.UserInfoURL, &attributes); err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}

	// An address the provider has not verified must not link to a local account.
	if verified, ok := attributes["email_verified"].(bool); ok && !verified {
		delete(attributes, "email")
	}

	if provider.EmailsURL != "" {
		delete(attributes, "email")
		var emails []providerEmail
		if err := getJSON(client, provider.EmailsURL, &emails); err != nil {
			h.logger.Warn("⚠️ [OAuthHandler] Email listing unavailable", "provider", provider.Kind, "error", err)
			return attributes, nil
		}
		for _, e := range emails {
			if e.Primary && e.Verified && e.Email != "" {
				attributes["email"] = e.Email
				break
			}
		}
	}
	return attributes, nil
}

func getJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
