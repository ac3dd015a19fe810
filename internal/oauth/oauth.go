// Package oauth drives the vendor authorization flows: auth-URL construction,
// code exchange, refresh and revocation. Refresh semantics differ per vendor:
// Fortnox, Visma and Briox use the OAuth2 refresh grant; Björn Lundén runs
// client credentials (no refresh token); Bokio tokens are static and never
// refresh.
package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nordledger/gateway/internal/config"
	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/retry"
)

// ErrNotConfigured marks a provider whose OAuth client is absent. The HTTP
// layer maps it to 501.
var ErrNotConfigured = fmt.Errorf("oauth: provider not configured")

// ErrNoAuthURL marks providers without a browser authorization step.
var ErrNoAuthURL = fmt.Errorf("oauth: provider has no authorization url")

// TokenBundle is the outcome of an exchange or refresh.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

// tokenError carries the token endpoint's status for retry classification:
// transient 5xx at the vendor's identity service retries, 4xx does not.
type tokenError struct {
	provider core.Provider
	status   int
	body     string
}

func (e *tokenError) Error() string {
	return fmt.Sprintf("oauth: %s token endpoint returned %d: %s", e.provider, e.status, e.body)
}

func (e *tokenError) HTTPStatusCode() int { return e.status }

// Service runs the OAuth flows for all configured vendors.
type Service struct {
	vendors map[core.Provider]config.VendorConfig
	client  *http.Client
	retry   retry.Policy
	logger  *log.Logger
}

// New builds the service from per-vendor configuration.
func New(vendors map[core.Provider]config.VendorConfig) *Service {
	return &Service{
		vendors: vendors,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   retry.DefaultPolicy(),
		logger:  log.New(log.Writer(), "[OAUTH] ", log.LstdFlags),
	}
}

// AuthURL builds the browser authorization URL. Only Fortnox and Visma have
// one; the other vendors onboard through static tokens or client credentials.
func (s *Service) AuthURL(provider core.Provider, state string) (string, error) {
	cfg, ok := s.vendors[provider]
	if !ok || !cfg.Configured() {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, provider)
	}
	if cfg.AuthURL == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAuthURL, provider)
	}

	q := url.Values{}
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("state", state)
	switch provider {
	case core.ProviderFortnox:
		q.Set("scope", "companyinformation invoice customer supplierinvoice bookkeeping")
		q.Set("access_type", "offline")
	case core.ProviderVisma:
		q.Set("scope", "ea:api ea:sales ea:accounting offline_access")
	}
	return cfg.AuthURL + "?" + q.Encode(), nil
}

// Exchange trades an authorization code for tokens.
func (s *Service) Exchange(ctx context.Context, provider core.Provider, code string) (*TokenBundle, error) {
	cfg, ok := s.vendors[provider]
	if !ok || !cfg.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, provider)
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", cfg.RedirectURI)
	return s.tokenRequest(ctx, provider, cfg, form)
}

// Refresh renews a token bundle with the vendor-appropriate grant. Bokio is a
// no-op: the stored static token is returned unchanged.
func (s *Service) Refresh(ctx context.Context, provider core.Provider, tokens *core.ConsentTokens) (*core.ConsentTokens, error) {
	if provider == core.ProviderBokio || provider == core.ProviderSIEUpload {
		return tokens, nil
	}
	cfg, ok := s.vendors[provider]
	if !ok || !cfg.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, provider)
	}

	form := url.Values{}
	if provider == core.ProviderBjornLunden {
		form.Set("grant_type", "client_credentials")
	} else {
		if tokens.RefreshToken == "" {
			return nil, fmt.Errorf("oauth: %s consent %s has no refresh token", provider, tokens.ConsentID)
		}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", tokens.RefreshToken)
	}

	bundle, err := s.tokenRequest(ctx, provider, cfg, form)
	if err != nil {
		return nil, err
	}

	renewed := *tokens
	renewed.AccessToken = bundle.AccessToken
	if bundle.RefreshToken != "" {
		renewed.RefreshToken = bundle.RefreshToken
	}
	renewed.TokenExpiresAt = bundle.ExpiresAt
	if len(bundle.Scopes) > 0 {
		renewed.Scopes = bundle.Scopes
	}
	renewed.UpdatedAt = time.Now().UTC()
	return &renewed, nil
}

// Revoke invalidates the vendor-side grant where the vendor has a revocation
// endpoint; otherwise it is local-only and succeeds.
func (s *Service) Revoke(ctx context.Context, provider core.Provider, tokens *core.ConsentTokens) error {
	cfg, ok := s.vendors[provider]
	if !ok || !cfg.Configured() {
		return fmt.Errorf("%w: %s", ErrNotConfigured, provider)
	}
	revokeURL := strings.TrimSuffix(cfg.TokenURL, "/token") + "/revoke"
	if cfg.TokenURL == "" || provider == core.ProviderBokio {
		return nil
	}

	form := url.Values{}
	form.Set("token", tokens.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		// Vendor-side revocation is best effort; the consent still revokes
		// locally.
		s.logger.Printf("Revoke at %s failed: %v", provider, err)
		return nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// tokenRequest posts to the vendor's token endpoint through the shared retry
// driver. 5xx from the identity service retries; 4xx surfaces immediately.
func (s *Service) tokenRequest(ctx context.Context, provider core.Provider, cfg config.VendorConfig, form url.Values) (*TokenBundle, error) {
	var bundle *TokenBundle
	err := retry.Do(ctx, s.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Basic "+basicAuth(cfg.ClientID, cfg.ClientSecret))

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &tokenError{provider: provider, status: resp.StatusCode, body: truncate(string(body), 200)}
		}

		var wire struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int    `json:"expires_in"`
			Scope        string `json:"scope"`
		}
		if err := json.Unmarshal(body, &wire); err != nil {
			return fmt.Errorf("oauth: %s token reply: %w", provider, err)
		}
		if wire.AccessToken == "" {
			return fmt.Errorf("oauth: %s token reply carries no access token", provider)
		}

		bundle = &TokenBundle{
			AccessToken:  wire.AccessToken,
			RefreshToken: wire.RefreshToken,
		}
		if wire.ExpiresIn > 0 {
			exp := time.Now().UTC().Add(time.Duration(wire.ExpiresIn) * time.Second)
			bundle.ExpiresAt = &exp
		}
		if wire.Scope != "" {
			bundle.Scopes = strings.Fields(wire.Scope)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

func basicAuth(id, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(id + ":" + secret))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
