package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nordledger/gateway/internal/config"
	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/database"
	"github.com/nordledger/gateway/internal/vault"
	"github.com/nordledger/gateway/internal/vendors"
)

// Credentials returns the vendor credentials resolved for a consent-scoped
// request.
func Credentials(ctx context.Context) (vendors.Credentials, bool) {
	c, ok := ctx.Value(credentialsKey).(vendors.Credentials)
	return c, ok
}

// WithConsentScope attaches a resolved consent and credentials; exported for
// handler tests.
func WithConsentScope(ctx context.Context, c *core.Consent, creds vendors.Credentials) context.Context {
	ctx = context.WithValue(ctx, consentKey, c)
	return context.WithValue(ctx, credentialsKey, creds)
}

// ConsentScope resolves the {consentId} path variable into a consent plus
// usable vendor credentials. Order is fixed: existence (404, also for other
// tenants' consents), acceptance (403), managed tokens with decrypt (500 on
// cipher failure), expiry refresh (401 on failure), then in self-hosted mode
// a raw Authorization bearer fallback when no managed tokens exist.
func ConsentScope(db database.Adapter, v *vault.Vault, refresher vault.Refresher, mode config.Mode) mux.MiddlewareFunc {
	logger := log.New(log.Writer(), "[SCOPE] ", log.LstdFlags)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := TenantID(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing API key")
				return
			}
			consentID := mux.Vars(r)["consentId"]

			consent, err := db.GetConsent(r.Context(), consentID)
			if err != nil {
				logger.Printf("Consent %s lookup failed: %v", consentID, err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			// Other tenants' consents are reported missing, not forbidden.
			if consent == nil || consent.TenantID != tenantID {
				writeError(w, http.StatusNotFound, "consent not found")
				return
			}
			if consent.Status != core.ConsentAccepted {
				writeError(w, http.StatusForbidden, "consent is not accepted")
				return
			}

			tokens, err := v.Load(r.Context(), consentID)
			if err != nil {
				if errors.Is(err, vault.ErrCiphertext) {
					logger.Printf("Consent %s: token decryption failed", consentID)
					writeError(w, http.StatusInternalServerError, "stored credentials are unreadable")
					return
				}
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			var creds vendors.Credentials
			switch {
			case tokens != nil:
				if tokens.Expired(time.Now()) {
					tokens, err = v.RefreshIfExpired(r.Context(), consent.Provider, tokens, refresher)
					if err != nil {
						logger.Printf("Consent %s: token refresh failed: %v", consentID, err)
						writeError(w, http.StatusUnauthorized, "credentials expired; re-authorize the consent")
						return
					}
				}
				creds = vendors.Credentials{AccessToken: tokens.AccessToken, CompanyID: tokens.CompanyID}
			case mode == config.ModeSelfHosted:
				raw := bearerToken(r)
				if raw == "" {
					writeError(w, http.StatusUnauthorized, "no credentials stored for consent")
					return
				}
				creds = vendors.Credentials{AccessToken: raw}
			default:
				writeError(w, http.StatusUnauthorized, "no credentials stored for consent")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithConsentScope(r.Context(), consent, creds)))
		})
	}
}
