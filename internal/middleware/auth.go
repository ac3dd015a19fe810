// Package middleware carries the cross-cutting request chain: API-key
// ingress auth and the consent-scoped credential resolution every data-plane
// route runs through.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/database"
)

type contextKey int

const (
	tenantKey contextKey = iota
	consentKey
	credentialsKey
)

// TenantID returns the authenticated tenant for the request.
func TenantID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantKey).(string)
	return id, ok
}

// WithTenant attaches a tenant id; exported for handler tests.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// bearerToken pulls the credential out of the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// HashKey returns the SHA-256 hex digest used for API-key lookup.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuth authenticates every request by API key. The key's SHA-256 hex
// digest resolves to a tenant; a legacy hash-to-tenant map is honored as a
// migration path. Missing or invalid keys answer 401.
func APIKeyAuth(db database.Adapter, legacyKeys map[string]string) mux.MiddlewareFunc {
	logger := log.New(log.Writer(), "[AUTH] ", log.LstdFlags)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing API key")
				return
			}
			hash := HashKey(raw)

			key, err := db.GetAPIKeyByHash(r.Context(), hash)
			if err != nil {
				logger.Printf("API key lookup failed: %v", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			var tenantID string
			switch {
			case key != nil && key.Active(time.Now()):
				tenantID = key.TenantID
			case key != nil:
				writeError(w, http.StatusUnauthorized, "API key expired or revoked")
				return
			default:
				legacy, ok := legacyKeys[hash]
				if !ok {
					writeError(w, http.StatusUnauthorized, "invalid API key")
					return
				}
				tenantID = legacy
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
		})
	}
}

// errorBody is the canonical error envelope.
type errorBody struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorDetails(w, status, msg, nil)
}

func writeErrorDetails(w http.ResponseWriter, status int, msg string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: msg, Details: details})
}

// Consent returns the resolved consent for a consent-scoped request.
func Consent(ctx context.Context) (*core.Consent, bool) {
	c, ok := ctx.Value(consentKey).(*core.Consent)
	return c, ok
}
