package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordledger/gateway/internal/config"
	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/database"
	"github.com/nordledger/gateway/internal/vault"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestVault(t *testing.T, db *database.Memory) *vault.Vault {
	t.Helper()
	cipher, err := vault.NewCipher(testKey)
	require.NoError(t, err)
	return vault.New(cipher, db)
}

type stubRefresher struct {
	tokens *core.ConsentTokens
	err    error
	calls  int
}

func (s *stubRefresher) Refresh(_ context.Context, _ core.Provider, _ *core.ConsentTokens) (*core.ConsentTokens, error) {
	s.calls++
	return s.tokens, s.err
}

func okHandler(t *testing.T, wantTenant string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := TenantID(r.Context())
		require.True(t, ok)
		assert.Equal(t, wantTenant, tenant)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuthResolvesTenant(t *testing.T) {
	db := database.NewMemory()
	require.NoError(t, db.CreateAPIKey(context.Background(), &core.APIKey{
		KeyID:    "k1",
		TenantID: "tenant-a",
		KeyHash:  HashKey("secret-key"),
	}))

	h := APIKeyAuth(db, nil)(okHandler(t, "tenant-a"))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/consents", nil)
	r.Header.Set("Authorization", "Bearer secret-key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuthMissingAndInvalid(t *testing.T) {
	db := database.NewMemory()
	h := APIKeyAuth(db, nil)(okHandler(t, ""))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing API key")

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer nope")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid API key")
}

func TestAPIKeyAuthExpiredAndRevoked(t *testing.T) {
	db := database.NewMemory()
	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.CreateAPIKey(context.Background(), &core.APIKey{
		KeyID: "k1", TenantID: "t", KeyHash: HashKey("expired"), ExpiresAt: &past,
	}))
	require.NoError(t, db.CreateAPIKey(context.Background(), &core.APIKey{
		KeyID: "k2", TenantID: "t", KeyHash: HashKey("revoked"), RevokedAt: &past,
	}))

	h := APIKeyAuth(db, nil)(okHandler(t, ""))
	for _, key := range []string{"expired", "revoked"} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+key)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code, key)
		assert.Contains(t, w.Body.String(), "expired or revoked", key)
	}
}

func TestAPIKeyAuthLegacyFallback(t *testing.T) {
	db := database.NewMemory()
	legacy := map[string]string{HashKey("old-key"): "tenant-legacy"}

	h := APIKeyAuth(db, legacy)(okHandler(t, "tenant-legacy"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer old-key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

// scopeFixture wires a consent-scoped route the way the API server does:
// tenant attached upstream, ConsentScope on the subrouter.
func scopeFixture(t *testing.T, db *database.Memory, v *vault.Vault, refresher vault.Refresher, mode config.Mode, tenantID string) http.Handler {
	t.Helper()
	router := mux.NewRouter()
	sub := router.PathPrefix("/consents/{consentId}").Subrouter()
	sub.Use(ConsentScope(db, v, refresher, mode))
	sub.HandleFunc("/invoices", func(w http.ResponseWriter, r *http.Request) {
		consent, ok := Consent(r.Context())
		require.True(t, ok)
		creds, ok := Credentials(r.Context())
		require.True(t, ok)
		w.Header().Set("X-Provider", string(consent.Provider))
		w.Header().Set("X-Token", creds.AccessToken)
		w.WriteHeader(http.StatusOK)
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID != "" {
			r = r.WithContext(WithTenant(r.Context(), tenantID))
		}
		router.ServeHTTP(w, r)
	})
}

func seedConsent(t *testing.T, db *database.Memory, id, tenant string, status core.ConsentStatus) {
	t.Helper()
	require.NoError(t, db.UpsertConsent(context.Background(), &core.Consent{
		ID:       id,
		TenantID: tenant,
		Provider: core.ProviderFortnox,
		Name:     "Scoped",
		Status:   status,
		ETag:     "etag-1",
	}))
}

func TestConsentScopeHappyPath(t *testing.T) {
	db := database.NewMemory()
	v := newTestVault(t, db)
	seedConsent(t, db, "c1", "t1", core.ConsentAccepted)
	require.NoError(t, v.Store(context.Background(), &core.ConsentTokens{
		ConsentID: "c1", Provider: core.ProviderFortnox, AccessToken: "plain-token",
	}))

	h := scopeFixture(t, db, v, &stubRefresher{}, config.ModeHosted, "t1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/consents/c1/invoices", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fortnox", w.Header().Get("X-Provider"))
	assert.Equal(t, "plain-token", w.Header().Get("X-Token"))
}

func TestConsentScopeMissingAndCrossTenantAreNotFound(t *testing.T) {
	db := database.NewMemory()
	v := newTestVault(t, db)
	seedConsent(t, db, "c1", "other-tenant", core.ConsentAccepted)

	h := scopeFixture(t, db, v, &stubRefresher{}, config.ModeHosted, "t1")

	for _, id := range []string{"missing", "c1"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/consents/"+id+"/invoices", nil))
		assert.Equal(t, http.StatusNotFound, w.Code, id)
	}
}

func TestConsentScopeRequiresAccepted(t *testing.T) {
	db := database.NewMemory()
	v := newTestVault(t, db)
	seedConsent(t, db, "c1", "t1", core.ConsentCreated)
	seedConsent(t, db, "c2", "t1", core.ConsentRevoked)

	h := scopeFixture(t, db, v, &stubRefresher{}, config.ModeHosted, "t1")
	for _, id := range []string{"c1", "c2"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/consents/"+id+"/invoices", nil))
		assert.Equal(t, http.StatusForbidden, w.Code, id)
	}
}

func TestConsentScopeCipherFailureIs500(t *testing.T) {
	db := database.NewMemory()
	v := newTestVault(t, db)
	seedConsent(t, db, "c1", "t1", core.ConsentAccepted)
	now := time.Now()
	// Garbage that the cipher cannot open.
	require.NoError(t, db.StoreConsentTokens(context.Background(), &core.ConsentTokens{
		ConsentID: "c1", Provider: core.ProviderFortnox,
		AccessToken: "bm90LWEtY2lwaGVydGV4dA==", EncryptedAt: &now,
	}))

	h := scopeFixture(t, db, v, &stubRefresher{}, config.ModeHosted, "t1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/consents/c1/invoices", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "unreadable")
}

func TestConsentScopeRefreshesExpiredTokens(t *testing.T) {
	db := database.NewMemory()
	v := newTestVault(t, db)
	seedConsent(t, db, "c1", "t1", core.ConsentAccepted)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, v.Store(context.Background(), &core.ConsentTokens{
		ConsentID: "c1", Provider: core.ProviderFortnox,
		AccessToken: "stale", RefreshToken: "r0", TokenExpiresAt: &past,
	}))

	future := time.Now().Add(time.Hour)
	refresher := &stubRefresher{tokens: &core.ConsentTokens{
		AccessToken: "fresh", RefreshToken: "r1", TokenExpiresAt: &future,
	}}
	h := scopeFixture(t, db, v, refresher, config.ModeHosted, "t1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/consents/c1/invoices", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fresh", w.Header().Get("X-Token"))
	assert.Equal(t, 1, refresher.calls)
}

func TestConsentScopeRefreshFailureIs401(t *testing.T) {
	db := database.NewMemory()
	v := newTestVault(t, db)
	seedConsent(t, db, "c1", "t1", core.ConsentAccepted)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, v.Store(context.Background(), &core.ConsentTokens{
		ConsentID: "c1", Provider: core.ProviderFortnox,
		AccessToken: "stale", RefreshToken: "r0", TokenExpiresAt: &past,
	}))

	refresher := &stubRefresher{err: errors.New("invalid_grant")}
	h := scopeFixture(t, db, v, refresher, config.ModeHosted, "t1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/consents/c1/invoices", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "re-authorize")
}

func TestConsentScopeSelfHostedBearerFallback(t *testing.T) {
	db := database.NewMemory()
	v := newTestVault(t, db)
	seedConsent(t, db, "c1", "t1", core.ConsentAccepted)

	h := scopeFixture(t, db, v, &stubRefresher{}, config.ModeSelfHosted, "t1")

	r := httptest.NewRequest(http.MethodGet, "/consents/c1/invoices", nil)
	r.Header.Set("Authorization", "Bearer raw-vendor-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "raw-vendor-token", w.Header().Get("X-Token"))

	// Without the header there is still nothing to act on.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/consents/c1/invoices", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConsentScopeHostedRejectsTokenlessConsent(t *testing.T) {
	db := database.NewMemory()
	v := newTestVault(t, db)
	seedConsent(t, db, "c1", "t1", core.ConsentAccepted)

	h := scopeFixture(t, db, v, &stubRefresher{}, config.ModeHosted, "t1")
	r := httptest.NewRequest(http.MethodGet, "/consents/c1/invoices", nil)
	r.Header.Set("Authorization", "Bearer raw-vendor-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConsentScopeWithoutTenantIs401(t *testing.T) {
	db := database.NewMemory()
	v := newTestVault(t, db)
	seedConsent(t, db, "c1", "t1", core.ConsentAccepted)

	h := scopeFixture(t, db, v, &stubRefresher{}, config.ModeHosted, "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/consents/c1/invoices", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
