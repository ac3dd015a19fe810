package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordledger/gateway/internal/config"
	"github.com/nordledger/gateway/internal/consent"
	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/database"
	"github.com/nordledger/gateway/internal/gateway"
	"github.com/nordledger/gateway/internal/metrics"
	"github.com/nordledger/gateway/internal/middleware"
	"github.com/nordledger/gateway/internal/oauth"
	"github.com/nordledger/gateway/internal/registry"
	"github.com/nordledger/gateway/internal/retry"
	syncengine "github.com/nordledger/gateway/internal/sync"
	"github.com/nordledger/gateway/internal/vault"
	"github.com/nordledger/gateway/internal/vendors"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fixture struct {
	router  http.Handler
	db      *database.Memory
	metrics *metrics.Metrics
}

// newFixture wires a complete server over the in-memory adapter with Fortnox
// pointed at the given fake vendor.
func newFixture(t *testing.T, vendorHandler http.Handler) *fixture {
	t.Helper()
	if vendorHandler == nil {
		vendorHandler = http.NotFoundHandler()
	}
	srv := httptest.NewServer(vendorHandler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Port:           "0",
		Mode:           config.ModeHosted,
		RequestTimeout: 5 * time.Second,
		OTCLifetime:    time.Hour,
		EncryptionKey:  testKey,
		Vendors: map[core.Provider]config.VendorConfig{
			core.ProviderFortnox: {
				ClientID: "cid", ClientSecret: "secret",
				BaseURL: srv.URL, TokenURL: srv.URL + "/token",
				AuthURL: "https://apps.fortnox.se/oauth-v1/auth",
				Enabled: true,
			},
		},
	}

	db := database.NewMemory()
	cipher, err := vault.NewCipher(cfg.EncryptionKey)
	require.NoError(t, err)
	v := vault.New(cipher, db)

	clients := map[core.Provider]*vendors.Client{
		core.ProviderFortnox: vendors.NewClient(core.ProviderFortnox, srv.URL, vendors.Options{
			Retry: retry.Policy{MaxAttempts: 1, InitialDelay: time.Millisecond, ShouldRetry: retry.RetryableHTTP},
		}),
	}
	gw := gateway.New(registry.New(), clients)

	m := metrics.New()
	server := NewServer(Deps{
		Config:   cfg,
		DB:       db,
		Consents: consent.New(db, v, cfg.OTCLifetime),
		Gateway:  gw,
		OAuth:    oauth.New(cfg.Vendors),
		Vault:    v,
		Engine:   syncengine.New(db, gw, clients, nil),
		Metrics:  m,
	})

	require.NoError(t, db.CreateAPIKey(context.Background(), &core.APIKey{
		KeyID: "k-a", TenantID: "tenant-a", KeyHash: middleware.HashKey("key-a"),
	}))
	require.NoError(t, db.CreateAPIKey(context.Background(), &core.APIKey{
		KeyID: "k-b", TenantID: "tenant-b", KeyHash: middleware.HashKey("key-b"),
	}))

	return &fixture{router: server.Router(), db: db, metrics: m}
}

func (f *fixture) do(t *testing.T, method, path, apiKey string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

// acceptedConsent drives the full create/otc/exchange flow and returns the id.
func (f *fixture) acceptedConsent(t *testing.T, apiKey string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/consents", apiKey,
		map[string]string{"name": "Bokföring AB", "provider": "fortnox"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created core.Consent
	decode(t, w, &created)

	w = f.do(t, http.MethodPost, "/api/v1/consents/"+created.ID+"/otc", apiKey, map[string]string{}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var otc struct {
		Code string `json:"code"`
	}
	decode(t, w, &otc)

	w = f.do(t, http.MethodPost, "/api/v1/consents/auth/token", apiKey, map[string]interface{}{
		"code": otc.Code, "consentId": created.ID, "provider": "fortnox",
		"accessToken": "vendor-token", "refreshToken": "vendor-refresh", "expiresIn": 3600,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	return created.ID
}

func TestCreateAndAcceptFlow(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/consents", "key-a",
		map[string]string{"name": "X", "provider": "fortnox"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get("ETag"))
	var created core.Consent
	decode(t, w, &created)
	assert.Equal(t, core.ConsentCreated, created.Status)

	w = f.do(t, http.MethodPost, "/api/v1/consents/"+created.ID+"/otc", "key-a", map[string]string{}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var otc struct {
		Code      string `json:"code"`
		ConsentID string `json:"consentId"`
	}
	decode(t, w, &otc)
	assert.Regexp(t, "^[0-9a-f]{16}$", otc.Code)
	assert.Equal(t, created.ID, otc.ConsentID)

	w = f.do(t, http.MethodPost, "/api/v1/consents/auth/token", "key-a", map[string]interface{}{
		"code": otc.Code, "consentId": created.ID, "provider": "fortnox",
		"accessToken": "T", "refreshToken": "R",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/consents/"+created.ID, "key-a", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got core.Consent
	decode(t, w, &got)
	assert.Equal(t, core.ConsentAccepted, got.Status)
	assert.Equal(t, got.ETag, w.Header().Get("ETag"))
}

func TestPatchETagPrecondition(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/consents", "key-a",
		map[string]string{"name": "X", "provider": "visma"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created core.Consent
	decode(t, w, &created)
	stale := created.ETag

	w = f.do(t, http.MethodPatch, "/api/v1/consents/"+created.ID, "key-a",
		map[string]string{"name": "Y"}, map[string]string{"If-Match": stale})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, stale, w.Header().Get("ETag"))

	w = f.do(t, http.MethodPatch, "/api/v1/consents/"+created.ID, "key-a",
		map[string]string{"name": "Z"}, map[string]string{"If-Match": stale})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/consents/"+created.ID, "key-a", nil, nil)
	var got core.Consent
	decode(t, w, &got)
	assert.Equal(t, "Y", got.Name)
}

func TestOTCSecondUseIs401(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/consents", "key-a",
		map[string]string{"name": "X", "provider": "fortnox"}, nil)
	var created core.Consent
	decode(t, w, &created)
	w = f.do(t, http.MethodPost, "/api/v1/consents/"+created.ID+"/otc", "key-a", map[string]string{}, nil)
	var otc struct {
		Code string `json:"code"`
	}
	decode(t, w, &otc)

	exchange := map[string]interface{}{
		"code": otc.Code, "consentId": created.ID, "provider": "fortnox", "accessToken": "T",
	}
	w = f.do(t, http.MethodPost, "/api/v1/consents/auth/token", "key-a", exchange, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/consents/auth/token", "key-a", exchange, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCrossTenantConsentIs404(t *testing.T) {
	f := newFixture(t, nil)
	id := f.acceptedConsent(t, "key-a")

	for _, probe := range []struct {
		method, path string
		body         interface{}
	}{
		{http.MethodGet, "/api/v1/consents/" + id, nil},
		{http.MethodPatch, "/api/v1/consents/" + id, map[string]string{"name": "Y"}},
		{http.MethodDelete, "/api/v1/consents/" + id, nil},
		{http.MethodGet, "/api/v1/consents/" + id + "/sales-invoices", nil},
	} {
		w := f.do(t, probe.method, probe.path, "key-b", probe.body, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", probe.method, probe.path)
	}
}

func TestMissingAPIKeyIs401(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/api/v1/consents", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDataPlaneStripsRaw(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoices" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "Bearer vendor-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"MetaInformation":{"@TotalPages":1,"@CurrentPage":1,"@TotalResources":1},
			"Invoices":[{"DocumentNumber":"7","CustomerName":"Kund AB","Total":1250.0,"Balance":0,"Booked":true}]}`))
	}))
	id := f.acceptedConsent(t, "key-a")

	w := f.do(t, http.MethodGet, "/api/v1/consents/"+id+"/sales-invoices", "key-a", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data       []map[string]interface{} `json:"data"`
		TotalCount int                      `json:"totalCount"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "paid", resp.Data[0]["status"])
	assert.NotContains(t, resp.Data[0], "_raw")
}

func TestDataPlaneDetail404(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no such invoice"}`))
	}))
	id := f.acceptedConsent(t, "key-a")

	w := f.do(t, http.MethodGet, "/api/v1/consents/"+id+"/sales-invoices/99", "key-a", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDataPlaneVendorFailureIs502(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"fortnox exploded"}`))
	}))
	id := f.acceptedConsent(t, "key-a")

	w := f.do(t, http.MethodGet, "/api/v1/consents/"+id+"/sales-invoices", "key-a", nil, nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	var body struct {
		Error   string                 `json:"error"`
		Details map[string]interface{} `json:"details"`
	}
	decode(t, w, &body)
	assert.Equal(t, float64(http.StatusInternalServerError), body.Details["statusCode"])
}

func TestDataPlaneUnsupportedResourceIs400(t *testing.T) {
	f := newFixture(t, nil)
	id := f.acceptedConsent(t, "key-a")

	w := f.do(t, http.MethodGet, "/api/v1/consents/"+id+"/trial-balances", "key-a", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisabledVendorIs501(t *testing.T) {
	f := newFixture(t, nil)

	// A Visma consent accepted out of band; no Visma client is wired.
	w := f.do(t, http.MethodPost, "/api/v1/consents", "key-a",
		map[string]string{"name": "V", "provider": "visma"}, nil)
	var created core.Consent
	decode(t, w, &created)
	w = f.do(t, http.MethodPost, "/api/v1/consents/"+created.ID+"/otc", "key-a", map[string]string{}, nil)
	var otc struct {
		Code string `json:"code"`
	}
	decode(t, w, &otc)
	w = f.do(t, http.MethodPost, "/api/v1/consents/auth/token", "key-a", map[string]interface{}{
		"code": otc.Code, "consentId": created.ID, "provider": "visma", "accessToken": "T",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/consents/"+created.ID+"/sales-invoices", "key-a", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestAuthURLRoute(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/api/v1/auth/fortnox/url?state=abc", "key-a", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		URL string `json:"url"`
	}
	decode(t, w, &body)
	assert.Contains(t, body.URL, "state=abc")

	// Visma has no client configured.
	w = f.do(t, http.MethodGet, "/api/v1/auth/visma/url", "key-a", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

const uploadSIE = `#FLAGGA 0
#PROGRAM "Testbok" 1.0
#SIETYP 4
#FNAMN "Uppladdning AB"
#ORGNR 5569876543
#RAR 0 20240101 20241231
#KONTO 1910 "Kassa"
#KONTO 3010 "Försäljning"
#IB 0 1910 1000.00
#UB 0 1910 2000.00
#RES 0 3010 -1000.00
`

func TestSIEUploadRoundTrip(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/consents", "key-a",
		map[string]string{"name": "Bokslut", "provider": "sie-upload"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created core.Consent
	decode(t, w, &created)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "2024.se")
	require.NoError(t, err)
	_, err = part.Write([]byte(uploadSIE))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/consents/"+created.ID+"/sie-upload", &buf)
	req.Header.Set("Authorization", "Bearer key-a")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result struct {
		Uploads []struct {
			UploadID   string `json:"uploadId"`
			FiscalYear int    `json:"fiscalYear"`
		} `json:"uploads"`
	}
	decode(t, rec, &result)
	require.Len(t, result.Uploads, 1)
	assert.Equal(t, 2024, result.Uploads[0].FiscalYear)

	w = f.do(t, http.MethodGet, "/api/v1/consents/"+created.ID+"/sie", "key-a", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Uppladdning AB")

	w = f.do(t, http.MethodGet,
		"/api/v1/consents/"+created.ID+"/sie/"+result.Uploads[0].UploadID, "key-a", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "5569876543")
}

func TestSyncFlowOverHTTP(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/invoices":
			w.Write([]byte(`{"MetaInformation":{"@TotalPages":1,"@CurrentPage":1,"@TotalResources":1},
				"Invoices":[{"DocumentNumber":"1","Total":100.0,"Sent":true}]}`))
		case strings.HasPrefix(r.URL.Path, "/"):
			w.Write([]byte(`{"MetaInformation":{"@TotalPages":1,"@CurrentPage":1,"@TotalResources":0},
				"Customers":[],"Suppliers":[],"SupplierInvoices":[],"InvoicePayments":[]}`))
		}
	}))
	consentID := f.acceptedConsent(t, "key-a")

	w := f.do(t, http.MethodPost, "/api/v1/connections", "key-a", map[string]interface{}{
		"connectionId": "conn-1", "provider": "fortnox", "displayName": "Kund AB",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/connections/conn-1/sync", "key-a", map[string]interface{}{
		"consentId": consentID, "entityTypes": []string{"invoice"},
	}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	var started struct {
		JobID string `json:"jobId"`
	}
	decode(t, w, &started)
	require.NotEmpty(t, started.JobID)

	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/api/v1/connections/conn-1/sync/"+started.JobID, "key-a", nil, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var progress core.SyncProgress
		decode(t, w, &progress)
		return progress.Status == core.SyncCompleted
	}, 5*time.Second, 20*time.Millisecond)

	w = f.do(t, http.MethodGet, "/api/v1/connections/conn-1/sync/history", "key-a", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/connections/conn-1/entities/invoice", "key-a", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entities struct {
		Data       []json.RawMessage `json:"data"`
		TotalCount int               `json:"totalCount"`
	}
	decode(t, w, &entities)
	assert.Equal(t, 1, entities.TotalCount)
}

func TestRevokeRouteDropsAccess(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	id := f.acceptedConsent(t, "key-a")

	w := f.do(t, http.MethodPost, "/api/v1/auth/fortnox/revoke", "key-a",
		map[string]string{"consentId": id}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var revoked core.Consent
	decode(t, w, &revoked)
	assert.Equal(t, core.ConsentRevoked, revoked.Status)

	// Revoked consents lose data-plane access.
	w = f.do(t, http.MethodGet, "/api/v1/consents/"+id+"/sales-invoices", "key-a", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestConnectionValidation(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/v1/connections", "key-a",
		map[string]string{"provider": "quickbooks", "displayName": "X"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/connections/none", "key-a", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestMetricsRecorded(t *testing.T) {
	fix := newFixture(t, nil)

	w := fix.do(t, http.MethodGet, "/api/v1/consents", "key-a", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = fix.do(t, http.MethodGet, "/api/v1/consents", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		fix.metrics.RequestTotal.WithLabelValues("GET", "/api/v1/consents", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		fix.metrics.RequestTotal.WithLabelValues("GET", "/api/v1/consents", "401")))

	scrape := fix.do(t, http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, scrape.Code)
	assert.Contains(t, scrape.Body.String(), "gateway_http_requests_total")
}
