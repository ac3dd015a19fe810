// Package api is the HTTP surface: route tables over the consent service,
// the data-plane gateway, the OAuth driver and the sync engine.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nordledger/gateway/internal/config"
	"github.com/nordledger/gateway/internal/consent"
	"github.com/nordledger/gateway/internal/database"
	"github.com/nordledger/gateway/internal/gateway"
	"github.com/nordledger/gateway/internal/metrics"
	"github.com/nordledger/gateway/internal/middleware"
	"github.com/nordledger/gateway/internal/oauth"
	syncengine "github.com/nordledger/gateway/internal/sync"
	"github.com/nordledger/gateway/internal/vault"
)

// Server wires every service behind the versioned REST surface.
type Server struct {
	cfg      *config.Config
	db       database.Adapter
	consents *consent.Service
	gw       *gateway.Gateway
	oauth    *oauth.Service
	vault    *vault.Vault
	engine   *syncengine.Engine
	metrics  *metrics.Metrics
	logger   *log.Logger
}

// Deps carries the constructed services into the server.
type Deps struct {
	Config   *config.Config
	DB       database.Adapter
	Consents *consent.Service
	Gateway  *gateway.Gateway
	OAuth    *oauth.Service
	Vault    *vault.Vault
	Engine   *syncengine.Engine
	Metrics  *metrics.Metrics
}

// NewServer builds the server. Metrics may be nil (no /metrics endpoint).
func NewServer(d Deps) *Server {
	return &Server{
		cfg:      d.Config,
		db:       d.DB,
		consents: d.Consents,
		gw:       d.Gateway,
		oauth:    d.OAuth,
		vault:    d.Vault,
		engine:   d.Engine,
		metrics:  d.Metrics,
		logger:   log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router assembles the full route table. Control-plane consent routes are
// registered before the consent-scoped data plane so that reserved segments
// (otc, sie, sie-upload) never match as resource types.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.instrument)
	api.Use(middleware.APIKeyAuth(s.db, s.cfg.LegacyTenantKeys))

	// Consent control plane.
	api.HandleFunc("/consents", s.handleConsentCreate).Methods(http.MethodPost)
	api.HandleFunc("/consents", s.handleConsentList).Methods(http.MethodGet)
	api.HandleFunc("/consents/auth/token", s.handleTokenExchange).Methods(http.MethodPost)
	api.HandleFunc("/consents/{consentId}", s.handleConsentGet).Methods(http.MethodGet)
	api.HandleFunc("/consents/{consentId}", s.handleConsentPatch).Methods(http.MethodPatch)
	api.HandleFunc("/consents/{consentId}", s.handleConsentDelete).Methods(http.MethodDelete)
	api.HandleFunc("/consents/{consentId}/otc", s.handleOTCCreate).Methods(http.MethodPost)
	api.HandleFunc("/consents/{consentId}/sie-upload", s.handleSIEUpload).Methods(http.MethodPost)
	api.HandleFunc("/consents/{consentId}/sie", s.handleSIEList).Methods(http.MethodGet)
	api.HandleFunc("/consents/{consentId}/sie/{uploadId}", s.handleSIEGet).Methods(http.MethodGet)

	// OAuth surface.
	api.HandleFunc("/auth/{provider}/url", s.handleAuthURL).Methods(http.MethodGet)
	api.HandleFunc("/auth/{provider}/exchange", s.handleAuthExchange).Methods(http.MethodPost)
	api.HandleFunc("/auth/{provider}/callback", s.handleAuthCallback).Methods(http.MethodPost)
	api.HandleFunc("/auth/{provider}/refresh", s.handleAuthRefresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/{provider}/revoke", s.handleAuthRevoke).Methods(http.MethodPost)

	// Connections and sync.
	api.HandleFunc("/connections", s.handleConnectionUpsert).Methods(http.MethodPost)
	api.HandleFunc("/connections", s.handleConnectionList).Methods(http.MethodGet)
	api.HandleFunc("/connections/{connectionId}", s.handleConnectionGet).Methods(http.MethodGet)
	api.HandleFunc("/connections/{connectionId}", s.handleConnectionDelete).Methods(http.MethodDelete)
	api.HandleFunc("/connections/{connectionId}/sync", s.handleSyncStart).Methods(http.MethodPost)
	api.HandleFunc("/connections/{connectionId}/sync/history", s.handleSyncHistory).Methods(http.MethodGet)
	api.HandleFunc("/connections/{connectionId}/sync/{jobId}", s.handleSyncProgress).Methods(http.MethodGet)
	api.HandleFunc("/connections/{connectionId}/entities/{entityType}", s.handleEntityList).Methods(http.MethodGet)

	// Consent-scoped data plane. ConsentScope resolves {consentId} into the
	// consent plus decrypted vendor credentials.
	data := api.PathPrefix("/consents/{consentId}").Subrouter()
	data.Use(middleware.ConsentScope(s.db, s.vault, s.oauth, s.cfg.Mode))
	data.HandleFunc("/{resourceType}", s.handleDataList).Methods(http.MethodGet)
	data.HandleFunc("/{resourceType}", s.handleDataCreate).Methods(http.MethodPost)
	data.HandleFunc("/{resourceType}/{resourceId}", s.handleDataGet).Methods(http.MethodGet)
	data.HandleFunc("/{parentType}/{parentId}/{subType}", s.handleDataListSub).Methods(http.MethodGet)
	data.HandleFunc("/{parentType}/{parentId}/{subType}", s.handleDataCreateSub).Methods(http.MethodPost)

	return r
}

// instrument counts and times every API request under the matched route
// template, keeping metric label cardinality bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.Instrument(route, next).ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled, then drains with a grace period.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.RequestTimeout,
		WriteTimeout:      s.cfg.RequestTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s (%s mode)", srv.Addr, s.cfg.Mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
