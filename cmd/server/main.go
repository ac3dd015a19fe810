package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/nordledger/gateway/internal/api"
	"github.com/nordledger/gateway/internal/config"
	"github.com/nordledger/gateway/internal/consent"
	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/cron"
	"github.com/nordledger/gateway/internal/database"
	"github.com/nordledger/gateway/internal/gateway"
	"github.com/nordledger/gateway/internal/metrics"
	"github.com/nordledger/gateway/internal/oauth"
	"github.com/nordledger/gateway/internal/ratelimit"
	"github.com/nordledger/gateway/internal/registry"
	syncengine "github.com/nordledger/gateway/internal/sync"
	"github.com/nordledger/gateway/internal/vault"
	"github.com/nordledger/gateway/internal/vendors"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config overlay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}

	cipher, err := vault.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize token cipher: %v", err)
	}
	if cipher == nil {
		log.Println("TOKEN_ENCRYPTION_KEY not set; tokens will be stored in plaintext")
	}
	v := vault.New(cipher, db)

	m := metrics.New()
	clients := buildClients(cfg, m)
	gw := gateway.New(registry.New(), clients)
	oauthSvc := oauth.New(cfg.Vendors)
	consents := consent.New(db, v, cfg.OTCLifetime)
	engine := syncengine.New(db, gw, clients, m)

	if cfg.EnableCron {
		cron.New(db, v, oauthSvc, m).Start(ctx)
	}

	server := api.NewServer(api.Deps{
		Config:   cfg,
		DB:       db,
		Consents: consents,
		Gateway:  gw,
		OAuth:    oauthSvc,
		Vault:    v,
		Engine:   engine,
		Metrics:  m,
	})
	if err := server.Start(ctx); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

// buildClients constructs one vendor client per enabled vendor. Limiters live
// in a shared registry so operational tooling can look them up by vendor name.
func buildClients(cfg *config.Config, m *metrics.Metrics) map[core.Provider]*vendors.Client {
	limiters := ratelimit.NewRegistry()
	clients := make(map[core.Provider]*vendors.Client)
	for provider, vc := range cfg.Vendors {
		if !vc.Configured() {
			continue
		}
		limiters.Register(string(provider), vc.MaxRequests, vc.Window)
		opts := vendors.Options{
			Limiter: limiters.Get(string(provider)),
			Metrics: m,
		}
		if provider == core.ProviderBriox {
			opts.ClientID = vc.ClientID
		}
		clients[provider] = vendors.NewClient(provider, vc.BaseURL, opts)
	}
	return clients
}
