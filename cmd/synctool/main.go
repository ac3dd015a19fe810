// Command synctool runs a single sync job from the command line, for
// operators backfilling a connection without going through the REST surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nordledger/gateway/internal/config"
	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/database"
	"github.com/nordledger/gateway/internal/gateway"
	"github.com/nordledger/gateway/internal/ratelimit"
	"github.com/nordledger/gateway/internal/registry"
	syncengine "github.com/nordledger/gateway/internal/sync"
	"github.com/nordledger/gateway/internal/vault"
	"github.com/nordledger/gateway/internal/vendors"
)

func main() {
	var (
		configPath   = flag.String("config", "", "optional YAML config overlay")
		connectionID = flag.String("connection", "", "connection id to sync (required)")
		consentID    = flag.String("consent", "", "consent id holding the credentials (required)")
		entityCSV    = flag.String("entities", "", "comma-separated entity types (default: all supported)")
		includeSIE   = flag.Bool("include-sie", false, "also fetch and parse SIE exports")
		yearsCSV     = flag.String("fiscal-years", "", "comma-separated fiscal years for the SIE leg")
		timeout      = flag.Duration("timeout", 30*time.Minute, "overall job deadline")
	)
	flag.Parse()
	if *connectionID == "" || *consentID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}
	cipher, err := vault.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize token cipher: %v", err)
	}
	v := vault.New(cipher, db)

	conn, err := db.GetConnection(ctx, *connectionID)
	if err != nil {
		log.Fatalf("Failed to load connection: %v", err)
	}
	if conn == nil {
		log.Fatalf("Connection %s not found", *connectionID)
	}
	tokens, err := v.Load(ctx, *consentID)
	if err != nil {
		log.Fatalf("Failed to load credentials for consent %s: %v", *consentID, err)
	}
	if tokens == nil {
		log.Fatalf("No credentials stored for consent %s", *consentID)
	}

	vc := cfg.Vendor(conn.Provider)
	if !vc.Configured() {
		log.Fatalf("Vendor %s is not configured", conn.Provider)
	}
	opts := vendors.Options{Limiter: ratelimit.New(vc.MaxRequests, vc.Window)}
	if conn.Provider == core.ProviderBriox {
		opts.ClientID = vc.ClientID
	}
	clients := map[core.Provider]*vendors.Client{
		conn.Provider: vendors.NewClient(conn.Provider, vc.BaseURL, opts),
	}
	engine := syncengine.New(db, gateway.New(registry.New(), clients), clients, nil)

	progress, err := engine.Execute(ctx, syncengine.Job{
		ConnectionID: conn.ConnectionID,
		Provider:     conn.Provider,
		Credentials:  vendors.Credentials{AccessToken: tokens.AccessToken, CompanyID: tokens.CompanyID},
		EntityTypes:  parseEntities(*entityCSV),
		IncludeSIE:   *includeSIE,
		FiscalYears:  parseYears(*yearsCSV),
	})
	if err != nil {
		log.Fatalf("Sync failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(progress); err != nil {
		log.Fatalf("Failed to encode progress: %v", err)
	}
	if progress.Status == core.SyncFailed {
		os.Exit(1)
	}
}

func parseEntities(csv string) []core.EntityType {
	if csv == "" {
		return nil
	}
	var types []core.EntityType
	for _, raw := range strings.Split(csv, ",") {
		if s := strings.TrimSpace(raw); s != "" {
			types = append(types, core.EntityType(s))
		}
	}
	return types
}

func parseYears(csv string) []int {
	if csv == "" {
		return nil
	}
	var years []int
	for _, raw := range strings.Split(csv, ",") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		year, err := strconv.Atoi(s)
		if err != nil {
			log.Fatalf("Invalid fiscal year %q", s)
		}
		years = append(years, year)
	}
	return years
}
