// Package cron runs the background maintenance loops: consent retention
// purging and proactive token refresh.
package cron

import (
	"context"
	"log"
	"time"

	"github.com/nordledger/gateway/internal/database"
	"github.com/nordledger/gateway/internal/metrics"
	"github.com/nordledger/gateway/internal/vault"
)

const (
	// Retention windows: consents never accepted are purged after 30 days,
	// revoked or inactive ones after 180.
	createdRetention  = 30 * 24 * time.Hour
	inactiveRetention = 180 * 24 * time.Hour

	purgeInterval   = 6 * time.Hour
	refreshInterval = 15 * time.Minute
	// refreshHorizon: tokens expiring within this window get refreshed ahead
	// of the request path.
	refreshHorizon = 30 * time.Minute
)

// Runner owns the maintenance tickers.
type Runner struct {
	db        database.Adapter
	vault     *vault.Vault
	refresher vault.Refresher
	metrics   *metrics.Metrics
	logger    *log.Logger
}

// New wires a runner. m may be nil.
func New(db database.Adapter, v *vault.Vault, refresher vault.Refresher, m *metrics.Metrics) *Runner {
	return &Runner{
		db:        db,
		vault:     v,
		refresher: refresher,
		metrics:   m,
		logger:    log.New(log.Writer(), "[CRON] ", log.LstdFlags),
	}
}

// Start runs both loops until ctx is cancelled. Each loop fires once at
// startup so a restart never delays overdue maintenance.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx, purgeInterval, r.purge)
	go r.loop(ctx, refreshInterval, r.refreshExpiring)
}

func (r *Runner) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (r *Runner) purge(ctx context.Context) {
	now := time.Now().UTC()
	purged, err := r.db.PurgeConsents(ctx, now.Add(-createdRetention), now.Add(-inactiveRetention))
	if err != nil {
		r.logger.Printf("consent purge failed: %v", err)
		return
	}
	if purged > 0 {
		r.logger.Printf("purged %d consents past retention", purged)
		if r.metrics != nil {
			r.metrics.ConsentsPurged.Add(float64(purged))
		}
	}
}

func (r *Runner) refreshExpiring(ctx context.Context) {
	expiring, err := r.db.GetTokensExpiringBefore(ctx, time.Now().Add(refreshHorizon))
	if err != nil {
		r.logger.Printf("token sweep failed: %v", err)
		return
	}
	for _, stored := range expiring {
		// Read through the vault for plaintext; the refresher needs usable
		// secrets, not ciphertext.
		tokens, err := r.vault.Load(ctx, stored.ConsentID)
		if err != nil || tokens == nil {
			r.logger.Printf("consent %s: load for refresh: %v", stored.ConsentID, err)
			continue
		}
		renewed, err := r.refresher.Refresh(ctx, tokens.Provider, tokens)
		if r.metrics != nil {
			r.metrics.RecordTokenRefresh(string(tokens.Provider), err)
		}
		if err != nil {
			r.logger.Printf("consent %s: refresh failed: %v", stored.ConsentID, err)
			continue
		}
		if renewed == tokens {
			continue // static-token vendor, nothing to persist
		}
		renewed.ConsentID = tokens.ConsentID
		renewed.Provider = tokens.Provider
		if renewed.CompanyID == "" {
			renewed.CompanyID = tokens.CompanyID
		}
		if err := r.vault.Store(ctx, renewed); err != nil {
			r.logger.Printf("consent %s: persist refreshed tokens: %v", stored.ConsentID, err)
		}
	}
}
