// Package database defines the pluggable storage adapter the core runs on,
// with a Postgres implementation for deployment and an in-memory one for
// development and the test suite.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/sie"
)

// ErrNotFound is returned when a keyed lookup misses.
var ErrNotFound = errors.New("database: not found")

// UpsertResult counts the outcome of a batch entity upsert.
type UpsertResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// EntityQuery filters and pages entity reads.
type EntityQuery struct {
	Page           int
	PageSize       int
	FiscalYear     int
	FromDate       *time.Time
	ToDate         *time.Time
	OrderBy        string // document_date | due_date | amount | external_id
	OrderDirection string // asc | desc
}

// ConsentFilter narrows consent listings.
type ConsentFilter struct {
	Provider core.Provider
	Status   *core.ConsentStatus
}

// SIERecord is one stored SIE file: raw text plus parse and KPI output,
// scoped by (ConnectionID, FiscalYear, SIEType).
type SIERecord struct {
	UploadID     string         `json:"upload_id"`
	ConnectionID string         `json:"connection_id"`
	FiscalYear   int            `json:"fiscal_year"`
	SIEType      string         `json:"sie_type"`
	FileName     string         `json:"file_name,omitempty"`
	CompanyName  string         `json:"company_name,omitempty"`
	OrgNumber    string         `json:"org_number,omitempty"`
	Document     *sie.Document  `json:"document,omitempty"`
	KPIs         *sie.KPIReport `json:"kpis,omitempty"`
	RawContent   string         `json:"raw_content,omitempty"`
	UploadedAt   time.Time      `json:"uploaded_at"`
}

// SIEUploadSummary is the listing shape (no raw text, no full document).
type SIEUploadSummary struct {
	UploadID     string    `json:"upload_id"`
	ConnectionID string    `json:"connection_id"`
	FiscalYear   int       `json:"fiscal_year"`
	SIEType      string    `json:"sie_type"`
	FileName     string    `json:"file_name,omitempty"`
	CompanyName  string    `json:"company_name,omitempty"`
	OrgNumber    string    `json:"org_number,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Adapter is the complete operation set the core requires. Both Postgres and
// the in-memory store implement it. All cascade semantics live behind the
// adapter: deleting a consent removes its tokens and codes; deleting a
// connection removes its entities, sync state, progress and SIE data.
type Adapter interface {
	// Connections
	UpsertConnection(ctx context.Context, conn *core.Connection) error
	GetConnection(ctx context.Context, connectionID string) (*core.Connection, error)
	GetConnections(ctx context.Context, provider core.Provider) ([]*core.Connection, error)
	DeleteConnection(ctx context.Context, connectionID string) error

	// Canonical entities
	UpsertEntities(ctx context.Context, connectionID string, entityType core.EntityType, entities []*core.EntityRecord) (*UpsertResult, error)
	GetEntities(ctx context.Context, connectionID string, entityType core.EntityType, q EntityQuery) ([]*core.EntityRecord, error)
	GetEntityCount(ctx context.Context, connectionID string, entityType core.EntityType) (int, error)

	// Sync state & progress
	GetSyncState(ctx context.Context, connectionID string, entityType core.EntityType) (*core.SyncState, error)
	UpdateSyncState(ctx context.Context, state *core.SyncState) error
	UpsertSyncProgress(ctx context.Context, progress *core.SyncProgress) error
	GetSyncProgress(ctx context.Context, jobID string) (*core.SyncProgress, error)
	GetSyncHistory(ctx context.Context, connectionID string, limit int) ([]*core.SyncProgress, error)

	// SIE storage
	StoreSIEData(ctx context.Context, rec *SIERecord) error
	GetSIEUploads(ctx context.Context, connectionID string) ([]*SIEUploadSummary, error)
	GetSIEData(ctx context.Context, connectionID, uploadID string) (*SIERecord, error)

	// Consents
	UpsertConsent(ctx context.Context, consent *core.Consent) error
	GetConsent(ctx context.Context, consentID string) (*core.Consent, error)
	GetConsents(ctx context.Context, tenantID string, f ConsentFilter) ([]*core.Consent, error)
	DeleteConsent(ctx context.Context, consentID string) error

	// Consent tokens (values arrive already ciphered from the vault)
	StoreConsentTokens(ctx context.Context, tokens *core.ConsentTokens) error
	GetConsentTokens(ctx context.Context, consentID string) (*core.ConsentTokens, error)
	DeleteConsentTokens(ctx context.Context, consentID string) error

	// One-time codes
	CreateOneTimeCode(ctx context.Context, otc *core.OneTimeCode) error
	// ValidateOneTimeCode is the atomic check-and-mark: a code is returned at
	// most once; expired, used or unknown codes yield (nil, nil).
	ValidateOneTimeCode(ctx context.Context, code string) (*core.OneTimeCode, error)

	// Ingress auth
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*core.APIKey, error)
	CreateAPIKey(ctx context.Context, key *core.APIKey) error

	// Maintenance (cron)
	PurgeConsents(ctx context.Context, createdBefore, inactiveBefore time.Time) (int, error)
	GetTokensExpiringBefore(ctx context.Context, cutoff time.Time) ([]*core.ConsentTokens, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}
