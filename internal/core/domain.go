// Package core holds the canonical, provider-agnostic domain model shared by
// every layer of the gateway: consents, credentials, synced entities and the
// normalized business DTOs the HTTP surface exposes.
package core

import "time"

// ============================================================================
// PROVIDERS
// ============================================================================

// Provider identifies a backing bookkeeping vendor.
type Provider string

const (
	ProviderFortnox     Provider = "fortnox"
	ProviderVisma       Provider = "visma"
	ProviderBriox       Provider = "briox"
	ProviderBokio       Provider = "bokio"
	ProviderBjornLunden Provider = "bjornlunden"
	// ProviderSIEUpload is the pseudo-vendor for consents fed by uploaded SIE
	// files rather than a live API.
	ProviderSIEUpload Provider = "sie-upload"
)

// KnownProviders lists every provider tag the gateway recognizes.
var KnownProviders = []Provider{
	ProviderFortnox,
	ProviderVisma,
	ProviderBriox,
	ProviderBokio,
	ProviderBjornLunden,
	ProviderSIEUpload,
}

// Valid reports whether p is one of the recognized provider tags.
func (p Provider) Valid() bool {
	for _, known := range KnownProviders {
		if p == known {
			return true
		}
	}
	return false
}

// ============================================================================
// TENANTS & API KEYS
// ============================================================================

// Tenant is an isolated customer account. Every consent and credential is
// tenant-scoped; the tenant is always derived from the API key, never from a
// request body.
type Tenant struct {
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey is a hashed ingress credential bound to exactly one tenant.
// KeyHash is the SHA-256 hex digest of the raw key; lookup is O(1) by hash.
type APIKey struct {
	KeyID     string     `json:"key_id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"key_hash"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Active reports whether the key may be used at the given instant.
func (k *APIKey) Active(now time.Time) bool {
	if k.RevokedAt != nil && !k.RevokedAt.After(now) {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// ============================================================================
// CONSENTS
// ============================================================================

// ConsentStatus is the consent lifecycle state.
type ConsentStatus int

const (
	ConsentCreated  ConsentStatus = 0
	ConsentAccepted ConsentStatus = 1
	ConsentRevoked  ConsentStatus = 2
	ConsentInactive ConsentStatus = 3
)

// String returns the string representation of a consent status.
func (s ConsentStatus) String() string {
	switch s {
	case ConsentCreated:
		return "CREATED"
	case ConsentAccepted:
		return "ACCEPTED"
	case ConsentRevoked:
		return "REVOKED"
	case ConsentInactive:
		return "INACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Consent is a tenant-authorized grant for the gateway to access one vendor
// account. Only an ACCEPTED consent permits data-plane access. Every mutation
// regenerates ETag; writers presenting If-Match must carry the current value.
type Consent struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	Name        string        `json:"name"`
	Provider    Provider      `json:"provider"`
	OrgNumber   string        `json:"org_number,omitempty"`
	CompanyName string        `json:"company_name,omitempty"`
	Status      ConsentStatus `json:"status"`
	ETag        string        `json:"etag"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
}

// ConsentTokens holds the vendor credentials attached to a consent. Secrets
// are ciphered at rest when an encryption key is configured; the plaintext
// form only ever exists on the request path.
type ConsentTokens struct {
	ConsentID      string     `json:"consent_id"`
	Provider       Provider   `json:"provider"`
	AccessToken    string     `json:"access_token"`
	RefreshToken   string     `json:"refresh_token,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	// CompanyID is the opaque vendor-scoped company identifier for vendors
	// that need one (Bokio company id, Björn Lundén user key).
	CompanyID   string     `json:"company_id,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
	EncryptedAt *time.Time `json:"encrypted_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Expired reports whether the access token is past its expiry. Tokens with no
// recorded expiry (static-token vendors) never expire.
func (t *ConsentTokens) Expired(now time.Time) bool {
	return t.TokenExpiresAt != nil && t.TokenExpiresAt.Before(now)
}

// OneTimeCode is the short-lived handoff token that moves a consent from the
// creator flow to the acceptance flow. Single-use: the first successful
// validation sets UsedAt; later validations fail.
type OneTimeCode struct {
	Code      string     `json:"code"`
	ConsentID string     `json:"consent_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ============================================================================
// CONNECTIONS & SYNCED ENTITIES
// ============================================================================

// Connection is a materialized, synced integration. A Consent owns
// authorization; a Connection owns synced data.
type Connection struct {
	ConnectionID       string                 `json:"connection_id"`
	Provider           Provider               `json:"provider"`
	DisplayName        string                 `json:"display_name"`
	OrganizationNumber string                 `json:"organization_number,omitempty"`
	LastSyncAt         *time.Time             `json:"last_sync_at,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// EntityType is the closed enum of canonical entity kinds the sync engine
// pulls into the local store.
type EntityType string

const (
	EntityInvoice                EntityType = "invoice"
	EntityInvoicePayment         EntityType = "invoice_payment"
	EntityCustomer               EntityType = "customer"
	EntitySupplier               EntityType = "supplier"
	EntitySupplierInvoice        EntityType = "supplier_invoice"
	EntitySupplierInvoicePayment EntityType = "supplier_invoice_payment"
	EntityContract               EntityType = "contract"
	EntityOrder                  EntityType = "order"
	EntityEmployee               EntityType = "employee"
	EntityAsset                  EntityType = "asset"
	EntityCompanyInfo            EntityType = "company_info"
)

// AllEntityTypes lists every canonical entity type.
var AllEntityTypes = []EntityType{
	EntityInvoice, EntityInvoicePayment, EntityCustomer, EntitySupplier,
	EntitySupplierInvoice, EntitySupplierInvoicePayment, EntityContract,
	EntityOrder, EntityEmployee, EntityAsset, EntityCompanyInfo,
}

// EntityRecord is one provider-agnostic normalized row. Uniqueness is
// (ConnectionID, EntityType, ExternalID). ContentHash is a SHA-256 over a
// key-sorted JSON rendering of RawData and drives change detection.
type EntityRecord struct {
	ConnectionID       string                 `json:"connection_id"`
	ExternalID         string                 `json:"external_id"`
	EntityType         EntityType             `json:"entity_type"`
	Provider           Provider               `json:"provider"`
	FiscalYear         int                    `json:"fiscal_year,omitempty"`
	DocumentDate       *time.Time             `json:"document_date,omitempty"`
	DueDate            *time.Time             `json:"due_date,omitempty"`
	CounterpartyNumber string                 `json:"counterparty_number,omitempty"`
	CounterpartyName   string                 `json:"counterparty_name,omitempty"`
	Amount             *float64               `json:"amount,omitempty"`
	Currency           string                 `json:"currency"`
	Status             string                 `json:"status,omitempty"`
	RawData            map[string]interface{} `json:"raw_data"`
	LastModified       *time.Time             `json:"last_modified,omitempty"`
	ContentHash        string                 `json:"content_hash"`
}

// SyncState tracks the per (connection, entityType) sync cursor and counters.
type SyncState struct {
	ConnectionID       string     `json:"connection_id"`
	EntityType         EntityType `json:"entity_type"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	LastModifiedCursor *time.Time `json:"last_modified_cursor,omitempty"`
	TotalInserted      int64      `json:"total_inserted"`
	TotalUpdated       int64      `json:"total_updated"`
	TotalUnchanged     int64      `json:"total_unchanged"`
	LastError          string     `json:"last_error,omitempty"`
}

// SyncJobStatus is the lifecycle status of a sync job.
type SyncJobStatus string

const (
	SyncPending   SyncJobStatus = "pending"
	SyncRunning   SyncJobStatus = "running"
	SyncCompleted SyncJobStatus = "completed"
	SyncFailed    SyncJobStatus = "failed"
)

// EntitySyncResult summarizes the outcome for a single entity type within a
// sync job.
type EntitySyncResult struct {
	EntityType EntityType `json:"entity_type"`
	Success    bool       `json:"success"`
	Fetched    int        `json:"fetched"`
	Inserted   int        `json:"inserted"`
	Updated    int        `json:"updated"`
	Unchanged  int        `json:"unchanged"`
	Error      string     `json:"error,omitempty"`
}

// SIESyncResult aggregates the SIE leg of a sync job.
type SIESyncResult struct {
	Success     bool   `json:"success"`
	FilesStored int    `json:"files_stored"`
	Error       string `json:"error,omitempty"`
}

// SyncProgress is the observable record of an in-flight or completed job.
// Append-only with last-write-wins on JobID.
type SyncProgress struct {
	JobID         string             `json:"job_id"`
	ConnectionID  string             `json:"connection_id"`
	Provider      Provider           `json:"provider"`
	Status        SyncJobStatus      `json:"status"`
	Progress      int                `json:"progress"` // 0..100
	EntityResults []EntitySyncResult `json:"entity_results"`
	SIEResult     *SIESyncResult     `json:"sie_result,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	DurationMs    int64              `json:"duration_ms,omitempty"`
	Error         string             `json:"error,omitempty"`
}
