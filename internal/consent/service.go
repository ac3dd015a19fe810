// Package consent implements the consent lifecycle: creation, listing,
// optimistic-concurrency updates, one-time handoff codes, token exchange and
// the SIE-upload acceptance path.
package consent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/database"
	"github.com/nordledger/gateway/internal/sie"
	"github.com/nordledger/gateway/internal/vault"
)

// Sentinel errors the HTTP layer maps onto the canonical taxonomy.
var (
	// ErrNotFound also covers cross-tenant access: a consent owned by another
	// tenant is reported missing, never forbidden.
	ErrNotFound     = errors.New("consent not found")
	ErrETagMismatch = errors.New("etag mismatch")
	ErrInvalidCode  = errors.New("one-time code invalid or already used")
	// ErrConsentMismatch marks an exchange whose code belongs to a different
	// consent than the body states.
	ErrConsentMismatch = errors.New("one-time code does not belong to the stated consent")
	ErrValidation      = errors.New("validation failed")
)

// otcBytes yields a 16-hex-char code.
const otcBytes = 8

// Service is the consent domain service.
type Service struct {
	db          database.Adapter
	vault       *vault.Vault
	otcLifetime time.Duration
	logger      *log.Logger
}

// New wires the service. lifetime zero falls back to 60 minutes.
func New(db database.Adapter, v *vault.Vault, otcLifetime time.Duration) *Service {
	if otcLifetime <= 0 {
		otcLifetime = 60 * time.Minute
	}
	return &Service{
		db:          db,
		vault:       v,
		otcLifetime: otcLifetime,
		logger:      log.New(log.Writer(), "[CONSENT] ", log.LstdFlags),
	}
}

// CreateInput is the consent creation payload.
type CreateInput struct {
	Name        string        `json:"name"`
	Provider    core.Provider `json:"provider"`
	OrgNumber   string        `json:"orgNumber"`
	CompanyName string        `json:"companyName"`
}

// Create makes a new consent in status Created with a fresh etag.
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (*core.Consent, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !in.Provider.Valid() {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrValidation, in.Provider)
	}

	now := time.Now().UTC()
	c := &core.Consent{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        in.Name,
		Provider:    in.Provider,
		OrgNumber:   in.OrgNumber,
		CompanyName: in.CompanyName,
		Status:      core.ConsentCreated,
		ETag:        newETag(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.UpsertConsent(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Printf("Created consent %s for tenant %s (%s)", c.ID, tenantID, c.Provider)
	return c, nil
}

// List returns the tenant's consents with optional provider/status filters.
func (s *Service) List(ctx context.Context, tenantID string, provider core.Provider, status *core.ConsentStatus) ([]*core.Consent, error) {
	return s.db.GetConsents(ctx, tenantID, database.ConsentFilter{Provider: provider, Status: status})
}

// Get loads one consent, tenant-scoped.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*core.Consent, error) {
	c, err := s.db.GetConsent(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil || c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return c, nil
}

// PatchInput carries the updatable consent fields; nil means unchanged.
type PatchInput struct {
	Name        *string             `json:"name"`
	OrgNumber   *string             `json:"orgNumber"`
	CompanyName *string             `json:"companyName"`
	Status      *core.ConsentStatus `json:"status"`
}

// Patch applies a partial update under optimistic concurrency: a non-empty
// ifMatch must equal the stored etag or nothing persists. Success regenerates
// the etag.
func (s *Service) Patch(ctx context.Context, tenantID, id, ifMatch string, in PatchInput) (*core.Consent, error) {
	c, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != c.ETag {
		return nil, ErrETagMismatch
	}

	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.OrgNumber != nil {
		c.OrgNumber = *in.OrgNumber
	}
	if in.CompanyName != nil {
		c.CompanyName = *in.CompanyName
	}
	if in.Status != nil {
		c.Status = *in.Status
	}
	c.ETag = newETag()
	c.UpdatedAt = time.Now().UTC()

	if err := s.db.UpsertConsent(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes the consent; the adapter cascades tokens and codes.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	return s.db.DeleteConsent(ctx, id)
}

// CreateOTC issues a single-use handoff code for an existing consent.
func (s *Service) CreateOTC(ctx context.Context, tenantID, consentID string) (*core.OneTimeCode, error) {
	if _, err := s.Get(ctx, tenantID, consentID); err != nil {
		return nil, err
	}

	buf := make([]byte, otcBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate one-time code: %w", err)
	}
	now := time.Now().UTC()
	otc := &core.OneTimeCode{
		Code:      hex.EncodeToString(buf),
		ConsentID: consentID,
		ExpiresAt: now.Add(s.otcLifetime),
		CreatedAt: now,
	}
	if err := s.db.CreateOneTimeCode(ctx, otc); err != nil {
		return nil, err
	}
	return otc, nil
}

// ExchangeInput is the acceptance payload: the one-time code plus the vendor
// credentials obtained out of band.
type ExchangeInput struct {
	Code         string        `json:"code"`
	ConsentID    string        `json:"consentId"`
	Provider     core.Provider `json:"provider"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	ExpiresIn    int           `json:"expiresIn"`
	Scopes       []string      `json:"scopes"`
	CompanyID    string        `json:"companyId"`
}

// ExchangeToken validates the single-use code, stores the tokens ciphered and
// transitions the consent to Accepted. The code is the authorization here;
// no tenant scope applies.
func (s *Service) ExchangeToken(ctx context.Context, in ExchangeInput) (*core.Consent, error) {
	if in.Code == "" || in.ConsentID == "" || in.AccessToken == "" {
		return nil, fmt.Errorf("%w: code, consentId and accessToken are required", ErrValidation)
	}

	otc, err := s.db.ValidateOneTimeCode(ctx, in.Code)
	if err != nil {
		return nil, err
	}
	if otc == nil {
		return nil, ErrInvalidCode
	}
	if otc.ConsentID != in.ConsentID {
		return nil, ErrConsentMismatch
	}

	c, err := s.db.GetConsent(ctx, in.ConsentID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}

	tokens := &core.ConsentTokens{
		ConsentID:    c.ID,
		Provider:     c.Provider,
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		Scopes:       in.Scopes,
		CompanyID:    in.CompanyID,
	}
	if in.ExpiresIn > 0 {
		exp := time.Now().UTC().Add(time.Duration(in.ExpiresIn) * time.Second)
		tokens.TokenExpiresAt = &exp
	}
	if err := s.vault.Store(ctx, tokens); err != nil {
		return nil, err
	}

	c.Status = core.ConsentAccepted
	c.ETag = newETag()
	c.UpdatedAt = time.Now().UTC()
	if err := s.db.UpsertConsent(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Printf("Consent %s accepted (%s)", c.ID, c.Provider)
	return c, nil
}

// UploadFile is one SIE file in a multipart upload.
type UploadFile struct {
	Name string
	Data []byte
}

// UploadResult summarizes one stored SIE file.
type UploadResult struct {
	UploadID    string                `json:"uploadId"`
	FileName    string                `json:"fileName"`
	FiscalYear  int                   `json:"fiscalYear"`
	SIEType     string                `json:"sieType"`
	CompanyName string                `json:"companyName,omitempty"`
	OrgNumber   string                `json:"orgNumber,omitempty"`
	Warnings    []string              `json:"warnings,omitempty"`
	KPIs        *sie.KPIReport        `json:"kpis,omitempty"`
	Validation  []sie.ValidationIssue `json:"validationErrors,omitempty"`
}

// SIEUpload decodes, parses and stores the uploaded files for an sie-upload
// consent, computes KPIs, backfills company metadata from the first file and
// transitions the consent to Accepted.
func (s *Service) SIEUpload(ctx context.Context, tenantID, consentID string, files []UploadFile) ([]UploadResult, error) {
	c, err := s.Get(ctx, tenantID, consentID)
	if err != nil {
		return nil, err
	}
	if c.Provider != core.ProviderSIEUpload {
		return nil, fmt.Errorf("%w: consent provider is %s, want %s", ErrValidation, c.Provider, core.ProviderSIEUpload)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files in upload", ErrValidation)
	}

	results := make([]UploadResult, 0, len(files))
	for _, f := range files {
		text, err := sie.Decode(f.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrValidation, f.Name, err)
		}
		doc, err := sie.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrValidation, f.Name, err)
		}

		res := UploadResult{
			FileName:    f.Name,
			FiscalYear:  doc.Metadata.FiscalYearStart.Year(),
			SIEType:     doc.Metadata.SIEType,
			CompanyName: doc.Metadata.CompanyName,
			OrgNumber:   doc.Metadata.OrgNumber,
		}

		check := sie.ValidateBalances(doc)
		for _, w := range check.Warnings {
			res.Warnings = append(res.Warnings, w.Message)
		}
		if !check.OK() {
			res.Validation = check.Errors
			results = append(results, res)
			continue
		}

		kpis := sie.ComputeKPIs(doc)
		res.KPIs = kpis
		res.UploadID = uuid.NewString()

		rec := &database.SIERecord{
			UploadID:     res.UploadID,
			ConnectionID: consentID,
			FiscalYear:   res.FiscalYear,
			SIEType:      doc.Metadata.SIEType,
			FileName:     f.Name,
			CompanyName:  doc.Metadata.CompanyName,
			OrgNumber:    doc.Metadata.OrgNumber,
			Document:     doc,
			KPIs:         kpis,
			RawContent:   text,
			UploadedAt:   time.Now().UTC(),
		}
		if err := s.db.StoreSIEData(ctx, rec); err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	// Backfill consent metadata from the first parsed file.
	changed := false
	if c.CompanyName == "" && results[0].CompanyName != "" {
		c.CompanyName = results[0].CompanyName
		changed = true
	}
	if c.OrgNumber == "" && results[0].OrgNumber != "" {
		c.OrgNumber = results[0].OrgNumber
		changed = true
	}
	if c.Status != core.ConsentAccepted {
		c.Status = core.ConsentAccepted
		changed = true
	}
	if changed {
		c.ETag = newETag()
		c.UpdatedAt = time.Now().UTC()
		if err := s.db.UpsertConsent(ctx, c); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ListSIE lists the uploads stored for a consent.
func (s *Service) ListSIE(ctx context.Context, tenantID, consentID string) ([]*database.SIEUploadSummary, error) {
	if _, err := s.Get(ctx, tenantID, consentID); err != nil {
		return nil, err
	}
	return s.db.GetSIEUploads(ctx, consentID)
}

// GetSIE returns one upload's full payload.
func (s *Service) GetSIE(ctx context.Context, tenantID, consentID, uploadID string) (*database.SIERecord, error) {
	if _, err := s.Get(ctx, tenantID, consentID); err != nil {
		return nil, err
	}
	rec, err := s.db.GetSIEData(ctx, consentID, uploadID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Revoke transitions a consent to Revoked and drops its tokens.
func (s *Service) Revoke(ctx context.Context, tenantID, consentID string) (*core.Consent, error) {
	c, err := s.Get(ctx, tenantID, consentID)
	if err != nil {
		return nil, err
	}
	c.Status = core.ConsentRevoked
	c.ETag = newETag()
	c.UpdatedAt = time.Now().UTC()
	if err := s.db.UpsertConsent(ctx, c); err != nil {
		return nil, err
	}
	if err := s.db.DeleteConsentTokens(ctx, consentID); err != nil {
		return nil, err
	}
	return c, nil
}

func newETag() string {
	return uuid.NewString()
}
