package sync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/database"
	"github.com/nordledger/gateway/internal/gateway"
	"github.com/nordledger/gateway/internal/metrics"
	"github.com/nordledger/gateway/internal/sie"
	"github.com/nordledger/gateway/internal/vendors"
)

const (
	syncPageSize = 100
	// maxSyncPages caps the per-type pagination loop against vendors that
	// keep reporting more pages.
	maxSyncPages = 500
	// sieParallelism bounds concurrent SIE exports when several fiscal years
	// are in scope. Admission is still serialized by the vendor rate limiter.
	sieParallelism = 3
)

// resourceFor maps canonical entity types onto the data-plane resources the
// engine pulls them from. Types without a mapping are not syncable.
var resourceFor = map[core.EntityType]core.ResourceType{
	core.EntityInvoice:         core.ResourceSalesInvoices,
	core.EntityInvoicePayment:  core.ResourcePayments,
	core.EntityCustomer:        core.ResourceCustomers,
	core.EntitySupplier:        core.ResourceSuppliers,
	core.EntitySupplierInvoice: core.ResourceSupplierInvoices,
	core.EntityCompanyInfo:     core.ResourceCompanyInformation,
}

// Job describes one sync run against a connection.
type Job struct {
	JobID        string
	ConnectionID string
	Provider     core.Provider
	Credentials  vendors.Credentials
	// EntityTypes narrows the run; empty means every type the vendor
	// supports.
	EntityTypes []core.EntityType
	IncludeSIE  bool
	// FiscalYears scopes the SIE leg; empty means the current year.
	FiscalYears []int
}

// Engine drives cursor-based batch pulls of vendor entities into the local
// canonical store. Entity types run sequentially to keep rate-limit pressure
// predictable; the SIE leg fans out per fiscal year.
type Engine struct {
	db      database.Adapter
	gw      *gateway.Gateway
	clients map[core.Provider]*vendors.Client
	metrics *metrics.Metrics
	logger  *log.Logger
}

// New wires a sync engine. m may be nil when metrics are not collected.
func New(db database.Adapter, gw *gateway.Gateway, clients map[core.Provider]*vendors.Client, m *metrics.Metrics) *Engine {
	return &Engine{
		db:      db,
		gw:      gw,
		clients: clients,
		metrics: m,
		logger:  log.New(log.Writer(), "[SYNC] ", log.LstdFlags),
	}
}

// SupportsSIE reports whether the vendor exposes a binary SIE export.
func SupportsSIE(provider core.Provider) bool {
	return provider == core.ProviderFortnox
}

func sieExportPath(fiscalYear int) string {
	return fmt.Sprintf("/sie/4?financialyear=%d", fiscalYear)
}

// Execute runs the job to completion. Per-type failures are captured into the
// progress record and do not abort other types; the job itself fails only
// when every entity type failed.
func (e *Engine) Execute(ctx context.Context, job Job) (*core.SyncProgress, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	started := time.Now().UTC()
	progress := &core.SyncProgress{
		JobID:        job.JobID,
		ConnectionID: job.ConnectionID,
		Provider:     job.Provider,
		Status:       core.SyncRunning,
		StartedAt:    started,
	}
	if err := e.db.UpsertSyncProgress(ctx, progress); err != nil {
		return nil, fmt.Errorf("record sync start: %w", err)
	}
	if e.metrics != nil {
		e.metrics.SetSyncRunning(string(job.Provider), true)
		defer e.metrics.SetSyncRunning(string(job.Provider), false)
	}

	types := e.effectiveTypes(job)
	includeSIE := job.IncludeSIE && SupportsSIE(job.Provider)
	steps := len(types)
	if includeSIE {
		steps++
	}
	if steps == 0 {
		steps = 1
	}

	for i, entityType := range types {
		result := e.syncEntityType(ctx, job, entityType)
		progress.EntityResults = append(progress.EntityResults, result)
		progress.Progress = (i + 1) * 100 / steps
		if err := e.db.UpsertSyncProgress(ctx, progress); err != nil {
			e.logger.Printf("job %s: persist progress: %v", job.JobID, err)
		}
	}

	if includeSIE {
		progress.SIEResult = e.syncSIE(ctx, job)
	}

	failed := len(progress.EntityResults) > 0
	for _, r := range progress.EntityResults {
		if r.Success {
			failed = false
			break
		}
	}
	progress.Status = core.SyncCompleted
	if failed {
		progress.Status = core.SyncFailed
	}
	progress.Progress = 100
	done := time.Now().UTC()
	progress.CompletedAt = &done
	progress.DurationMs = done.Sub(started).Milliseconds()
	if err := e.db.UpsertSyncProgress(ctx, progress); err != nil {
		return nil, fmt.Errorf("record sync completion: %w", err)
	}

	if progress.Status == core.SyncCompleted {
		e.touchConnection(ctx, job.ConnectionID, done)
	}
	if e.metrics != nil {
		e.metrics.RecordSyncRun(string(job.Provider), failed, done.Sub(started).Seconds())
	}
	e.logger.Printf("job %s: %s in %dms (%d entity types)",
		job.JobID, progress.Status, progress.DurationMs, len(types))
	return progress, nil
}

// effectiveTypes intersects the requested types with what the vendor's
// registry actually maps.
func (e *Engine) effectiveTypes(job Job) []core.EntityType {
	supported := make(map[core.ResourceType]bool)
	for _, r := range e.gw.Capabilities(job.Provider) {
		supported[r] = true
	}
	requested := job.EntityTypes
	if len(requested) == 0 {
		requested = core.AllEntityTypes
	}
	var out []core.EntityType
	for _, et := range requested {
		if resource, ok := resourceFor[et]; ok && supported[resource] {
			out = append(out, et)
		}
	}
	return out
}

func (e *Engine) syncEntityType(ctx context.Context, job Job, entityType core.EntityType) core.EntitySyncResult {
	result := core.EntitySyncResult{EntityType: entityType}

	state, err := e.db.GetSyncState(ctx, job.ConnectionID, entityType)
	if err != nil {
		result.Error = fmt.Sprintf("load sync state: %v", err)
		return result
	}
	var cursor *time.Time
	if state != nil {
		cursor = state.LastModifiedCursor
	}

	records, maxModified, err := e.fetchAll(ctx, job, entityType, cursor)
	if err != nil {
		result.Error = err.Error()
		e.logger.Printf("job %s: %s/%s fetch failed: %v", job.JobID, job.Provider, entityType, err)
		e.recordStateError(ctx, job.ConnectionID, entityType, err)
		return result
	}
	result.Fetched = len(records)

	upsert, err := e.db.UpsertEntities(ctx, job.ConnectionID, entityType, records)
	if err != nil {
		result.Error = fmt.Sprintf("upsert entities: %v", err)
		e.recordStateError(ctx, job.ConnectionID, entityType, err)
		return result
	}
	result.Inserted = upsert.Inserted
	result.Updated = upsert.Updated
	result.Unchanged = upsert.Unchanged
	result.Success = true

	newCursor := cursor
	if maxModified != nil && (newCursor == nil || maxModified.After(*newCursor)) {
		newCursor = maxModified
	}
	now := time.Now().UTC()
	if err := e.db.UpdateSyncState(ctx, &core.SyncState{
		ConnectionID:       job.ConnectionID,
		EntityType:         entityType,
		LastSyncAt:         &now,
		LastModifiedCursor: newCursor,
		TotalInserted:      int64(upsert.Inserted),
		TotalUpdated:       int64(upsert.Updated),
		TotalUnchanged:     int64(upsert.Unchanged),
	}); err != nil {
		e.logger.Printf("job %s: persist sync state for %s: %v", job.JobID, entityType, err)
	}

	if e.metrics != nil {
		e.metrics.RecordSyncEntities(string(job.Provider), string(entityType),
			upsert.Inserted, upsert.Updated, upsert.Unchanged)
	}
	return result
}

func (e *Engine) recordStateError(ctx context.Context, connectionID string, entityType core.EntityType, cause error) {
	if err := e.db.UpdateSyncState(ctx, &core.SyncState{
		ConnectionID: connectionID,
		EntityType:   entityType,
		LastError:    cause.Error(),
	}); err != nil {
		e.logger.Printf("persist sync error for %s/%s: %v", connectionID, entityType, err)
	}
}

// fetchAll pages through the vendor listing and converts every DTO into a
// canonical record. Returns the max last-modified stamp seen for cursor
// advancement.
func (e *Engine) fetchAll(ctx context.Context, job Job, entityType core.EntityType, cursor *time.Time) ([]*core.EntityRecord, *time.Time, error) {
	resource := resourceFor[entityType]
	var records []*core.EntityRecord
	var maxModified *time.Time

	for page := 1; page <= maxSyncPages; page++ {
		resp, err := e.gw.List(ctx, job.Provider, job.Credentials, resource, gateway.ListOptions{
			Page:          page,
			PageSize:      syncPageSize,
			ModifiedSince: cursor,
		})
		if err != nil {
			return nil, nil, err
		}
		for _, dto := range resp.Data {
			rec := recordFrom(job.ConnectionID, job.Provider, entityType, dto)
			if rec == nil {
				continue
			}
			records = append(records, rec)
			if rec.LastModified != nil && (maxModified == nil || rec.LastModified.After(*maxModified)) {
				maxModified = rec.LastModified
			}
		}
		if !resp.HasMore || len(resp.Data) == 0 {
			break
		}
	}
	return records, maxModified, nil
}

func (e *Engine) syncSIE(ctx context.Context, job Job) *core.SIESyncResult {
	client, ok := e.clients[job.Provider]
	if !ok {
		return &core.SIESyncResult{Error: "vendor not configured"}
	}
	years := job.FiscalYears
	if len(years) == 0 {
		years = []int{time.Now().Year()}
	}

	var mu sync.Mutex
	stored := 0
	var firstErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sieParallelism)
	for _, year := range years {
		year := year
		g.Go(func() error {
			if err := e.fetchAndStoreSIE(gctx, client, job, year); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("fiscal year %d: %w", year, err)
				}
				mu.Unlock()
				// SIE failures aggregate into the result, never abort.
				return nil
			}
			mu.Lock()
			stored++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	result := &core.SIESyncResult{Success: firstErr == nil, FilesStored: stored}
	if firstErr != nil {
		result.Error = firstErr.Error()
		e.logger.Printf("job %s: SIE leg: %v", job.JobID, firstErr)
	}
	return result
}

func (e *Engine) fetchAndStoreSIE(ctx context.Context, client *vendors.Client, job Job, year int) error {
	raw, err := client.GetBinary(ctx, job.Credentials, sieExportPath(year))
	if err != nil {
		return err
	}
	text, err := sie.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	doc, err := sie.Parse(text)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if v := sie.ValidateBalances(doc); len(v.Errors) > 0 {
		return fmt.Errorf("validation: %s", v.Errors[0].Message)
	}
	rec := &database.SIERecord{
		UploadID:     uuid.NewString(),
		ConnectionID: job.ConnectionID,
		FiscalYear:   year,
		SIEType:      doc.Metadata.SIEType,
		CompanyName:  doc.Metadata.CompanyName,
		OrgNumber:    doc.Metadata.OrgNumber,
		Document:     doc,
		KPIs:         sie.ComputeKPIs(doc),
		RawContent:   text,
		UploadedAt:   time.Now().UTC(),
	}
	if err := e.db.StoreSIEData(ctx, rec); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RecordSIEUpload(true)
	}
	return nil
}

func (e *Engine) touchConnection(ctx context.Context, connectionID string, at time.Time) {
	conn, err := e.db.GetConnection(ctx, connectionID)
	if err != nil || conn == nil {
		return
	}
	conn.LastSyncAt = &at
	if err := e.db.UpsertConnection(ctx, conn); err != nil {
		e.logger.Printf("update connection %s last sync: %v", connectionID, err)
	}
}
