package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nordledger/gateway/internal/core"
)

// Memory is the in-process Adapter used by the test suite and for local
// development without a database. All maps are guarded by one RWMutex; the
// batch upsert and the OTC check-and-mark are atomic under the write lock.
type Memory struct {
	mu sync.RWMutex

	connections map[string]*core.Connection
	entities    map[string]map[string]*core.EntityRecord // connID:type -> externalID -> record
	syncStates  map[string]*core.SyncState               // connID:type
	progress    map[string]*core.SyncProgress            // jobID
	sieRecords  map[string]*SIERecord                    // uploadID
	consents    map[string]*core.Consent
	tokens      map[string]*core.ConsentTokens // consentID
	otcs        map[string]*core.OneTimeCode   // code
	apiKeys     map[string]*core.APIKey        // keyHash
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{
		connections: make(map[string]*core.Connection),
		entities:    make(map[string]map[string]*core.EntityRecord),
		syncStates:  make(map[string]*core.SyncState),
		progress:    make(map[string]*core.SyncProgress),
		sieRecords:  make(map[string]*SIERecord),
		consents:    make(map[string]*core.Consent),
		tokens:      make(map[string]*core.ConsentTokens),
		otcs:        make(map[string]*core.OneTimeCode),
		apiKeys:     make(map[string]*core.APIKey),
	}
}

func entityKey(connectionID string, entityType core.EntityType) string {
	return connectionID + ":" + string(entityType)
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

func (m *Memory) UpsertConnection(_ context.Context, conn *core.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *conn
	m.connections[conn.ConnectionID] = &cp
	return nil
}

func (m *Memory) GetConnection(_ context.Context, id string) (*core.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.connections[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) GetConnections(_ context.Context, provider core.Provider) ([]*core.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Connection
	for _, c := range m.connections {
		if provider != "" && c.Provider != provider {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out, nil
}

// DeleteConnection cascades to entities, sync state, progress and SIE data.
func (m *Memory) DeleteConnection(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, id)
	for key := range m.entities {
		if strings.HasPrefix(key, id+":") {
			delete(m.entities, key)
		}
	}
	for key := range m.syncStates {
		if strings.HasPrefix(key, id+":") {
			delete(m.syncStates, key)
		}
	}
	for jobID, p := range m.progress {
		if p.ConnectionID == id {
			delete(m.progress, jobID)
		}
	}
	for uploadID, rec := range m.sieRecords {
		if rec.ConnectionID == id {
			delete(m.sieRecords, uploadID)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// UpsertEntities applies hash-based change detection per record: insert when
// absent, skip when the content hash matches, update otherwise.
func (m *Memory) UpsertEntities(_ context.Context, connectionID string, entityType core.EntityType, entities []*core.EntityRecord) (*UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey(connectionID, entityType)
	bucket, ok := m.entities[key]
	if !ok {
		bucket = make(map[string]*core.EntityRecord)
		m.entities[key] = bucket
	}

	res := &UpsertResult{}
	for _, e := range entities {
		existing, found := bucket[e.ExternalID]
		switch {
		case !found:
			cp := *e
			bucket[e.ExternalID] = &cp
			res.Inserted++
		case existing.ContentHash == e.ContentHash:
			res.Unchanged++
		default:
			cp := *e
			bucket[e.ExternalID] = &cp
			res.Updated++
		}
	}
	return res, nil
}

func (m *Memory) GetEntities(_ context.Context, connectionID string, entityType core.EntityType, q EntityQuery) ([]*core.EntityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket := m.entities[entityKey(connectionID, entityType)]
	var out []*core.EntityRecord
	for _, e := range bucket {
		if q.FiscalYear != 0 && e.FiscalYear != q.FiscalYear {
			continue
		}
		if q.FromDate != nil && (e.DocumentDate == nil || e.DocumentDate.Before(*q.FromDate)) {
			continue
		}
		if q.ToDate != nil && (e.DocumentDate == nil || e.DocumentDate.After(*q.ToDate)) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	sortEntities(out, q.OrderBy, q.OrderDirection)

	page, size := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	start := (page - 1) * size
	if start >= len(out) {
		return nil, nil
	}
	end := start + size
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func sortEntities(out []*core.EntityRecord, orderBy, direction string) {
	less := func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID }
	switch orderBy {
	case "document_date":
		less = func(i, j int) bool {
			return timePtrBefore(out[i].DocumentDate, out[j].DocumentDate)
		}
	case "due_date":
		less = func(i, j int) bool {
			return timePtrBefore(out[i].DueDate, out[j].DueDate)
		}
	case "amount":
		less = func(i, j int) bool {
			return floatPtr(out[i].Amount) < floatPtr(out[j].Amount)
		}
	}
	if strings.EqualFold(direction, "desc") {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(out, less)
}

func timePtrBefore(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

func floatPtr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func (m *Memory) GetEntityCount(_ context.Context, connectionID string, entityType core.EntityType) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities[entityKey(connectionID, entityType)]), nil
}

// ---------------------------------------------------------------------------
// Sync state & progress
// ---------------------------------------------------------------------------

func (m *Memory) GetSyncState(_ context.Context, connectionID string, entityType core.EntityType) (*core.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.syncStates[entityKey(connectionID, entityType)]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

// UpdateSyncState merges non-zero fields into the stored row.
func (m *Memory) UpdateSyncState(_ context.Context, state *core.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entityKey(state.ConnectionID, state.EntityType)
	existing, ok := m.syncStates[key]
	if !ok {
		cp := *state
		m.syncStates[key] = &cp
		return nil
	}
	if state.LastSyncAt != nil {
		existing.LastSyncAt = state.LastSyncAt
	}
	if state.LastModifiedCursor != nil {
		existing.LastModifiedCursor = state.LastModifiedCursor
	}
	existing.TotalInserted += state.TotalInserted
	existing.TotalUpdated += state.TotalUpdated
	existing.TotalUnchanged += state.TotalUnchanged
	existing.LastError = state.LastError
	return nil
}

func (m *Memory) UpsertSyncProgress(_ context.Context, progress *core.SyncProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *progress
	cp.EntityResults = append([]core.EntitySyncResult(nil), progress.EntityResults...)
	m.progress[progress.JobID] = &cp
	return nil
}

func (m *Memory) GetSyncProgress(_ context.Context, jobID string) (*core.SyncProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.progress[jobID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) GetSyncHistory(_ context.Context, connectionID string, limit int) ([]*core.SyncProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.SyncProgress
	for _, p := range m.progress {
		if p.ConnectionID == connectionID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// SIE
// ---------------------------------------------------------------------------

// StoreSIEData overwrites any prior record with the same
// (connection, fiscalYear, sieType) scope.
func (m *Memory) StoreSIEData(_ context.Context, rec *SIERecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, old := range m.sieRecords {
		if old.ConnectionID == rec.ConnectionID && old.FiscalYear == rec.FiscalYear && old.SIEType == rec.SIEType {
			delete(m.sieRecords, id)
		}
	}
	cp := *rec
	m.sieRecords[rec.UploadID] = &cp
	return nil
}

func (m *Memory) GetSIEUploads(_ context.Context, connectionID string) ([]*SIEUploadSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*SIEUploadSummary
	for _, rec := range m.sieRecords {
		if rec.ConnectionID != connectionID {
			continue
		}
		out = append(out, &SIEUploadSummary{
			UploadID:     rec.UploadID,
			ConnectionID: rec.ConnectionID,
			FiscalYear:   rec.FiscalYear,
			SIEType:      rec.SIEType,
			FileName:     rec.FileName,
			CompanyName:  rec.CompanyName,
			OrgNumber:    rec.OrgNumber,
			UploadedAt:   rec.UploadedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiscalYear > out[j].FiscalYear })
	return out, nil
}

func (m *Memory) GetSIEData(_ context.Context, connectionID, uploadID string) (*SIERecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sieRecords[uploadID]
	if !ok || rec.ConnectionID != connectionID {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// ---------------------------------------------------------------------------
// Consents
// ---------------------------------------------------------------------------

func (m *Memory) UpsertConsent(_ context.Context, consent *core.Consent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *consent
	m.consents[consent.ID] = &cp
	return nil
}

func (m *Memory) GetConsent(_ context.Context, id string) (*core.Consent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.consents[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) GetConsents(_ context.Context, tenantID string, f ConsentFilter) ([]*core.Consent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Consent
	for _, c := range m.consents {
		if c.TenantID != tenantID {
			continue
		}
		if f.Provider != "" && c.Provider != f.Provider {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteConsent cascades to tokens and one-time codes.
func (m *Memory) DeleteConsent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.consents, id)
	delete(m.tokens, id)
	for code, otc := range m.otcs {
		if otc.ConsentID == id {
			delete(m.otcs, code)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

func (m *Memory) StoreConsentTokens(_ context.Context, tokens *core.ConsentTokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tokens
	m.tokens[tokens.ConsentID] = &cp
	return nil
}

func (m *Memory) GetConsentTokens(_ context.Context, consentID string) (*core.ConsentTokens, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tokens[consentID]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) DeleteConsentTokens(_ context.Context, consentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, consentID)
	return nil
}

// ---------------------------------------------------------------------------
// One-time codes
// ---------------------------------------------------------------------------

func (m *Memory) CreateOneTimeCode(_ context.Context, otc *core.OneTimeCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *otc
	m.otcs[otc.Code] = &cp
	return nil
}

// ValidateOneTimeCode performs the atomic check-and-mark under the write
// lock: a code validates at most once.
func (m *Memory) ValidateOneTimeCode(_ context.Context, code string) (*core.OneTimeCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	otc, ok := m.otcs[code]
	if !ok {
		return nil, nil
	}
	now := time.Now().UTC()
	if otc.UsedAt != nil || otc.ExpiresAt.Before(now) {
		return nil, nil
	}
	otc.UsedAt = &now
	cp := *otc
	return &cp, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func (m *Memory) GetAPIKeyByHash(_ context.Context, keyHash string) (*core.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k, ok := m.apiKeys[keyHash]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) CreateAPIKey(_ context.Context, key *core.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.apiKeys[key.KeyHash] = &cp
	return nil
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

// PurgeConsents removes Created consents older than createdBefore and
// Revoked/Inactive consents older than inactiveBefore, cascading each.
func (m *Memory) PurgeConsents(_ context.Context, createdBefore, inactiveBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, c := range m.consents {
		drop := (c.Status == core.ConsentCreated && c.CreatedAt.Before(createdBefore)) ||
			((c.Status == core.ConsentRevoked || c.Status == core.ConsentInactive) && c.UpdatedAt.Before(inactiveBefore))
		if !drop {
			continue
		}
		delete(m.consents, id)
		delete(m.tokens, id)
		for code, otc := range m.otcs {
			if otc.ConsentID == id {
				delete(m.otcs, code)
			}
		}
		purged++
	}
	return purged, nil
}

func (m *Memory) GetTokensExpiringBefore(_ context.Context, cutoff time.Time) ([]*core.ConsentTokens, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.ConsentTokens
	for _, t := range m.tokens {
		if t.TokenExpiresAt != nil && t.TokenExpiresAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
