package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordledger/gateway/internal/core"
)

func TestUpsertEntitiesChangeDetection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	batch := []*core.EntityRecord{
		{ConnectionID: "c1", ExternalID: "inv-1", EntityType: core.EntityInvoice, ContentHash: "aaa"},
		{ConnectionID: "c1", ExternalID: "inv-2", EntityType: core.EntityInvoice, ContentHash: "bbb"},
	}
	res, err := m.UpsertEntities(ctx, "c1", core.EntityInvoice, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	// Same hashes: everything counts as unchanged, nothing rewritten.
	res, err = m.UpsertEntities(ctx, "c1", core.EntityInvoice, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 2, res.Unchanged)

	// One record changes content.
	batch[1] = &core.EntityRecord{ConnectionID: "c1", ExternalID: "inv-2", EntityType: core.EntityInvoice, ContentHash: "ccc"}
	res, err = m.UpsertEntities(ctx, "c1", core.EntityInvoice, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Unchanged)

	count, err := m.GetEntityCount(ctx, "c1", core.EntityInvoice)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGetEntitiesFilterAndPaging(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	day := func(d int) *time.Time {
		ts := time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
		return &ts
	}
	var batch []*core.EntityRecord
	for i := 1; i <= 5; i++ {
		batch = append(batch, &core.EntityRecord{
			ConnectionID: "c1",
			ExternalID:   string(rune('a' + i - 1)),
			EntityType:   core.EntityInvoice,
			FiscalYear:   2024,
			DocumentDate: day(i),
			ContentHash:  "h",
		})
	}
	_, err := m.UpsertEntities(ctx, "c1", core.EntityInvoice, batch)
	require.NoError(t, err)

	got, err := m.GetEntities(ctx, "c1", core.EntityInvoice, EntityQuery{
		Page: 1, PageSize: 2, OrderBy: "document_date", OrderDirection: "desc",
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e", got[0].ExternalID)
	assert.Equal(t, "d", got[1].ExternalID)

	from := day(3)
	got, err = m.GetEntities(ctx, "c1", core.EntityInvoice, EntityQuery{FromDate: from})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = m.GetEntities(ctx, "c1", core.EntityInvoice, EntityQuery{FiscalYear: 2023})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOneTimeCodeSingleUse(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateOneTimeCode(ctx, &core.OneTimeCode{
		Code:      "a1b2c3d4e5f60718",
		ConsentID: "consent-1",
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}))

	otc, err := m.ValidateOneTimeCode(ctx, "a1b2c3d4e5f60718")
	require.NoError(t, err)
	require.NotNil(t, otc)
	assert.Equal(t, "consent-1", otc.ConsentID)

	// Second attempt must miss.
	otc, err = m.ValidateOneTimeCode(ctx, "a1b2c3d4e5f60718")
	require.NoError(t, err)
	assert.Nil(t, otc)
}

func TestOneTimeCodeConcurrentValidation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateOneTimeCode(ctx, &core.OneTimeCode{
		Code:      "00112233445566aa",
		ConsentID: "consent-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	const workers = 20
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if otc, _ := m.ValidateOneTimeCode(ctx, "00112233445566aa"); otc != nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	assert.Equal(t, 1, winners)
}

func TestOneTimeCodeExpired(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateOneTimeCode(ctx, &core.OneTimeCode{
		Code:      "ffeeddccbbaa9988",
		ConsentID: "consent-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	otc, err := m.ValidateOneTimeCode(ctx, "ffeeddccbbaa9988")
	require.NoError(t, err)
	assert.Nil(t, otc)
}

func TestDeleteConsentCascades(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.UpsertConsent(ctx, &core.Consent{ID: "c1", TenantID: "t1"}))
	require.NoError(t, m.StoreConsentTokens(ctx, &core.ConsentTokens{ConsentID: "c1", AccessToken: "x"}))
	require.NoError(t, m.CreateOneTimeCode(ctx, &core.OneTimeCode{
		Code: "1111222233334444", ConsentID: "c1", ExpiresAt: time.Now().Add(time.Hour),
	}))

	require.NoError(t, m.DeleteConsent(ctx, "c1"))

	consent, err := m.GetConsent(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, consent)

	tokens, err := m.GetConsentTokens(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, tokens)

	otc, err := m.ValidateOneTimeCode(ctx, "1111222233334444")
	require.NoError(t, err)
	assert.Nil(t, otc)
}

func TestDeleteConnectionCascades(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.UpsertConnection(ctx, &core.Connection{ConnectionID: "conn-1", Provider: core.ProviderFortnox}))
	_, err := m.UpsertEntities(ctx, "conn-1", core.EntityCustomer, []*core.EntityRecord{
		{ConnectionID: "conn-1", ExternalID: "cust-1", EntityType: core.EntityCustomer, ContentHash: "h"},
	})
	require.NoError(t, err)
	require.NoError(t, m.UpdateSyncState(ctx, &core.SyncState{ConnectionID: "conn-1", EntityType: core.EntityCustomer}))
	require.NoError(t, m.UpsertSyncProgress(ctx, &core.SyncProgress{JobID: "job-1", ConnectionID: "conn-1"}))
	require.NoError(t, m.StoreSIEData(ctx, &SIERecord{UploadID: "up-1", ConnectionID: "conn-1", FiscalYear: 2024, SIEType: "4"}))

	require.NoError(t, m.DeleteConnection(ctx, "conn-1"))

	conn, err := m.GetConnection(ctx, "conn-1")
	require.NoError(t, err)
	assert.Nil(t, conn)

	count, err := m.GetEntityCount(ctx, "conn-1", core.EntityCustomer)
	require.NoError(t, err)
	assert.Zero(t, count)

	state, err := m.GetSyncState(ctx, "conn-1", core.EntityCustomer)
	require.NoError(t, err)
	assert.Nil(t, state)

	job, err := m.GetSyncProgress(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, job)

	uploads, err := m.GetSIEUploads(ctx, "conn-1")
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestStoreSIEDataReplacesSameScope(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.StoreSIEData(ctx, &SIERecord{UploadID: "up-1", ConnectionID: "conn-1", FiscalYear: 2024, SIEType: "4"}))
	require.NoError(t, m.StoreSIEData(ctx, &SIERecord{UploadID: "up-2", ConnectionID: "conn-1", FiscalYear: 2024, SIEType: "4"}))

	uploads, err := m.GetSIEUploads(ctx, "conn-1")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "up-2", uploads[0].UploadID)

	old, err := m.GetSIEData(ctx, "conn-1", "up-1")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestGetConsentsTenantScopedFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	accepted := core.ConsentAccepted
	require.NoError(t, m.UpsertConsent(ctx, &core.Consent{ID: "a", TenantID: "t1", Provider: core.ProviderFortnox, Status: core.ConsentAccepted}))
	require.NoError(t, m.UpsertConsent(ctx, &core.Consent{ID: "b", TenantID: "t1", Provider: core.ProviderVisma, Status: core.ConsentCreated}))
	require.NoError(t, m.UpsertConsent(ctx, &core.Consent{ID: "c", TenantID: "t2", Provider: core.ProviderFortnox, Status: core.ConsentAccepted}))

	all, err := m.GetConsents(ctx, "t1", ConsentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := m.GetConsents(ctx, "t1", ConsentFilter{Provider: core.ProviderFortnox, Status: &accepted})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestPurgeConsents(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	// Stale CREATED consent, stale REVOKED consent, and a live ACCEPTED one.
	require.NoError(t, m.UpsertConsent(ctx, &core.Consent{
		ID: "stale-created", TenantID: "t1", Status: core.ConsentCreated,
		CreatedAt: now.Add(-40 * 24 * time.Hour), UpdatedAt: now.Add(-40 * 24 * time.Hour),
	}))
	require.NoError(t, m.UpsertConsent(ctx, &core.Consent{
		ID: "stale-revoked", TenantID: "t1", Status: core.ConsentRevoked,
		CreatedAt: now.Add(-300 * 24 * time.Hour), UpdatedAt: now.Add(-200 * 24 * time.Hour),
	}))
	require.NoError(t, m.UpsertConsent(ctx, &core.Consent{
		ID: "live", TenantID: "t1", Status: core.ConsentAccepted,
		CreatedAt: now.Add(-300 * 24 * time.Hour), UpdatedAt: now,
	}))
	require.NoError(t, m.StoreConsentTokens(ctx, &core.ConsentTokens{ConsentID: "stale-revoked", AccessToken: "x"}))

	purged, err := m.PurgeConsents(ctx, now.Add(-30*24*time.Hour), now.Add(-180*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	live, err := m.GetConsent(ctx, "live")
	require.NoError(t, err)
	require.NotNil(t, live)

	tokens, err := m.GetConsentTokens(ctx, "stale-revoked")
	require.NoError(t, err)
	assert.Nil(t, tokens)
}

func TestGetTokensExpiringBefore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	soon := now.Add(10 * time.Minute)
	later := now.Add(2 * time.Hour)
	require.NoError(t, m.StoreConsentTokens(ctx, &core.ConsentTokens{ConsentID: "soon", TokenExpiresAt: &soon}))
	require.NoError(t, m.StoreConsentTokens(ctx, &core.ConsentTokens{ConsentID: "later", TokenExpiresAt: &later}))
	require.NoError(t, m.StoreConsentTokens(ctx, &core.ConsentTokens{ConsentID: "static"}))

	expiring, err := m.GetTokensExpiringBefore(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "soon", expiring[0].ConsentID)
}

func TestUpdateSyncStateAccumulates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ts := time.Now().UTC()
	require.NoError(t, m.UpdateSyncState(ctx, &core.SyncState{
		ConnectionID: "c1", EntityType: core.EntityInvoice,
		LastSyncAt: &ts, TotalInserted: 10,
	}))
	require.NoError(t, m.UpdateSyncState(ctx, &core.SyncState{
		ConnectionID: "c1", EntityType: core.EntityInvoice,
		TotalInserted: 2, TotalUpdated: 3,
	}))

	state, err := m.GetSyncState(ctx, "c1", core.EntityInvoice)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(12), state.TotalInserted)
	assert.Equal(t, int64(3), state.TotalUpdated)
	require.NotNil(t, state.LastSyncAt)
}
