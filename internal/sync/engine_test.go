package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/database"
	"github.com/nordledger/gateway/internal/gateway"
	"github.com/nordledger/gateway/internal/registry"
	"github.com/nordledger/gateway/internal/retry"
	"github.com/nordledger/gateway/internal/vendors"
)

func newTestEngine(t *testing.T, handler http.Handler) (*Engine, *database.Memory) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := vendors.NewClient(core.ProviderFortnox, srv.URL, vendors.Options{
		Retry: retry.Policy{MaxAttempts: 1, InitialDelay: time.Millisecond, ShouldRetry: retry.RetryableHTTP},
	})
	clients := map[core.Provider]*vendors.Client{core.ProviderFortnox: client}
	db := database.NewMemory()
	gw := gateway.New(registry.New(), clients)
	return New(db, gw, clients, nil), db
}

func fortnoxInvoicePage(invoices string, total int) string {
	return fmt.Sprintf(`{"MetaInformation":{"@TotalPages":1,"@CurrentPage":1,"@TotalResources":%d},
		"Invoices":[%s]}`, total, invoices)
}

func TestExecuteInsertsThenReportsUnchanged(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/invoices", r.URL.Path)
		w.Write([]byte(fortnoxInvoicePage(
			`{"DocumentNumber":"1","CustomerName":"Kund AB","Total":100.0,"Balance":0,"Booked":true},
			 {"DocumentNumber":"2","CustomerName":"Kund AB","Total":200.0,"Sent":true}`, 2)))
	})
	e, db := newTestEngine(t, handler)
	job := Job{
		ConnectionID: "conn-1",
		Provider:     core.ProviderFortnox,
		Credentials:  vendors.Credentials{AccessToken: "t"},
		EntityTypes:  []core.EntityType{core.EntityInvoice},
	}

	progress, err := e.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, core.SyncCompleted, progress.Status)
	assert.Equal(t, 100, progress.Progress)
	require.Len(t, progress.EntityResults, 1)
	first := progress.EntityResults[0]
	assert.True(t, first.Success)
	assert.Equal(t, 2, first.Fetched)
	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, 0, first.Unchanged)

	// Identical payloads on the second run produce no writes.
	progress2, err := e.Execute(context.Background(), job)
	require.NoError(t, err)
	second := progress2.EntityResults[0]
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 2, second.Unchanged)

	count, err := db.GetEntityCount(context.Background(), "conn-1", core.EntityInvoice)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestExecuteDetectsChangedPayload(t *testing.T) {
	amount := 100.0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fortnoxInvoicePage(
			fmt.Sprintf(`{"DocumentNumber":"1","Total":%.1f,"Sent":true}`, amount), 1)))
	})
	e, _ := newTestEngine(t, handler)
	job := Job{
		ConnectionID: "conn-1",
		Provider:     core.ProviderFortnox,
		Credentials:  vendors.Credentials{AccessToken: "t"},
		EntityTypes:  []core.EntityType{core.EntityInvoice},
	}

	_, err := e.Execute(context.Background(), job)
	require.NoError(t, err)

	amount = 150.0
	progress, err := e.Execute(context.Background(), job)
	require.NoError(t, err)
	result := progress.EntityResults[0]
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Inserted)
}

func TestExecuteOneTypeFailingDoesNotAbortOthers(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/invoices":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"message":"boom"}`))
		case "/customers":
			w.Write([]byte(`{"MetaInformation":{"@TotalPages":1,"@CurrentPage":1,"@TotalResources":1},
				"Customers":[{"CustomerNumber":"c1","Name":"Kund AB"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	e, db := newTestEngine(t, handler)
	job := Job{
		ConnectionID: "conn-1",
		Provider:     core.ProviderFortnox,
		Credentials:  vendors.Credentials{AccessToken: "t"},
		EntityTypes:  []core.EntityType{core.EntityInvoice, core.EntityCustomer},
	}

	progress, err := e.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, core.SyncCompleted, progress.Status)
	require.Len(t, progress.EntityResults, 2)
	assert.False(t, progress.EntityResults[0].Success)
	assert.NotEmpty(t, progress.EntityResults[0].Error)
	assert.True(t, progress.EntityResults[1].Success)

	// The failure lands in the per-type sync state.
	state, err := db.GetSyncState(context.Background(), "conn-1", core.EntityInvoice)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.NotEmpty(t, state.LastError)
}

func TestExecuteFailsWhenEveryTypeFails(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	e, _ := newTestEngine(t, handler)
	progress, err := e.Execute(context.Background(), Job{
		ConnectionID: "conn-1",
		Provider:     core.ProviderFortnox,
		Credentials:  vendors.Credentials{AccessToken: "t"},
		EntityTypes:  []core.EntityType{core.EntityInvoice, core.EntityCustomer},
	})
	require.NoError(t, err)
	assert.Equal(t, core.SyncFailed, progress.Status)
	assert.Equal(t, 100, progress.Progress)
}

func TestExecuteAdvancesCursorAndSendsModifiedSince(t *testing.T) {
	var seenParams []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenParams = append(seenParams, r.URL.Query().Get("lastmodified"))
		w.Write([]byte(fortnoxInvoicePage(
			`{"DocumentNumber":"1","Total":100.0,"Sent":true,"LastModified":"2024-03-10 12:00:00"}`, 1)))
	})
	e, db := newTestEngine(t, handler)
	job := Job{
		ConnectionID: "conn-1",
		Provider:     core.ProviderFortnox,
		Credentials:  vendors.Credentials{AccessToken: "t"},
		EntityTypes:  []core.EntityType{core.EntityInvoice},
	}

	_, err := e.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Empty(t, seenParams[0])

	state, err := db.GetSyncState(context.Background(), "conn-1", core.EntityInvoice)
	require.NoError(t, err)
	require.NotNil(t, state.LastModifiedCursor)
	assert.Equal(t, 2024, state.LastModifiedCursor.Year())

	_, err = e.Execute(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, seenParams, 2)
	assert.Equal(t, "2024-03-10 12:00", seenParams[1])
}

const sieExport = `#FLAGGA 0
#PROGRAM "Fortnox" 1.0
#SIETYP 4
#FNAMN "Export AB"
#ORGNR 5561234567
#RAR 0 20240101 20241231
#KONTO 1910 "Kassa"
#KONTO 3010 "Intäkter"
#IB 0 1910 500.00
#UB 0 1910 1500.00
#RES 0 3010 -1000.00
`

func TestExecuteSIELegStoresFiles(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/customers":
			w.Write([]byte(`{"MetaInformation":{"@TotalPages":1,"@CurrentPage":1,"@TotalResources":0},"Customers":[]}`))
		case "/sie/4":
			assert.Equal(t, "2024", r.URL.Query().Get("financialyear"))
			w.Write([]byte(sieExport))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	e, db := newTestEngine(t, handler)

	progress, err := e.Execute(context.Background(), Job{
		ConnectionID: "conn-1",
		Provider:     core.ProviderFortnox,
		Credentials:  vendors.Credentials{AccessToken: "t"},
		EntityTypes:  []core.EntityType{core.EntityCustomer},
		IncludeSIE:   true,
		FiscalYears:  []int{2024},
	})
	require.NoError(t, err)
	require.NotNil(t, progress.SIEResult)
	assert.True(t, progress.SIEResult.Success)
	assert.Equal(t, 1, progress.SIEResult.FilesStored)

	uploads, err := db.GetSIEUploads(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "Export AB", uploads[0].CompanyName)
	assert.Equal(t, 2024, uploads[0].FiscalYear)
}

func TestExecuteSIEFailureDoesNotFailJob(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/customers":
			w.Write([]byte(`{"MetaInformation":{"@TotalPages":1,"@CurrentPage":1,"@TotalResources":1},
				"Customers":[{"CustomerNumber":"c1","Name":"Kund AB"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	e, _ := newTestEngine(t, handler)

	progress, err := e.Execute(context.Background(), Job{
		ConnectionID: "conn-1",
		Provider:     core.ProviderFortnox,
		Credentials:  vendors.Credentials{AccessToken: "t"},
		EntityTypes:  []core.EntityType{core.EntityCustomer},
		IncludeSIE:   true,
		FiscalYears:  []int{2023},
	})
	require.NoError(t, err)
	assert.Equal(t, core.SyncCompleted, progress.Status)
	require.NotNil(t, progress.SIEResult)
	assert.False(t, progress.SIEResult.Success)
	assert.NotEmpty(t, progress.SIEResult.Error)
}

func TestExecuteRecordsProgressHistory(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"MetaInformation":{"@TotalPages":1,"@CurrentPage":1,"@TotalResources":0},"Customers":[]}`))
	})
	e, db := newTestEngine(t, handler)
	job := Job{
		JobID:        "job-42",
		ConnectionID: "conn-1",
		Provider:     core.ProviderFortnox,
		Credentials:  vendors.Credentials{AccessToken: "t"},
		EntityTypes:  []core.EntityType{core.EntityCustomer},
	}

	_, err := e.Execute(context.Background(), job)
	require.NoError(t, err)

	stored, err := db.GetSyncProgress(context.Background(), "job-42")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, core.SyncCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	history, err := db.GetSyncHistory(context.Background(), "conn-1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecordFromSkipsUnmappedShapes(t *testing.T) {
	assert.Nil(t, recordFrom("c", core.ProviderFortnox, core.EntityInvoice, "not-a-dto"))
	assert.Nil(t, recordFrom("c", core.ProviderFortnox, core.EntityInvoice,
		&core.SalesInvoice{ID: "1"})) // no raw payload retained
}

func TestRecordFromDerivesFiscalYearAndHash(t *testing.T) {
	raw := map[string]interface{}{"DocumentNumber": "7", "Total": 100.0}
	rec := recordFrom("c", core.ProviderFortnox, core.EntityInvoice, &core.SalesInvoice{
		ID:          "7",
		InvoiceDate: "2023-06-15",
		Total:       core.SEK(100),
		Raw:         raw,
	})
	require.NotNil(t, rec)
	assert.Equal(t, 2023, rec.FiscalYear)
	assert.Equal(t, ContentHash(raw), rec.ContentHash)
	assert.Equal(t, "SEK", rec.Currency)
}
