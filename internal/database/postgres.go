package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/sie"
)

// Postgres is the production Adapter backed by lib/pq. Document-shaped
// payloads (entity raw data, SIE parse output, KPI reports) live in JSONB
// columns; everything the queries filter on is a real column.
type Postgres struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgres opens a connection pool and verifies connectivity.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{
		db:     db,
		logger: log.New(log.Writer(), "[DB] ", log.LstdFlags),
	}, nil
}

// schema is applied idempotently at startup.
const schema = `
CREATE TABLE IF NOT EXISTS connections (
	connection_id       TEXT PRIMARY KEY,
	provider            TEXT NOT NULL,
	display_name        TEXT NOT NULL DEFAULT '',
	organization_number TEXT NOT NULL DEFAULT '',
	last_sync_at        TIMESTAMPTZ,
	metadata            JSONB,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entities (
	connection_id       TEXT NOT NULL REFERENCES connections(connection_id) ON DELETE CASCADE,
	entity_type         TEXT NOT NULL,
	external_id         TEXT NOT NULL,
	provider            TEXT NOT NULL,
	fiscal_year         INT NOT NULL DEFAULT 0,
	document_date       TIMESTAMPTZ,
	due_date            TIMESTAMPTZ,
	counterparty_number TEXT NOT NULL DEFAULT '',
	counterparty_name   TEXT NOT NULL DEFAULT '',
	amount              DOUBLE PRECISION,
	currency            TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT '',
	raw_data            JSONB NOT NULL,
	last_modified       TIMESTAMPTZ,
	content_hash        TEXT NOT NULL,
	PRIMARY KEY (connection_id, entity_type, external_id)
);
CREATE INDEX IF NOT EXISTS idx_entities_document_date ON entities (connection_id, entity_type, document_date);

CREATE TABLE IF NOT EXISTS sync_states (
	connection_id        TEXT NOT NULL,
	entity_type          TEXT NOT NULL,
	last_sync_at         TIMESTAMPTZ,
	last_modified_cursor TIMESTAMPTZ,
	total_inserted       BIGINT NOT NULL DEFAULT 0,
	total_updated        BIGINT NOT NULL DEFAULT 0,
	total_unchanged      BIGINT NOT NULL DEFAULT 0,
	last_error           TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (connection_id, entity_type)
);

CREATE TABLE IF NOT EXISTS sync_progress (
	job_id        TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL,
	provider      TEXT NOT NULL,
	status        TEXT NOT NULL,
	progress      INT NOT NULL DEFAULT 0,
	payload       JSONB NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sync_progress_conn ON sync_progress (connection_id, started_at DESC);

CREATE TABLE IF NOT EXISTS sie_uploads (
	upload_id     TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL,
	fiscal_year   INT NOT NULL,
	sie_type      TEXT NOT NULL,
	file_name     TEXT NOT NULL DEFAULT '',
	company_name  TEXT NOT NULL DEFAULT '',
	org_number    TEXT NOT NULL DEFAULT '',
	document      JSONB,
	kpis          JSONB,
	raw_content   TEXT NOT NULL DEFAULT '',
	uploaded_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (connection_id, fiscal_year, sie_type)
);

CREATE TABLE IF NOT EXISTS consents (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	provider     TEXT NOT NULL,
	org_number   TEXT NOT NULL DEFAULT '',
	company_name TEXT NOT NULL DEFAULT '',
	status       INT NOT NULL DEFAULT 0,
	etag         TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_consents_tenant ON consents (tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS consent_tokens (
	consent_id       TEXT PRIMARY KEY REFERENCES consents(id) ON DELETE CASCADE,
	provider         TEXT NOT NULL,
	access_token     TEXT NOT NULL,
	refresh_token    TEXT NOT NULL DEFAULT '',
	token_expires_at TIMESTAMPTZ,
	company_id       TEXT NOT NULL DEFAULT '',
	scopes           JSONB,
	encrypted_at     TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS one_time_codes (
	code       TEXT PRIMARY KEY,
	consent_id TEXT NOT NULL REFERENCES consents(id) ON DELETE CASCADE,
	expires_at TIMESTAMPTZ NOT NULL,
	used_at    TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
	key_id     TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	key_hash   TEXT NOT NULL UNIQUE,
	expires_at TIMESTAMPTZ,
	revoked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates all tables and indexes if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	p.logger.Printf("Schema ensured")
	return nil
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

func (p *Postgres) UpsertConnection(ctx context.Context, conn *core.Connection) error {
	meta, err := json.Marshal(conn.Metadata)
	if err != nil {
		return fmt.Errorf("marshal connection metadata: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO connections (connection_id, provider, display_name, organization_number, last_sync_at, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (connection_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			organization_number = EXCLUDED.organization_number,
			last_sync_at = EXCLUDED.last_sync_at,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		conn.ConnectionID, conn.Provider, conn.DisplayName, conn.OrganizationNumber,
		conn.LastSyncAt, meta, conn.CreatedAt, conn.UpdatedAt)
	return err
}

func (p *Postgres) GetConnection(ctx context.Context, id string) (*core.Connection, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT connection_id, provider, display_name, organization_number, last_sync_at, metadata, created_at, updated_at
		FROM connections WHERE connection_id = $1`, id)
	return scanConnection(row)
}

func (p *Postgres) GetConnections(ctx context.Context, provider core.Provider) ([]*core.Connection, error) {
	query := `SELECT connection_id, provider, display_name, organization_number, last_sync_at, metadata, created_at, updated_at
		FROM connections`
	args := []interface{}{}
	if provider != "" {
		query += ` WHERE provider = $1`
		args = append(args, provider)
	}
	query += ` ORDER BY connection_id`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteConnection(ctx context.Context, id string) error {
	// Entities cascade via FK; the other tables have no FK to connections.
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM sync_states WHERE connection_id = $1`,
		`DELETE FROM sync_progress WHERE connection_id = $1`,
		`DELETE FROM sie_uploads WHERE connection_id = $1`,
		`DELETE FROM connections WHERE connection_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*core.Connection, error) {
	var conn core.Connection
	var meta []byte
	err := row.Scan(&conn.ConnectionID, &conn.Provider, &conn.DisplayName, &conn.OrganizationNumber,
		&conn.LastSyncAt, &meta, &conn.CreatedAt, &conn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &conn.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal connection metadata: %w", err)
		}
	}
	return &conn, nil
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// UpsertEntities runs one transaction per batch. The WHERE clause on the
// conflict update makes unchanged rows no-ops, which the xmax trick below
// distinguishes from inserts and updates.
func (p *Postgres) UpsertEntities(ctx context.Context, connectionID string, entityType core.EntityType, entities []*core.EntityRecord) (*UpsertResult, error) {
	res := &UpsertResult{}
	if len(entities) == 0 {
		return res, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (connection_id, entity_type, external_id, provider, fiscal_year,
			document_date, due_date, counterparty_number, counterparty_name, amount,
			currency, status, raw_data, last_modified, content_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (connection_id, entity_type, external_id) DO UPDATE SET
			fiscal_year = EXCLUDED.fiscal_year,
			document_date = EXCLUDED.document_date,
			due_date = EXCLUDED.due_date,
			counterparty_number = EXCLUDED.counterparty_number,
			counterparty_name = EXCLUDED.counterparty_name,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			raw_data = EXCLUDED.raw_data,
			last_modified = EXCLUDED.last_modified,
			content_hash = EXCLUDED.content_hash
		WHERE entities.content_hash <> EXCLUDED.content_hash
		RETURNING (xmax = 0) AS inserted`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, e := range entities {
		raw, err := json.Marshal(e.RawData)
		if err != nil {
			return nil, fmt.Errorf("marshal entity %s: %w", e.ExternalID, err)
		}
		var inserted bool
		err = stmt.QueryRowContext(ctx,
			connectionID, entityType, e.ExternalID, e.Provider, e.FiscalYear,
			e.DocumentDate, e.DueDate, e.CounterpartyNumber, e.CounterpartyName, e.Amount,
			e.Currency, e.Status, raw, e.LastModified, e.ContentHash).Scan(&inserted)
		switch {
		case err == sql.ErrNoRows:
			res.Unchanged++
		case err != nil:
			return nil, err
		case inserted:
			res.Inserted++
		default:
			res.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Postgres) GetEntities(ctx context.Context, connectionID string, entityType core.EntityType, q EntityQuery) ([]*core.EntityRecord, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT connection_id, entity_type, external_id, provider, fiscal_year,
		document_date, due_date, counterparty_number, counterparty_name, amount,
		currency, status, raw_data, last_modified, content_hash
		FROM entities WHERE connection_id = $1 AND entity_type = $2`)
	args := []interface{}{connectionID, entityType}

	if q.FiscalYear != 0 {
		args = append(args, q.FiscalYear)
		fmt.Fprintf(&sb, " AND fiscal_year = $%d", len(args))
	}
	if q.FromDate != nil {
		args = append(args, *q.FromDate)
		fmt.Fprintf(&sb, " AND document_date >= $%d", len(args))
	}
	if q.ToDate != nil {
		args = append(args, *q.ToDate)
		fmt.Fprintf(&sb, " AND document_date <= $%d", len(args))
	}

	orderCol := "external_id"
	switch q.OrderBy {
	case "document_date", "due_date", "amount":
		orderCol = q.OrderBy
	}
	direction := "ASC"
	if strings.EqualFold(q.OrderDirection, "desc") {
		direction = "DESC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s NULLS LAST", orderCol, direction)

	page, size := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	args = append(args, size, (page-1)*size)
	fmt.Fprintf(&sb, " LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.EntityRecord
	for rows.Next() {
		var e core.EntityRecord
		var raw []byte
		if err := rows.Scan(&e.ConnectionID, &e.EntityType, &e.ExternalID, &e.Provider, &e.FiscalYear,
			&e.DocumentDate, &e.DueDate, &e.CounterpartyNumber, &e.CounterpartyName, &e.Amount,
			&e.Currency, &e.Status, &raw, &e.LastModified, &e.ContentHash); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.RawData); err != nil {
				return nil, fmt.Errorf("unmarshal entity %s: %w", e.ExternalID, err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *Postgres) GetEntityCount(ctx context.Context, connectionID string, entityType core.EntityType) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE connection_id = $1 AND entity_type = $2`,
		connectionID, entityType).Scan(&count)
	return count, err
}

// ---------------------------------------------------------------------------
// Sync state & progress
// ---------------------------------------------------------------------------

func (p *Postgres) GetSyncState(ctx context.Context, connectionID string, entityType core.EntityType) (*core.SyncState, error) {
	var s core.SyncState
	err := p.db.QueryRowContext(ctx, `
		SELECT connection_id, entity_type, last_sync_at, last_modified_cursor,
			total_inserted, total_updated, total_unchanged, last_error
		FROM sync_states WHERE connection_id = $1 AND entity_type = $2`,
		connectionID, entityType).Scan(
		&s.ConnectionID, &s.EntityType, &s.LastSyncAt, &s.LastModifiedCursor,
		&s.TotalInserted, &s.TotalUpdated, &s.TotalUnchanged, &s.LastError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) UpdateSyncState(ctx context.Context, state *core.SyncState) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sync_states (connection_id, entity_type, last_sync_at, last_modified_cursor,
			total_inserted, total_updated, total_unchanged, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (connection_id, entity_type) DO UPDATE SET
			last_sync_at = COALESCE(EXCLUDED.last_sync_at, sync_states.last_sync_at),
			last_modified_cursor = COALESCE(EXCLUDED.last_modified_cursor, sync_states.last_modified_cursor),
			total_inserted = sync_states.total_inserted + EXCLUDED.total_inserted,
			total_updated = sync_states.total_updated + EXCLUDED.total_updated,
			total_unchanged = sync_states.total_unchanged + EXCLUDED.total_unchanged,
			last_error = EXCLUDED.last_error`,
		state.ConnectionID, state.EntityType, state.LastSyncAt, state.LastModifiedCursor,
		state.TotalInserted, state.TotalUpdated, state.TotalUnchanged, state.LastError)
	return err
}

func (p *Postgres) UpsertSyncProgress(ctx context.Context, progress *core.SyncProgress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal sync progress: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO sync_progress (job_id, connection_id, provider, status, progress, payload, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			payload = EXCLUDED.payload,
			completed_at = EXCLUDED.completed_at`,
		progress.JobID, progress.ConnectionID, progress.Provider, progress.Status,
		progress.Progress, payload, progress.StartedAt, progress.CompletedAt)
	return err
}

func (p *Postgres) GetSyncProgress(ctx context.Context, jobID string) (*core.SyncProgress, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM sync_progress WHERE job_id = $1`, jobID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var progress core.SyncProgress
	if err := json.Unmarshal(payload, &progress); err != nil {
		return nil, fmt.Errorf("unmarshal sync progress %s: %w", jobID, err)
	}
	return &progress, nil
}

func (p *Postgres) GetSyncHistory(ctx context.Context, connectionID string, limit int) ([]*core.SyncProgress, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT payload FROM sync_progress
		WHERE connection_id = $1 ORDER BY started_at DESC LIMIT $2`,
		connectionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.SyncProgress
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var progress core.SyncProgress
		if err := json.Unmarshal(payload, &progress); err != nil {
			return nil, err
		}
		out = append(out, &progress)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// SIE
// ---------------------------------------------------------------------------

func (p *Postgres) StoreSIEData(ctx context.Context, rec *SIERecord) error {
	doc, err := json.Marshal(rec.Document)
	if err != nil {
		return fmt.Errorf("marshal sie document: %w", err)
	}
	kpis, err := json.Marshal(rec.KPIs)
	if err != nil {
		return fmt.Errorf("marshal sie kpis: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO sie_uploads (upload_id, connection_id, fiscal_year, sie_type, file_name,
			company_name, org_number, document, kpis, raw_content, uploaded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (connection_id, fiscal_year, sie_type) DO UPDATE SET
			upload_id = EXCLUDED.upload_id,
			file_name = EXCLUDED.file_name,
			company_name = EXCLUDED.company_name,
			org_number = EXCLUDED.org_number,
			document = EXCLUDED.document,
			kpis = EXCLUDED.kpis,
			raw_content = EXCLUDED.raw_content,
			uploaded_at = EXCLUDED.uploaded_at`,
		rec.UploadID, rec.ConnectionID, rec.FiscalYear, rec.SIEType, rec.FileName,
		rec.CompanyName, rec.OrgNumber, doc, kpis, rec.RawContent, rec.UploadedAt)
	return err
}

func (p *Postgres) GetSIEUploads(ctx context.Context, connectionID string) ([]*SIEUploadSummary, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT upload_id, connection_id, fiscal_year, sie_type, file_name, company_name, org_number, uploaded_at
		FROM sie_uploads WHERE connection_id = $1 ORDER BY fiscal_year DESC`, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SIEUploadSummary
	for rows.Next() {
		var s SIEUploadSummary
		if err := rows.Scan(&s.UploadID, &s.ConnectionID, &s.FiscalYear, &s.SIEType,
			&s.FileName, &s.CompanyName, &s.OrgNumber, &s.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (p *Postgres) GetSIEData(ctx context.Context, connectionID, uploadID string) (*SIERecord, error) {
	var rec SIERecord
	var doc, kpis []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT upload_id, connection_id, fiscal_year, sie_type, file_name, company_name,
			org_number, document, kpis, raw_content, uploaded_at
		FROM sie_uploads WHERE connection_id = $1 AND upload_id = $2`,
		connectionID, uploadID).Scan(
		&rec.UploadID, &rec.ConnectionID, &rec.FiscalYear, &rec.SIEType, &rec.FileName,
		&rec.CompanyName, &rec.OrgNumber, &doc, &kpis, &rec.RawContent, &rec.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(doc) > 0 && string(doc) != "null" {
		rec.Document = &sie.Document{}
		if err := json.Unmarshal(doc, rec.Document); err != nil {
			return nil, fmt.Errorf("unmarshal sie document %s: %w", uploadID, err)
		}
	}
	if len(kpis) > 0 && string(kpis) != "null" {
		rec.KPIs = &sie.KPIReport{}
		if err := json.Unmarshal(kpis, rec.KPIs); err != nil {
			return nil, fmt.Errorf("unmarshal sie kpis %s: %w", uploadID, err)
		}
	}
	return &rec, nil
}

// ---------------------------------------------------------------------------
// Consents
// ---------------------------------------------------------------------------

func (p *Postgres) UpsertConsent(ctx context.Context, c *core.Consent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO consents (id, tenant_id, name, provider, org_number, company_name,
			status, etag, created_at, updated_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			org_number = EXCLUDED.org_number,
			company_name = EXCLUDED.company_name,
			status = EXCLUDED.status,
			etag = EXCLUDED.etag,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at`,
		c.ID, c.TenantID, c.Name, c.Provider, c.OrgNumber, c.CompanyName,
		c.Status, c.ETag, c.CreatedAt, c.UpdatedAt, c.ExpiresAt)
	return err
}

func (p *Postgres) GetConsent(ctx context.Context, id string) (*core.Consent, error) {
	var c core.Consent
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, provider, org_number, company_name, status, etag,
			created_at, updated_at, expires_at
		FROM consents WHERE id = $1`, id).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Provider, &c.OrgNumber, &c.CompanyName,
		&c.Status, &c.ETag, &c.CreatedAt, &c.UpdatedAt, &c.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Postgres) GetConsents(ctx context.Context, tenantID string, f ConsentFilter) ([]*core.Consent, error) {
	query := `SELECT id, tenant_id, name, provider, org_number, company_name, status, etag,
		created_at, updated_at, expires_at FROM consents WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if f.Provider != "" {
		args = append(args, f.Provider)
		query += fmt.Sprintf(" AND provider = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Consent
	for rows.Next() {
		var c core.Consent
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Provider, &c.OrgNumber, &c.CompanyName,
			&c.Status, &c.ETag, &c.CreatedAt, &c.UpdatedAt, &c.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteConsent(ctx context.Context, id string) error {
	// Tokens and codes cascade via FK.
	_, err := p.db.ExecContext(ctx, `DELETE FROM consents WHERE id = $1`, id)
	return err
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

func (p *Postgres) StoreConsentTokens(ctx context.Context, t *core.ConsentTokens) error {
	scopes, err := json.Marshal(t.Scopes)
	if err != nil {
		return fmt.Errorf("marshal token scopes: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO consent_tokens (consent_id, provider, access_token, refresh_token,
			token_expires_at, company_id, scopes, encrypted_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (consent_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			company_id = EXCLUDED.company_id,
			scopes = EXCLUDED.scopes,
			encrypted_at = EXCLUDED.encrypted_at,
			updated_at = EXCLUDED.updated_at`,
		t.ConsentID, t.Provider, t.AccessToken, t.RefreshToken,
		t.TokenExpiresAt, t.CompanyID, scopes, t.EncryptedAt, t.UpdatedAt)
	return err
}

func (p *Postgres) GetConsentTokens(ctx context.Context, consentID string) (*core.ConsentTokens, error) {
	var t core.ConsentTokens
	var scopes []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT consent_id, provider, access_token, refresh_token, token_expires_at,
			company_id, scopes, encrypted_at, updated_at
		FROM consent_tokens WHERE consent_id = $1`, consentID).Scan(
		&t.ConsentID, &t.Provider, &t.AccessToken, &t.RefreshToken, &t.TokenExpiresAt,
		&t.CompanyID, &scopes, &t.EncryptedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(scopes) > 0 && string(scopes) != "null" {
		if err := json.Unmarshal(scopes, &t.Scopes); err != nil {
			return nil, fmt.Errorf("unmarshal token scopes: %w", err)
		}
	}
	return &t, nil
}

func (p *Postgres) DeleteConsentTokens(ctx context.Context, consentID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM consent_tokens WHERE consent_id = $1`, consentID)
	return err
}

// ---------------------------------------------------------------------------
// One-time codes
// ---------------------------------------------------------------------------

func (p *Postgres) CreateOneTimeCode(ctx context.Context, otc *core.OneTimeCode) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO one_time_codes (code, consent_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4)`,
		otc.Code, otc.ConsentID, otc.ExpiresAt, otc.CreatedAt)
	return err
}

// ValidateOneTimeCode marks and returns the code in one statement; the
// conditional UPDATE is the atomicity guarantee under concurrent callers.
func (p *Postgres) ValidateOneTimeCode(ctx context.Context, code string) (*core.OneTimeCode, error) {
	var otc core.OneTimeCode
	err := p.db.QueryRowContext(ctx, `
		UPDATE one_time_codes SET used_at = now()
		WHERE code = $1 AND used_at IS NULL AND expires_at > now()
		RETURNING code, consent_id, expires_at, used_at, created_at`, code).Scan(
		&otc.Code, &otc.ConsentID, &otc.ExpiresAt, &otc.UsedAt, &otc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &otc, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func (p *Postgres) GetAPIKeyByHash(ctx context.Context, keyHash string) (*core.APIKey, error) {
	var k core.APIKey
	err := p.db.QueryRowContext(ctx, `
		SELECT key_id, tenant_id, name, key_hash, expires_at, revoked_at, created_at
		FROM api_keys WHERE key_hash = $1`, keyHash).Scan(
		&k.KeyID, &k.TenantID, &k.Name, &k.KeyHash, &k.ExpiresAt, &k.RevokedAt, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (p *Postgres) CreateAPIKey(ctx context.Context, key *core.APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (key_id, tenant_id, name, key_hash, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		key.KeyID, key.TenantID, key.Name, key.KeyHash, key.ExpiresAt, key.CreatedAt)
	return err
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

func (p *Postgres) PurgeConsents(ctx context.Context, createdBefore, inactiveBefore time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM consents
		WHERE (status = $1 AND created_at < $2)
		   OR (status IN ($3, $4) AND updated_at < $5)`,
		core.ConsentCreated, createdBefore,
		core.ConsentRevoked, core.ConsentInactive, inactiveBefore)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *Postgres) GetTokensExpiringBefore(ctx context.Context, cutoff time.Time) ([]*core.ConsentTokens, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT consent_id, provider, access_token, refresh_token, token_expires_at,
			company_id, scopes, encrypted_at, updated_at
		FROM consent_tokens
		WHERE token_expires_at IS NOT NULL AND token_expires_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.ConsentTokens
	for rows.Next() {
		var t core.ConsentTokens
		var scopes []byte
		if err := rows.Scan(&t.ConsentID, &t.Provider, &t.AccessToken, &t.RefreshToken,
			&t.TokenExpiresAt, &t.CompanyID, &scopes, &t.EncryptedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if len(scopes) > 0 && string(scopes) != "null" {
			if err := json.Unmarshal(scopes, &t.Scopes); err != nil {
				return nil, err
			}
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *Postgres) Close() error                   { return p.db.Close() }
