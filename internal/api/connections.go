package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/database"
	syncengine "github.com/nordledger/gateway/internal/sync"
	"github.com/nordledger/gateway/internal/vendors"
)

func (s *Server) handleConnectionUpsert(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ConnectionID       string                 `json:"connectionId"`
		Provider           core.Provider          `json:"provider"`
		DisplayName        string                 `json:"displayName"`
		OrganizationNumber string                 `json:"organizationNumber"`
		Metadata           map[string]interface{} `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !in.Provider.Valid() {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	if in.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "displayName is required")
		return
	}
	now := time.Now().UTC()
	conn := &core.Connection{
		ConnectionID:       in.ConnectionID,
		Provider:           in.Provider,
		DisplayName:        in.DisplayName,
		OrganizationNumber: in.OrganizationNumber,
		Metadata:           in.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if conn.ConnectionID == "" {
		conn.ConnectionID = uuid.NewString()
	}
	if err := s.db.UpsertConnection(r.Context(), conn); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleConnectionList(w http.ResponseWriter, r *http.Request) {
	provider := core.Provider(r.URL.Query().Get("provider"))
	conns, err := s.db.GetConnections(r.Context(), provider)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": conns})
}

func (s *Server) handleConnectionGet(w http.ResponseWriter, r *http.Request) {
	conn, err := s.db.GetConnection(r.Context(), mux.Vars(r)["connectionId"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleConnectionDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteConnection(r.Context(), mux.Vars(r)["connectionId"]); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleSyncStart resolves the consent's credentials, kicks the job off in the
// background and answers 202 with the job id. Progress is polled via the
// sync/{jobId} route.
func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["connectionId"]
	var in struct {
		ConsentID   string            `json:"consentId"`
		EntityTypes []core.EntityType `json:"entityTypes"`
		IncludeSIE  bool              `json:"includeSIE"`
		FiscalYears []int             `json:"fiscalYears"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ConsentID == "" {
		writeError(w, http.StatusBadRequest, "consentId is required")
		return
	}

	conn, err := s.db.GetConnection(r.Context(), connectionID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	c, err := s.consents.Get(r.Context(), tenant(r), in.ConsentID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if c.Status != core.ConsentAccepted {
		writeError(w, http.StatusForbidden, "consent is not accepted")
		return
	}
	tokens, err := s.vault.Load(r.Context(), c.ID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if tokens == nil {
		writeError(w, http.StatusUnauthorized, "no credentials stored for consent")
		return
	}

	job := syncengine.Job{
		JobID:        uuid.NewString(),
		ConnectionID: connectionID,
		Provider:     conn.Provider,
		Credentials:  vendors.Credentials{AccessToken: tokens.AccessToken, CompanyID: tokens.CompanyID},
		EntityTypes:  in.EntityTypes,
		IncludeSIE:   in.IncludeSIE,
		FiscalYears:  in.FiscalYears,
	}
	// Jobs run to completion detached from the request; the overall request
	// timeout must not cancel them.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := s.engine.Execute(ctx, job); err != nil {
			s.logger.Printf("sync job %s: %v", job.JobID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":        job.JobID,
		"connectionId": connectionID,
		"status":       string(core.SyncPending),
	})
}

func (s *Server) handleSyncProgress(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	progress, err := s.db.GetSyncProgress(r.Context(), vars["jobId"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if progress == nil || progress.ConnectionID != vars["connectionId"] {
		writeError(w, http.StatusNotFound, "sync job not found")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	history, err := s.db.GetSyncHistory(r.Context(), mux.Vars(r)["connectionId"], limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": history})
}

func (s *Server) handleEntityList(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	connectionID := vars["connectionId"]
	entityType := core.EntityType(vars["entityType"])

	q := r.URL.Query()
	query := database.EntityQuery{
		OrderBy:        q.Get("orderBy"),
		OrderDirection: q.Get("orderDirection"),
	}
	var err error
	if query.Page, err = intParam(q.Get("page"), 1); err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	if query.PageSize, err = intParam(q.Get("pageSize"), 50); err != nil {
		writeError(w, http.StatusBadRequest, "pageSize must be an integer")
		return
	}
	if query.FiscalYear, err = intParam(q.Get("fiscalYear"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "fiscalYear must be an integer")
		return
	}
	for param, dst := range map[string]**time.Time{"fromDate": &query.FromDate, "toDate": &query.ToDate} {
		if raw := q.Get(param); raw != "" {
			t, parseErr := time.Parse("2006-01-02", raw)
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, param+" must be YYYY-MM-DD")
				return
			}
			*dst = &t
		}
	}

	entities, err := s.db.GetEntities(r.Context(), connectionID, entityType, query)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	total, err := s.db.GetEntityCount(r.Context(), connectionID, entityType)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       entities,
		"page":       query.Page,
		"pageSize":   query.PageSize,
		"totalCount": total,
	})
}
