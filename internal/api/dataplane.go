package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/gateway"
	"github.com/nordledger/gateway/internal/middleware"
)

// scope pulls the consent and credentials the ConsentScope middleware
// resolved for this request.
func scope(r *http.Request) (*core.Consent, core.Provider) {
	c, _ := middleware.Consent(r.Context())
	return c, c.Provider
}

func listOptions(r *http.Request) (gateway.ListOptions, error) {
	q := r.URL.Query()
	opts := gateway.ListOptions{
		IncludeEntries: q.Get("includeEntries") == "true",
	}
	var err error
	if opts.Page, err = intParam(q.Get("page"), 1); err != nil {
		return opts, err
	}
	if opts.PageSize, err = intParam(q.Get("pageSize"), 50); err != nil {
		return opts, err
	}
	if opts.FiscalYear, err = intParam(q.Get("fiscalYear"), 0); err != nil {
		return opts, err
	}
	if raw := q.Get("modifiedSince"); raw != "" {
		t, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			return opts, parseErr
		}
		opts.ModifiedSince = &t
	}
	return opts, nil
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleDataList(w http.ResponseWriter, r *http.Request) {
	consent, provider := scope(r)
	creds, _ := middleware.Credentials(r.Context())
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query parameter")
		return
	}
	resource := core.ResourceType(mux.Vars(r)["resourceType"])

	resp, err := s.gw.List(r.Context(), provider, creds, resource, opts)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	s.logger.Printf("consent %s: list %s/%s page %d", consent.ID, provider, resource, resp.Page)
	writeJSON(w, http.StatusOK, gateway.StripRaw(resp))
}

func (s *Server) handleDataGet(w http.ResponseWriter, r *http.Request) {
	_, provider := scope(r)
	creds, _ := middleware.Credentials(r.Context())
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query parameter")
		return
	}
	vars := mux.Vars(r)
	resource := core.ResourceType(vars["resourceType"])

	dto, err := s.gw.Get(r.Context(), provider, creds, resource, vars["resourceId"], opts)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if dto == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, gateway.StripRaw(dto))
}

func (s *Server) handleDataCreate(w http.ResponseWriter, r *http.Request) {
	_, provider := scope(r)
	creds, _ := middleware.Credentials(r.Context())
	resource := core.ResourceType(mux.Vars(r)["resourceType"])

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	dto, err := s.gw.Create(r.Context(), provider, creds, resource, payload)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, gateway.StripRaw(dto))
}

func (s *Server) handleDataListSub(w http.ResponseWriter, r *http.Request) {
	_, provider := scope(r)
	creds, _ := middleware.Credentials(r.Context())
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query parameter")
		return
	}
	vars := mux.Vars(r)

	resp, err := s.gw.ListSub(r.Context(), provider, creds,
		core.ResourceType(vars["parentType"]), vars["parentId"],
		core.ResourceType(vars["subType"]), opts)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.StripRaw(resp))
}

func (s *Server) handleDataCreateSub(w http.ResponseWriter, r *http.Request) {
	_, provider := scope(r)
	creds, _ := middleware.Credentials(r.Context())
	vars := mux.Vars(r)

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	dto, err := s.gw.CreateSub(r.Context(), provider, creds,
		core.ResourceType(vars["parentType"]), vars["parentId"],
		core.ResourceType(vars["subType"]), payload)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, gateway.StripRaw(dto))
}
