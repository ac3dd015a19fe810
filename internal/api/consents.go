package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nordledger/gateway/internal/consent"
	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/middleware"
)

// tenant pulls the authenticated tenant off the context; the auth middleware
// guarantees presence on every /api/v1 route.
func tenant(r *http.Request) string {
	id, _ := middleware.TenantID(r.Context())
	return id
}

func (s *Server) handleConsentCreate(w http.ResponseWriter, r *http.Request) {
	var in consent.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c, err := s.consents.Create(r.Context(), tenant(r), in)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("ETag", c.ETag)
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleConsentList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := core.Provider(q.Get("provider"))
	if provider != "" && !provider.Valid() {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	var status *core.ConsentStatus
	if raw := q.Get("status"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "status must be an integer")
			return
		}
		st := core.ConsentStatus(n)
		status = &st
	}

	consents, err := s.consents.List(r.Context(), tenant(r), provider, status)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": consents})
}

func (s *Server) handleConsentGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.consents.Get(r.Context(), tenant(r), mux.Vars(r)["consentId"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("ETag", c.ETag)
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleConsentPatch(w http.ResponseWriter, r *http.Request) {
	var in consent.PatchInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c, err := s.consents.Patch(r.Context(), tenant(r), mux.Vars(r)["consentId"],
		r.Header.Get("If-Match"), in)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("ETag", c.ETag)
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleConsentDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.consents.Delete(r.Context(), tenant(r), mux.Vars(r)["consentId"]); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleOTCCreate(w http.ResponseWriter, r *http.Request) {
	otc, err := s.consents.CreateOTC(r.Context(), tenant(r), mux.Vars(r)["consentId"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"code":      otc.Code,
		"consentId": otc.ConsentID,
		"expiresAt": otc.ExpiresAt,
	})
}

// handleTokenExchange is the acceptance flow: the one-time code authorizes the
// caller, so this route is tenant-authenticated but not consent-scoped.
func (s *Server) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	var in consent.ExchangeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c, err := s.consents.ExchangeToken(r.Context(), in)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("ETag", c.ETag)
	writeJSON(w, http.StatusOK, c)
}

// maxUploadBytes bounds one multipart SIE upload request.
const maxUploadBytes = 64 << 20

func (s *Server) handleSIEUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	var files []consent.UploadFile
	for _, headers := range r.MultipartForm.File {
		for _, h := range headers {
			f, err := h.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable upload part")
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable upload part")
				return
			}
			files = append(files, consent.UploadFile{Name: h.Filename, Data: data})
		}
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files in upload")
		return
	}

	results, err := s.consents.SIEUpload(r.Context(), tenant(r), mux.Vars(r)["consentId"], files)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if s.metrics != nil {
		for _, res := range results {
			s.metrics.RecordSIEUpload(res.UploadID != "")
		}
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"uploads": results})
}

func (s *Server) handleSIEList(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.consents.ListSIE(r.Context(), tenant(r), mux.Vars(r)["consentId"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": uploads})
}

func (s *Server) handleSIEGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := s.consents.GetSIE(r.Context(), tenant(r), vars["consentId"], vars["uploadId"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
