package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nordledger/gateway/internal/consent"
	"github.com/nordledger/gateway/internal/core"
)

func providerVar(r *http.Request) (core.Provider, bool) {
	p := core.Provider(mux.Vars(r)["provider"])
	return p, p.Valid()
}

func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerVar(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	u, err := s.oauth.AuthURL(provider, r.URL.Query().Get("state"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleAuthExchange(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerVar(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	var in struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	bundle, err := s.oauth.Exchange(r.Context(), provider, in.Code)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken":  bundle.AccessToken,
		"refreshToken": bundle.RefreshToken,
		"expiresAt":    bundle.ExpiresAt,
		"scopes":       bundle.Scopes,
	})
}

// handleAuthCallback completes the redirect flow: exchange the code, persist
// the tokens for the consent and move it to Accepted.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerVar(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	var in struct {
		Code      string `json:"code"`
		ConsentID string `json:"consentId"`
		CompanyID string `json:"companyId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Code == "" || in.ConsentID == "" {
		writeError(w, http.StatusBadRequest, "code and consentId are required")
		return
	}

	c, err := s.consents.Get(r.Context(), tenant(r), in.ConsentID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	bundle, err := s.oauth.Exchange(r.Context(), provider, in.Code)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if err := s.vault.Store(r.Context(), &core.ConsentTokens{
		ConsentID:      c.ID,
		Provider:       provider,
		AccessToken:    bundle.AccessToken,
		RefreshToken:   bundle.RefreshToken,
		TokenExpiresAt: bundle.ExpiresAt,
		CompanyID:      in.CompanyID,
		Scopes:         bundle.Scopes,
	}); err != nil {
		writeMappedError(w, err)
		return
	}

	accepted := core.ConsentAccepted
	updated, err := s.consents.Patch(r.Context(), tenant(r), c.ID, "", consent.PatchInput{Status: &accepted})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("ETag", updated.ETag)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerVar(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	var in struct {
		ConsentID string `json:"consentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ConsentID == "" {
		writeError(w, http.StatusBadRequest, "consentId is required")
		return
	}
	if _, err := s.consents.Get(r.Context(), tenant(r), in.ConsentID); err != nil {
		writeMappedError(w, err)
		return
	}

	tokens, err := s.vault.Load(r.Context(), in.ConsentID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if tokens == nil {
		writeError(w, http.StatusNotFound, "no tokens stored for consent")
		return
	}
	renewed, err := s.oauth.Refresh(r.Context(), provider, tokens)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordTokenRefresh(string(provider), err)
		}
		writeMappedError(w, err)
		return
	}
	if renewed != tokens {
		if err := s.vault.Store(r.Context(), renewed); err != nil {
			writeMappedError(w, err)
			return
		}
	}
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(string(provider), nil)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// handleAuthRevoke revokes at the vendor best effort and always transitions
// the consent to Revoked, dropping stored tokens.
func (s *Server) handleAuthRevoke(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerVar(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	var in struct {
		ConsentID string `json:"consentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ConsentID == "" {
		writeError(w, http.StatusBadRequest, "consentId is required")
		return
	}

	if tokens, err := s.vault.Load(r.Context(), in.ConsentID); err == nil && tokens != nil {
		if err := s.oauth.Revoke(r.Context(), provider, tokens); err != nil {
			s.logger.Printf("vendor revoke for consent %s: %v", in.ConsentID, err)
		}
	}
	revoked, err := s.consents.Revoke(r.Context(), tenant(r), in.ConsentID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("ETag", revoked.ETag)
	writeJSON(w, http.StatusOK, revoked)
}
