package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nordledger/gateway/internal/consent"
	"github.com/nordledger/gateway/internal/database"
	"github.com/nordledger/gateway/internal/gateway"
	"github.com/nordledger/gateway/internal/oauth"
	"github.com/nordledger/gateway/internal/vendors"
)

// errorBody is the canonical error envelope shared with the middleware chain.
type errorBody struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

const maxDetailBody = 500

// writeMappedError translates service sentinels and vendor failures into the
// HTTP taxonomy. Vendor-upstream failures surface as 502 with the vendor's
// status and a truncated body as details.
func writeMappedError(w http.ResponseWriter, err error) {
	var vendorErr *vendors.Error
	switch {
	case errors.Is(err, consent.ErrNotFound), errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, consent.ErrETagMismatch):
		writeError(w, http.StatusPreconditionFailed, "etag mismatch")
	case errors.Is(err, consent.ErrInvalidCode):
		writeError(w, http.StatusUnauthorized, "invalid or used one-time code")
	case errors.Is(err, consent.ErrConsentMismatch), errors.Is(err, consent.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrNotSupported):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrVendorNotConfigured), errors.Is(err, oauth.ErrNotConfigured):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, oauth.ErrNoAuthURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &vendorErr):
		body := vendorErr.Body
		if len(body) > maxDetailBody {
			body = body[:maxDetailBody]
		}
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error: "vendor request failed",
			Details: map[string]interface{}{
				"provider":   vendorErr.Provider,
				"statusCode": vendorErr.StatusCode,
				"body":       body,
			},
		})
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
