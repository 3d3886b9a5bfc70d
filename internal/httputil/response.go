package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
)

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Code    apperrors.Code         `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse maps err to its status and JSON body and returns the
// status written. Errors that are not ServiceErrors are reported as an opaque
// internal error.
func WriteErrorResponse(w http.ResponseWriter, err error) int {
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = apperrors.Internal("internal server error", err)
	}
	body := ErrorBody{Code: svcErr.Code, Message: svcErr.Message, Details: svcErr.Details}
	if svcErr.Code == apperrors.CodeInternal {
		body.Message = "internal server error"
		body.Details = nil
	}
	status := apperrors.HTTPStatus(svcErr)
	WriteJSON(w, status, errorEnvelope{Error: body})
	return status
}
