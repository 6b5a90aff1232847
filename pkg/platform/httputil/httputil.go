// Package httputil renders domain errors and JSON payloads over HTTP.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "pandi/pkg/domain-errors"
)

type errorBody struct {
	Error            string   `json:"error"`
	ErrorDescription string   `json:"error_description,omitempty"`
	Fields           []string `json:"fields,omitempty"`
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeIntegrity:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteError maps a domain error onto an HTTP status and JSON body. Internal
// errors omit the description so store details never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		body.ErrorDescription = dErrors.MessageOf(err)
		body.Fields = dErrors.FieldsOf(err)
	}
	WriteJSON(w, statusFor(code), body)
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
