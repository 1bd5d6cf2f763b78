package utils

import (
	"encoding/json"
	"net/http"
)

// Client-facing error messages. They are uniform regardless of which check
// failed internally.
const (
	MessageUnauthorized            = "Unauthorized"
	MessageInsufficientPermissions = "Insufficient permissions"
	MessageInternalServerError     = "Internal server error"
	MessageRequestCanceled         = "Request canceled"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// PermissionErrorResponse is the 403 body listing what the route requires
// and what the caller holds.
type PermissionErrorResponse struct {
	Error    string   `json:"error"`
	Required []string `json:"required"`
	Has      []string `json:"has"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with data as the body
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a 204 No Content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a 400 Bad Request response with optional field errors
func WriteBadRequest(w http.ResponseWriter, message string, fields map[string]string) error {
	if message == "" {
		message = "Bad request"
	}
	return WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:  message,
		Fields: fields,
	})
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter) error {
	return WriteJSON(w, http.StatusUnauthorized, UnauthorizedBody())
}

// WriteForbidden writes a 403 response listing required and held permissions
func WriteForbidden(w http.ResponseWriter, required, has []string) error {
	return WriteJSON(w, http.StatusForbidden, ForbiddenBody(required, has))
}

// WriteInternalServerError writes a 500 response. details must be safe to
// show a client: no tokens, key material or stack traces.
func WriteInternalServerError(w http.ResponseWriter, details string) error {
	return WriteJSON(w, http.StatusInternalServerError, InternalServerErrorBody(details))
}

// WriteBadGateway writes a 502 response for upstream failures
func WriteBadGateway(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Bad gateway"
	}
	return WriteJSON(w, http.StatusBadGateway, ErrorResponse{Error: message})
}

// WriteServiceUnavailable writes a 503 response
func WriteServiceUnavailable(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Service unavailable"
	}
	return WriteJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: message})
}

// UnauthorizedBody returns the 401 body
func UnauthorizedBody() ErrorResponse {
	return ErrorResponse{Error: MessageUnauthorized}
}

// ForbiddenBody returns the 403 body. Nil lists render as empty arrays.
func ForbiddenBody(required, has []string) PermissionErrorResponse {
	if required == nil {
		required = []string{}
	}
	if has == nil {
		has = []string{}
	}
	return PermissionErrorResponse{
		Error:    MessageInsufficientPermissions,
		Required: required,
		Has:      has,
	}
}

// RequestCanceledBody returns the body for a check abandoned by the caller
func RequestCanceledBody() ErrorResponse {
	return ErrorResponse{Error: MessageRequestCanceled}
}

// InternalServerErrorBody returns the 500 body
func InternalServerErrorBody(details string) ErrorResponse {
	return ErrorResponse{Error: MessageInternalServerError, Details: details}
}
