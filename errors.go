package main

import (
	"encoding/json"
	"net/http"
)

// Error codes, grouped by the taxonomy the handlers use: admission blocks,
// input validation, configuration, processor failures, and everything else.
const (
	CodeBlocked          = "BLOCKED"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeDuplicate        = "DUPLICATE_REQUEST"
	CodeOriginForbidden  = "ORIGIN_FORBIDDEN"
	CodeBadContentType   = "UNSUPPORTED_MEDIA_TYPE"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeValidation       = "VALIDATION_FAILED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeProcessorFailure = "PROCESSOR_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response. Internal detail never goes
// into the message; callers pass a safe, generic description.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
	})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}
