package dto

import "net/http"

// Generic error codes emitted by the HTTP layer itself
const (
	ErrCodeInternal   = "INTERNAL_ERROR"
	ErrCodeBadRequest = "BAD_REQUEST"
)

// errorCodeHTTPStatus maps the engine's error taxonomy to HTTP statuses.
// Gateway outages surface as 502 so clients and monitors can tell "our
// bug" from "provider down".
var errorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:   http.StatusInternalServerError,
	ErrCodeBadRequest: http.StatusBadRequest,

	// Shared taxonomy
	"NOT_FOUND":            http.StatusNotFound,
	"ALREADY_EXISTS":       http.StatusConflict,
	"INVALID_INPUT":        http.StatusBadRequest,
	"CONCURRENCY_CONFLICT": http.StatusConflict,
	"INVALID_STATE":        http.StatusUnprocessableEntity,
	"PERSISTENCE_FAILURE":  http.StatusInternalServerError,

	// Billing taxonomy
	"SIGNATURE_INVALID":      http.StatusUnauthorized,
	"INVALID_TRANSITION":     http.StatusUnprocessableEntity,
	"GATEWAY_UNAVAILABLE":    http.StatusBadGateway,
	"GATEWAY_REQUEST_FAILED": http.StatusBadGateway,
	"TRANSACTION_NOT_FOUND":  http.StatusNotFound,
	"SUBSCRIPTION_NOT_FOUND": http.StatusNotFound,
	"INVALID_AMOUNT":         http.StatusUnprocessableEntity,
	"PLAN_NOT_FOUND":         http.StatusNotFound,
	"RECOVERY_WINDOW_CLOSED": http.StatusUnprocessableEntity,
	"INVALID_USER":           http.StatusBadRequest,
	"INVALID_REFERENCE":      http.StatusBadRequest,
	"INVALID_PLAN":           http.StatusUnprocessableEntity,
	"QUOTA_EXCEEDED":         http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status for an error code, 500 for codes
// the map does not know
func GetHTTPStatus(code string) int {
	if status, ok := errorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
