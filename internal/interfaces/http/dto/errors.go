package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeUnknownConnector is used when no connector serves the requested ID
	ErrCodeUnknownConnector = "ERR_UNKNOWN_CONNECTOR"
	// ErrCodeUnknownOperation is used when the connector does not serve the operation
	ErrCodeUnknownOperation = "ERR_UNKNOWN_OPERATION"
)

// Connector error codes
const (
	// ErrCodeRateLimited is used when the connector's admission window timed out
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
	// ErrCodeConnectorAuth is used when usable credentials could not be obtained
	ErrCodeConnectorAuth = "ERR_CONNECTOR_AUTH"
	// ErrCodeUpstreamRejected is used when the external system rejected the request
	ErrCodeUpstreamRejected = "ERR_UPSTREAM_REJECTED"
	// ErrCodeUpstreamUnavailable is used when the external system stayed unreachable
	ErrCodeUpstreamUnavailable = "ERR_UPSTREAM_UNAVAILABLE"
)

// Audit error codes
const (
	// ErrCodeAuditWrite is used when the ledger append did not reach durable storage
	ErrCodeAuditWrite = "ERR_AUDIT_WRITE"
	// ErrCodeTamperDetected is used when chain verification found a divergence
	ErrCodeTamperDetected = "ERR_TAMPER_DETECTED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,

	ErrCodeNotFound:         http.StatusNotFound,
	ErrCodeUnknownConnector: http.StatusNotFound,
	ErrCodeUnknownOperation: http.StatusNotFound,

	ErrCodeRateLimited:         http.StatusTooManyRequests,
	ErrCodeConnectorAuth:       http.StatusBadGateway,
	ErrCodeUpstreamRejected:    http.StatusUnprocessableEntity,
	ErrCodeUpstreamUnavailable: http.StatusBadGateway,

	ErrCodeAuditWrite:     http.StatusInternalServerError,
	ErrCodeTamperDetected: http.StatusConflict,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
