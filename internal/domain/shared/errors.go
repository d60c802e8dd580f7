package shared

// DomainError represents a domain-level error with a stable code that can
// cross the HTTP boundary.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a domain error with a stable code.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Sentinel errors shared across the domain. Wrap them with %w so
// callers can match with errors.Is.
var (
	ErrNotFound         = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists    = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput     = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState     = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrUnknownConnector = NewDomainError("UNKNOWN_CONNECTOR", "No connector registered under this identifier")
	ErrUnknownOperation = NewDomainError("UNKNOWN_OPERATION", "Connector does not support this operation")
)
