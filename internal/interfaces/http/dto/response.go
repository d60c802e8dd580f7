package dto

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Data    any `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo carries the stable error code and a human-readable message.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Meta carries cursor information for list responses. NextSequence is the
// sequence to resume from on the next page; it is omitted when the scan
// is exhausted.
type Meta struct {
	Count        int     `json:"count"`
	NextSequence *uint64 `json:"next_sequence,omitempty"`
}

// NewSuccessResponse wraps data in the success envelope.
func NewSuccessResponse(data any) Response {
	return Response{Success: true, Data: data}
}

// NewSuccessResponseWithMeta wraps data and cursor meta in the success
// envelope.
func NewSuccessResponseWithMeta(data any, meta *Meta) Response {
	return Response{Success: true, Data: data, Meta: meta}
}

// NewErrorResponse builds the error envelope.
func NewErrorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	}
}

// NewErrorResponseWithRequestID creates an error response carrying the
// request ID for correlation
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	}
}
