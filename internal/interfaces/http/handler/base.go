package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/domain/ledger"
	"github.com/cmp/backend/internal/domain/shared"
	"github.com/cmp/backend/internal/interfaces/http/dto"
)

// ActorHeader names the header callers identify themselves with. Agents
// send "AI:<role>", humans "Human:<address>".
const ActorHeader = "X-Actor"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return c.GetHeader("X-Request-ID")
}

// getActor extracts the acting identity from the request
func getActor(c *gin.Context) string {
	return c.GetHeader(ActorHeader)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with cursor meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, meta *dto.Meta) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, meta))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// HandleError maps domain and connector errors to HTTP responses. Typed
// connector failures carry their own code; everything unrecognized is an
// internal error.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, shared.ErrUnknownConnector):
		h.ErrorWithCode(c, dto.ErrCodeUnknownConnector, err.Error())
		return
	case errors.Is(err, shared.ErrUnknownOperation):
		h.ErrorWithCode(c, dto.ErrCodeUnknownOperation, err.Error())
		return
	case errors.Is(err, shared.ErrNotFound):
		h.ErrorWithCode(c, dto.ErrCodeNotFound, err.Error())
		return
	case errors.Is(err, shared.ErrInvalidInput):
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, err.Error())
		return
	}

	var rateErr *integration.RateLimitError
	if errors.As(err, &rateErr) {
		h.ErrorWithCode(c, dto.ErrCodeRateLimited, rateErr.Error())
		return
	}
	var authErr *integration.AuthError
	if errors.As(err, &authErr) {
		h.ErrorWithCode(c, dto.ErrCodeConnectorAuth, authErr.Error())
		return
	}
	var permErr *integration.PermanentError
	if errors.As(err, &permErr) {
		h.ErrorWithCode(c, dto.ErrCodeUpstreamRejected, permErr.Error())
		return
	}
	var transientErr *integration.TransientError
	if errors.As(err, &transientErr) {
		h.ErrorWithCode(c, dto.ErrCodeUpstreamUnavailable, transientErr.Error())
		return
	}
	var persistErr *ledger.PersistenceError
	if errors.As(err, &persistErr) {
		h.ErrorWithCode(c, dto.ErrCodeAuditWrite, persistErr.Error())
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.ErrorWithCode(c, domainErr.Code, domainErr.Message)
		return
	}

	h.InternalError(c, "An unexpected error occurred")
}
