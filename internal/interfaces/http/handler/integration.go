package handler

import (
	"github.com/gin-gonic/gin"

	integrationapp "github.com/cmp/backend/internal/application/integration"
	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/infrastructure/logger"
	"github.com/cmp/backend/internal/interfaces/http/dto"
)

// IntegrationHandler handles connector invocation HTTP requests
type IntegrationHandler struct {
	BaseHandler
	facade *integrationapp.Facade
}

// NewIntegrationHandler creates a new IntegrationHandler
func NewIntegrationHandler(facade *integrationapp.Facade) *IntegrationHandler {
	return &IntegrationHandler{facade: facade}
}

// RegisterRoutes registers integration routes
func (h *IntegrationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	connectors := rg.Group("/connectors")
	{
		connectors.GET("", h.ListConnectors)
		connectors.GET("/:connector/operations", h.ListOperations)
		connectors.POST("/:connector/operations/:operation", h.Perform)
	}
}

// ConnectorListResponse lists the registered connector IDs
type ConnectorListResponse struct {
	Connectors []string `json:"connectors"`
}

// ListConnectors godoc
// @Summary      List registered connectors
// @Tags         integration
// @Produce      json
// @Success      200 {object} APIResponse[ConnectorListResponse]
// @Router       /connectors [get]
func (h *IntegrationHandler) ListConnectors(c *gin.Context) {
	h.Success(c, ConnectorListResponse{Connectors: h.facade.Connectors()})
}

// OperationListResponse lists the operations one connector serves
type OperationListResponse struct {
	ConnectorID string   `json:"connector_id"`
	Operations  []string `json:"operations"`
}

// ListOperations godoc
// @Summary      List a connector's operations
// @Tags         integration
// @Produce      json
// @Param        connector path string true "Connector ID"
// @Success      200 {object} APIResponse[OperationListResponse]
// @Failure      404 {object} ErrorResponse
// @Router       /connectors/{connector}/operations [get]
func (h *IntegrationHandler) ListOperations(c *gin.Context) {
	connectorID := c.Param("connector")
	ops, err := h.facade.Operations(connectorID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, OperationListResponse{ConnectorID: connectorID, Operations: ops})
}

// PerformRequest is the request body for performing an operation
type PerformRequest struct {
	Params integration.Params `json:"params"`
}

// PerformResponse reports the settled operation and its audit entry
type PerformResponse struct {
	ConnectorID string         `json:"connector_id"`
	Operation   string         `json:"operation"`
	StatusCode  int            `json:"status_code"`
	Attempts    int            `json:"attempts"`
	Data        map[string]any `json:"data,omitempty"`
	AuditEntry  AuditEntryRef  `json:"audit_entry"`
}

// AuditEntryRef points at the ledger entry recording an operation
type AuditEntryRef struct {
	Sequence  uint64 `json:"sequence"`
	EntryHash string `json:"entry_hash"`
}

// Perform godoc
// @Summary      Perform one connector operation
// @Description  Invokes the operation on behalf of the X-Actor identity and
// @Description  records the outcome in the audit ledger before responding.
// @Tags         integration
// @Accept       json
// @Produce      json
// @Param        connector path string true "Connector ID"
// @Param        operation path string true "Operation name"
// @Param        X-Actor   header string true "Acting identity"
// @Param        request   body PerformRequest false "Operation parameters"
// @Success      200 {object} APIResponse[PerformResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      429 {object} ErrorResponse
// @Failure      502 {object} ErrorResponse
// @Router       /connectors/{connector}/operations/{operation} [post]
func (h *IntegrationHandler) Perform(c *gin.Context) {
	actor := getActor(c)
	if actor == "" {
		h.Error(c, 400, dto.ErrCodeInvalidInput, "X-Actor header is required")
		return
	}

	var req PerformRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.Error(c, 400, dto.ErrCodeInvalidJSON, "request body is not valid JSON")
			return
		}
	}

	connectorID := c.Param("connector")
	operation := c.Param("operation")

	// Downstream logs (facade, slow-query) pick the actor up from the context
	ctx, _ := logger.WithActor(c.Request.Context(), logger.FromContext(c.Request.Context()), actor)

	res, err := h.facade.Perform(ctx, connectorID, operation, req.Params, actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, PerformResponse{
		ConnectorID: res.Response.ConnectorID,
		Operation:   res.Response.Operation,
		StatusCode:  res.Response.StatusCode,
		Attempts:    res.Response.Attempts,
		Data:        res.Response.Data,
		AuditEntry: AuditEntryRef{
			Sequence:  res.Entry.Sequence,
			EntryHash: res.Entry.EntryHash,
		},
	})
}
