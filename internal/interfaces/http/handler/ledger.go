package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cmp/backend/internal/domain/ledger"
	"github.com/cmp/backend/internal/interfaces/http/dto"
)

// LedgerHandler handles audit ledger HTTP requests
type LedgerHandler struct {
	BaseHandler
	ledger   *ledger.Ledger
	pageSize int
}

// NewLedgerHandler creates a new LedgerHandler. pageSize caps how many
// entries one list request returns.
func NewLedgerHandler(led *ledger.Ledger, pageSize int) *LedgerHandler {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &LedgerHandler{ledger: led, pageSize: pageSize}
}

// RegisterRoutes registers ledger routes
func (h *LedgerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/ledger")
	{
		group.GET("/entries", h.ListEntries)
		group.POST("/verify", h.Verify)
	}
}

// LedgerEntryResponse is one audit entry in API responses
type LedgerEntryResponse struct {
	ID            uuid.UUID `json:"id"`
	Sequence      uint64    `json:"sequence"`
	Timestamp     time.Time `json:"timestamp"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	PayloadDigest string    `json:"payload_digest"`
	PrevHash      string    `json:"prev_hash"`
	EntryHash     string    `json:"entry_hash"`
	Status        string    `json:"status"`
	FailureKind   string    `json:"failure_kind,omitempty"`
}

func toLedgerEntryResponse(e *ledger.Entry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:            e.ID,
		Sequence:      e.Sequence,
		Timestamp:     e.Timestamp,
		Actor:         e.Actor,
		Action:        e.Action,
		PayloadDigest: e.PayloadDigest,
		PrevHash:      e.PrevHash,
		EntryHash:     e.EntryHash,
		Status:        string(e.Outcome.Status),
		FailureKind:   e.Outcome.FailureKind,
	}
}

// ListEntries godoc
// @Summary      List audit ledger entries
// @Description  Returns entries in sequence order, filtered by actor,
// @Description  action prefix, time window, and start sequence.
// @Tags         ledger
// @Produce      json
// @Param        actor          query string false "Exact actor match"
// @Param        action_prefix  query string false "Action prefix match"
// @Param        from           query string false "Window start (RFC3339)"
// @Param        to             query string false "Window end (RFC3339)"
// @Param        start_sequence query int    false "Resume from this sequence"
// @Param        limit          query int    false "Max entries to return"
// @Success      200 {object} APIResponse[[]LedgerEntryResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /ledger/entries [get]
func (h *LedgerHandler) ListEntries(c *gin.Context) {
	filter, limit, err := h.parseListQuery(c)
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, err.Error())
		return
	}

	cursor := h.ledger.Query(filter)
	entries := make([]LedgerEntryResponse, 0, limit)
	for len(entries) < limit {
		entry, err := cursor.Next(c.Request.Context())
		if err != nil {
			h.InternalError(c, "ledger scan failed")
			return
		}
		if entry == nil {
			break
		}
		entries = append(entries, toLedgerEntryResponse(entry))
	}

	meta := &dto.Meta{Count: len(entries)}
	if len(entries) == limit {
		next := entries[len(entries)-1].Sequence + 1
		meta.NextSequence = &next
	}
	h.SuccessWithMeta(c, entries, meta)
}

func (h *LedgerHandler) parseListQuery(c *gin.Context) (ledger.Filter, int, error) {
	var filter ledger.Filter

	if actor := c.Query("actor"); actor != "" {
		filter.Actor = actor
	}
	if prefix := c.Query("action_prefix"); prefix != "" {
		filter.ActionPrefix = prefix
	}
	if raw := c.Query("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, 0, errors.New("from must be an RFC3339 timestamp")
		}
		filter.From = &ts
	}
	if raw := c.Query("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, 0, errors.New("to must be an RFC3339 timestamp")
		}
		filter.To = &ts
	}
	if raw := c.Query("start_sequence"); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, 0, errors.New("start_sequence must be a non-negative integer")
		}
		filter.StartSequence = seq
	}

	limit := h.pageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return filter, 0, errors.New("limit must be a positive integer")
		}
		if parsed < limit {
			limit = parsed
		}
	}
	return filter, limit, nil
}

// VerifyRequest bounds a verification scan. Empty bounds verify the whole
// chain.
type VerifyRequest struct {
	From *uint64 `json:"from,omitempty"`
	To   *uint64 `json:"to,omitempty"`
}

// VerifyResponse reports the verification verdict
type VerifyResponse struct {
	Intact   bool    `json:"intact"`
	Sequence *uint64 `json:"sequence,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Verify godoc
// @Summary      Verify audit chain integrity
// @Description  Recomputes entry hashes over the requested range and reports
// @Description  the first divergence, if any.
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Param        request body VerifyRequest false "Verification bounds"
// @Success      200 {object} APIResponse[VerifyResponse]
// @Failure      409 {object} APIResponse[VerifyResponse]
// @Router       /ledger/verify [post]
func (h *LedgerHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "request body is not valid JSON")
			return
		}
	}

	var err error
	if req.From == nil && req.To == nil {
		err = h.ledger.VerifyAll(c.Request.Context())
	} else {
		from := uint64(0)
		if req.From != nil {
			from = *req.From
		}
		to := ^uint64(0)
		if req.To != nil {
			to = *req.To
		}
		err = h.ledger.Verify(c.Request.Context(), from, to)
	}

	if err == nil {
		h.Success(c, VerifyResponse{Intact: true})
		return
	}

	var tamperErr *ledger.TamperError
	if errors.As(err, &tamperErr) {
		seq := tamperErr.Sequence
		c.JSON(http.StatusConflict, dto.Response{
			Success: false,
			Data: VerifyResponse{
				Intact:   false,
				Sequence: &seq,
				Reason:   tamperErr.Reason,
			},
			Error: &dto.ErrorInfo{
				Code:      dto.ErrCodeTamperDetected,
				Message:   tamperErr.Error(),
				RequestID: getRequestID(c),
			},
		})
		return
	}

	h.HandleError(c, err)
}
