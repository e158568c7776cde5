package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/overprint/overprint/internal/session"
)

type appendOperationRequest struct {
	OperationType string          `json:"operation_type"`
	OperationData json.RawMessage `json:"operation_data"`
}

type operationResponse struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	Seq           int64           `json:"seq"`
	OperationType string          `json:"operation_type"`
	OperationData json.RawMessage `json:"operation_data"`
	CreatedAt     string          `json:"created_at"`
}

func operationOf(op session.Operation) operationResponse {
	return operationResponse{
		ID:            op.ID,
		SessionID:     op.SessionID,
		Seq:           op.Seq,
		OperationType: string(op.Kind),
		OperationData: json.RawMessage(op.PayloadJSON),
		CreatedAt:     formatTimestamp(op.CreatedAtSeconds),
	}
}

func (h *httpHandler) handleAppendOperation(c *gin.Context) {
	var request appendOperationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "malformed request body"})
		return
	}

	kind := session.Kind(request.OperationType)
	if !kind.Valid() {
		h.renderError(c, fmt.Errorf("%w: unknown operation_type %q, expected one of %v",
			session.ErrValidation, request.OperationType, session.Kinds()))
		return
	}

	op, err := h.sessions.Append(c.Request.Context(), c.Param("session_id"), sessionToken(c), kind, request.OperationData)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, operationOf(op))
}

func (h *httpHandler) handleListOperations(c *gin.Context) {
	ops, err := h.sessions.List(c.Request.Context(), c.Param("session_id"), sessionToken(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	responses := make([]operationResponse, 0, len(ops))
	for _, op := range ops {
		responses = append(responses, operationOf(op))
	}
	c.JSON(http.StatusOK, gin.H{"operations": responses, "count": len(responses)})
}

func (h *httpHandler) handleDeleteOperation(c *gin.Context) {
	err := h.sessions.DeleteOperation(c.Request.Context(), c.Param("session_id"), sessionToken(c), c.Param("operation_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleClearOperations(c *gin.Context) {
	if err := h.sessions.ClearOperations(c.Request.Context(), c.Param("session_id"), sessionToken(c)); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
