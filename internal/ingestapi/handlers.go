// Package ingestapi is the thin request→engine adapter: it validates
// input, hands work to the call engine, and returns an acknowledgment
// without performing any store I/O on the request path, per the ingest
// façade's latency contract.
package ingestapi

import (
	"errors"
	"net/http"

	"telecom-platform/internal/callengine"
	"telecom-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers exposes the packet-ingest and call-completion HTTP endpoints.
type Handlers struct {
	Engine *callengine.Engine
}

func New(engine *callengine.Engine) *Handlers {
	return &Handlers{Engine: engine}
}

type ingestPacketRequest struct {
	Sequence  *int     `json:"sequence" binding:"required"`
	Data      string   `json:"data" binding:"required"`
	Timestamp *float64 `json:"timestamp" binding:"required"`
}

// IngestPacket handles POST /v1/calls/:call_id/packets.
//
// Per the spec's accepted response-shape variance, this returns the
// minimal immediate acknowledgment `{status:"accepted"}` rather than
// waiting on the store commit to report total_received/missing_sequences:
// the latency contract forbids store I/O on this path.
func (h *Handlers) IngestPacket(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Param("call_id")

	var req ingestPacketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid packet payload"})
		return
	}
	if req.Sequence == nil || req.Timestamp == nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "sequence and timestamp are required"})
		return
	}

	err := h.Engine.Ingest(c.Request.Context(), callID, *req.Sequence, req.Data, *req.Timestamp)
	if err != nil {
		if errors.Is(err, callengine.ErrInvalidInput) {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid packet payload"})
			return
		}
		log.Error("ingest failed unexpectedly", "call_id", callID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type completeCallRequest struct {
	TotalPackets *int `json:"total_packets" binding:"required"`
}

// CompleteCall handles POST /v1/calls/:call_id/complete.
func (h *Handlers) CompleteCall(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Param("call_id")

	var req completeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TotalPackets == nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "total_packets is required"})
		return
	}

	result, err := h.Engine.Complete(c.Request.Context(), callID, *req.TotalPackets)
	if err != nil {
		if errors.Is(err, callengine.ErrInvalidInput) {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "total_packets must be positive"})
			return
		}
		log.Error("completion failed unexpectedly", "call_id", callID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":                 result.Status,
		"call_id":                callID,
		"expected_total_packets": result.ExpectedTotal,
	})
}
