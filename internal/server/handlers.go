package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MarcoBrian/RailBridge/internal/bridge"
	"github.com/MarcoBrian/RailBridge/types"
)

type verifyRequest struct {
	PaymentPayload      types.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements types.PaymentRequirements `json:"paymentRequirements"`
}

func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	result, err := s.facilitator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "requestID": c.GetString("requestID")})
		return
	}
	if s.metrics != nil {
		s.metrics.RecordVerify(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, result.IsValid)
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSettle(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	result, err := s.facilitator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "requestID": c.GetString("requestID")})
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSettle(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, result.Success)
	}
	// §6: 200 on every expected outcome, success or not — the merchant's
	// SettleResponse shape is identical regardless of error kind.
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.Supported())
}

func (s *Server) handleGetBridgeJob(c *gin.Context) {
	id := c.Param("id")
	job, err := s.bridgeStore.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, bridge.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bridge job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelBridgeJob(c *gin.Context) {
	id := c.Param("id")
	if err := s.bridgeWorker.Cancel(c.Request.Context(), id); err != nil {
		if errors.Is(err, bridge.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bridge job not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
