package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZentaChain/cvcomm/pkg/bundle"
	"github.com/ZentaChain/cvcomm/pkg/dialog"
	"github.com/ZentaChain/cvcomm/pkg/protocol"
	"github.com/ZentaChain/cvcomm/pkg/storage"
)

// SubscriptionResponse reports the subscription engine state
type SubscriptionResponse struct {
	Success        bool   `json:"success"`
	State          string `json:"state"`
	RequestID      uint32 `json:"requestId"`
	SubscriptionID uint32 `json:"subscriptionId,omitempty"`
	Active         bool   `json:"active"`
}

// EnqueueRequest is the body of POST /api/v1/bundles.
// Payload and Certificate are standard base64.
type EnqueueRequest struct {
	ReceiptID     string `json:"receiptId"`
	DestHost      string `json:"destHost" binding:"required"`
	DestPort      int32  `json:"destPort"`
	FromForwarder bool   `json:"fromForwarder"`
	Certificate   string `json:"certificate"`
	Payload       string `json:"payload" binding:"required"`
}

// EnqueueResponse returns the receipt id the delivery will be acknowledged with
type EnqueueResponse struct {
	Success   bool   `json:"success"`
	ReceiptID string `json:"receiptId"`
}

// QueueStatsResponse wraps queue statistics
type QueueStatsResponse struct {
	Success bool                `json:"success"`
	Stats   *storage.QueueStats `json:"stats"`
}

func (s *Server) status() SubscriptionResponse {
	id, active := s.subscriber.SubscriptionID()
	return SubscriptionResponse{
		Success:        true,
		State:          s.subscriber.State().String(),
		RequestID:      uint32(s.subscriber.RequestID()),
		SubscriptionID: uint32(id),
		Active:         active,
	}
}

// handleStatus handles GET /api/v1/subscription
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

// handleSubscribe handles POST /api/v1/subscription
func (s *Server) handleSubscribe(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	id, err := s.subscriber.Subscribe(ctx)
	if err != nil {
		s.writeDialogError(c, err)
		return
	}

	s.logger.Info("subscription created", zap.Uint32("subscription_id", uint32(id)))
	c.JSON(http.StatusOK, s.status())
}

// handleCancel handles DELETE /api/v1/subscription/:id
func (s *Server) handleCancel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid subscription ID",
			Message: "Subscription ID must be an unsigned 32-bit number",
		})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.subscriber.Cancel(ctx, protocol.TemporaryID(id)); err != nil {
		s.writeDialogError(c, err)
		return
	}

	s.logger.Info("subscription cancelled", zap.Uint64("subscription_id", id))
	c.JSON(http.StatusOK, s.status())
}

// handleEnqueue handles POST /api/v1/bundles
func (s *Server) handleEnqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if req.DestPort < 0 || req.DestPort > 65535 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid destination port",
			Message: fmt.Sprintf("destPort %d is outside 0-65535", req.DestPort),
		})
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid payload", Message: "payload must be base64"})
		return
	}
	var cert []byte
	if req.Certificate != "" {
		if cert, err = base64.StdEncoding.DecodeString(req.Certificate); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid certificate", Message: "certificate must be base64"})
			return
		}
	}

	b, err := bundle.New(req.ReceiptID, req.DestHost, req.DestPort, req.FromForwarder, cert, payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid bundle", Message: err.Error()})
		return
	}

	if err := s.queue.Enqueue(b); err != nil {
		if errors.Is(err, storage.ErrDuplicateReceipt) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Duplicate receipt ID", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to queue bundle", Message: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, EnqueueResponse{Success: true, ReceiptID: b.ReceiptID})
}

// handleQueueStats handles GET /api/v1/queue/stats
func (s *Server) handleQueueStats(c *gin.Context) {
	stats, err := s.queue.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read queue", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, QueueStatsResponse{Success: true, Stats: stats})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"state":     s.subscriber.State().String(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

// writeDialogError maps a subscription failure onto an HTTP status
func (s *Server) writeDialogError(c *gin.Context, err error) {
	var de *dialog.Error
	if !errors.As(err, &de) {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, ErrorResponse{Error: "Subscription request failed", Message: err.Error()})
		return
	}

	resp := ErrorResponse{Error: de.Kind.String(), Message: de.Error()}
	status := http.StatusInternalServerError
	switch de.Kind {
	case dialog.KindServer:
		status = http.StatusBadGateway
		resp.Error = de.Text
		resp.Code = de.Code
	case dialog.KindExhausted:
		status = http.StatusGatewayTimeout
	case dialog.KindInvalidParams:
		status = http.StatusBadRequest
	}
	s.logger.Warn("subscription request failed", zap.Stringer("kind", de.Kind), zap.Error(err))
	c.JSON(status, resp)
}
