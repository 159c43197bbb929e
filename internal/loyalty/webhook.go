package loyalty

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/pkg/queue"
	"github.com/dogdollars/loyalty/pkg/response"
)

// Enqueuer accepts events for asynchronous processing.
type Enqueuer interface {
	EnqueueEarn(ctx context.Context, payload queue.EarnPayload) (string, error)
	EnqueueRedeem(ctx context.Context, payload queue.RedeemPayload) (string, error)
}

// WebhookHandler accepts earn and redeem notifications and hands them to the worker queue.
type WebhookHandler struct {
	queue  Enqueuer
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(q Enqueuer, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{queue: q, logger: logger}
}

// Earn handles POST /webhooks/earn. Shape checks happen here; everything else is left to the worker.
func (h *WebhookHandler) Earn(c *gin.Context) {
	var req models.EarnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if *req.EarnedAmount < 0 {
		response.BadRequest(c, "earned_amount must be a non-negative integer")
		return
	}
	jobID, err := h.queue.EnqueueEarn(c.Request.Context(), queue.EarnPayload{
		CustomerID:   strings.TrimSpace(req.CustomerID),
		OrderID:      strings.TrimSpace(req.OrderID),
		EarnedAmount: *req.EarnedAmount,
	})
	if err != nil {
		h.logger.Error("enqueue earn failed", zap.Error(err), zap.String("customer_id", req.CustomerID), zap.String("order_id", req.OrderID))
		response.ServiceUnavailable(c, "failed to enqueue event")
		return
	}
	h.logger.Info("earn webhook accepted", zap.String("job_id", jobID), zap.String("customer_id", req.CustomerID), zap.String("order_id", req.OrderID))
	response.Accepted(c, gin.H{"job_id": jobID, "status": "queued"})
}

// Redeem handles POST /webhooks/redeem.
func (h *WebhookHandler) Redeem(c *gin.Context) {
	var req models.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	jobID, err := h.queue.EnqueueRedeem(c.Request.Context(), queue.RedeemPayload{
		CustomerID: strings.TrimSpace(req.CustomerID),
		Code:       strings.TrimSpace(req.Code),
	})
	if err != nil {
		h.logger.Error("enqueue redeem failed", zap.Error(err), zap.String("customer_id", req.CustomerID))
		response.ServiceUnavailable(c, "failed to enqueue event")
		return
	}
	h.logger.Info("redeem webhook accepted", zap.String("job_id", jobID), zap.String("customer_id", req.CustomerID))
	response.Accepted(c, gin.H{"job_id": jobID, "status": "queued"})
}
