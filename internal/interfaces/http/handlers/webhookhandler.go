// Package handlers implements the HTTP endpoints of the relay: the Stripe
// webhook receiver and the operational surface (health, sync job history).
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finrelay/finrelay/internal/domain/event"
	"github.com/finrelay/finrelay/internal/infrastructure/queue"
	"github.com/finrelay/finrelay/internal/shared/logger"
	"github.com/finrelay/finrelay/internal/shared/utils"
)

// Stripe caps event payloads well below this.
const maxWebhookBodySize = 1 << 20

// SignatureVerifier validates the webhook signature header against the raw
// payload.
type SignatureVerifier interface {
	Verify(payload []byte, header string) error
}

// WebhookHandler receives Stripe webhook deliveries, verifies their
// signature, and enqueues them for asynchronous processing. The handler
// never does CRM work inline; Stripe expects a fast 2xx.
type WebhookHandler struct {
	verifier SignatureVerifier
	producer queue.Producer
	logger   logger.Interface
}

func NewWebhookHandler(verifier SignatureVerifier, producer queue.Producer, log logger.Interface) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		producer: producer,
		logger:   log,
	}
}

type webhookResponse struct {
	Received  bool   `json:"received"`
	MessageID string `json:"message_id"`
}

// HandleStripeEvent handles POST /webhooks/stripe.
func (h *WebhookHandler) HandleStripeEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := h.verifier.Verify(body, c.GetHeader("Stripe-Signature")); err != nil {
		h.logger.Warnw("rejected webhook with invalid signature",
			"client_ip", c.ClientIP(),
			"error", err,
		)
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid signature")
		return
	}

	// Validate the envelope up front so malformed payloads bounce with a
	// 400 instead of poisoning the queue.
	ev, err := event.Parse(body)
	if err != nil {
		h.logger.Warnw("rejected malformed webhook payload", "error", err)
		utils.ErrorResponse(c, http.StatusBadRequest, "malformed event payload")
		return
	}

	msgID, err := h.producer.Enqueue(c.Request.Context(), body)
	if err != nil {
		h.logger.Errorw("failed to enqueue webhook event",
			"event_id", ev.ID,
			"error", err,
		)
		utils.ErrorResponseWithError(c, err)
		return
	}

	h.logger.Debugw("webhook event enqueued",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"message_id", msgID,
	)
	utils.SuccessResponse(c, http.StatusOK, "", webhookResponse{Received: true, MessageID: msgID})
}
