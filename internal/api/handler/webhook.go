package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docstream/corpusd/internal/service"
)

// signatureHeader carries the provider's HMAC of the raw payload.
const signatureHeader = "X-Corpusd-Signature"

// WebhookHandler receives parse-completion callbacks from the parsing
// provider.
type WebhookHandler struct {
	webhooks *service.WebhookService
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// ParseCallback handles POST /webhook/parse/:job_id. The raw body is needed
// for signature verification, so binding happens inside the service.
func (h *WebhookHandler) ParseCallback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}

	err = h.webhooks.HandleCallback(c.Request.Context(), c.Param("job_id"), body, c.GetHeader(signatureHeader))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	case errors.Is(err, service.ErrBadSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
	default:
		respondError(c, err)
	}
}
