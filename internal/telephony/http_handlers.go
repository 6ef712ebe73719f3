package telephony

import (
	"net/http"
	"time"

	"telecom-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandler converts the inbound-call webhook to internal types,
// delegates the admit/reject decision to the provider adapter, and writes
// TwiML. No engine or store logic lives here.
type WebhookHandler struct {
	Provider Provider
	Now      func() time.Time
}

func NewWebhookHandler(provider Provider) *WebhookHandler {
	return &WebhookHandler{Provider: provider, Now: time.Now}
}

func (h WebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony provider not configured"})
		return
	}

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	in := form.ToInboundCallRequest(h.Now())

	res, err := h.Provider.HandleInboundCall(c.Request.Context(), in)
	if err != nil {
		log.Error("inbound call admission failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "admission failed"})
		return
	}

	twiml, err := RenderTwiML(res)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
