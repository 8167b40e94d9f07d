package webhooks

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mbd888/walletrisk/internal/risk"
	"github.com/mbd888/walletrisk/internal/security"
	"github.com/mbd888/walletrisk/internal/validation"
)

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store        Store
	allowPrivate bool
}

// NewHandler creates a new webhook handler. allowPrivate lets subscribers
// target loopback and private hosts, which is only sensible in development.
func NewHandler(store Store, allowPrivate bool) *Handler {
	return &Handler{
		store:        store,
		allowPrivate: allowPrivate,
	}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks", h.ListWebhooks)
	r.DELETE("/webhooks/:id", h.DeleteWebhook)
}

// CreateWebhookRequest for creating a webhook subscription
type CreateWebhookRequest struct {
	URL       string   `json:"url" binding:"required"`
	Events    []string `json:"events" binding:"required"`
	Addresses []string `json:"addresses"`
}

// CreateWebhook handles POST /webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if err := security.ValidateUpstreamURL(req.URL, h.allowPrivate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": err.Error()})
		return
	}

	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_events", "message": "at least one event is required"})
		return
	}
	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := EventType(e)
		if !slices.Contains(KnownEvents, et) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_events",
				"message": "unknown event " + e,
				"known":   KnownEvents,
			})
			return
		}
		if !slices.Contains(events, et) {
			events = append(events, et)
		}
	}

	var addrs []risk.Address
	for _, raw := range req.Addresses {
		addr, err := validation.ParseAddress(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address", "message": err.Error()})
			return
		}
		if !slices.Contains(addrs, addr) {
			addrs = append(addrs, addr)
		}
	}

	secret, err := generateSecret()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "message": "Failed to create webhook"})
		return
	}

	sub := &Subscription{
		ID:        "wh_" + uuid.NewString(),
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Addresses: addrs,
		Active:    true,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  secret, // only returned here
		"usage": gin.H{
			"signature": "hex HMAC-SHA256(body, secret)",
			"header":    HeaderSignature,
		},
	})
}

// ListWebhooks handles GET /webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs})
}

// DeleteWebhook handles DELETE /webhooks/:id
func (h *Handler) DeleteWebhook(c *gin.Context) {
	err := h.store.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Webhook not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Webhook deleted",
	})
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
