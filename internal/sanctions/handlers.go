package sanctions

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/walletrisk/internal/logging"
)

// updateSample is how many addresses an update response lists.
const updateSample = 10

// Handler serves the registry maintenance endpoints.
type Handler struct {
	registry *Registry
	timeout  time.Duration
}

// NewHandler creates a sanctions handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry, timeout: 2 * time.Minute}
}

// RegisterRoutes mounts the OFAC list routes on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/ofac/update", h.Update)
	r.GET("/ofac/stats", h.GetStats)
}

// Update handles POST /api/ofac/update. The refresh outlives a client
// disconnect so that a started download still lands in the cache. Only the
// first few addresses are echoed back; GET /api/ofac/stats has the totals.
func (h *Handler) Update(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.timeout)
	defer cancel()

	res, err := h.registry.Refresh(ctx)
	if err != nil {
		var re *RefreshError
		if errors.As(err, &re) {
			logging.L(c.Request.Context()).Warn("manual sanctions refresh failed", "error", err)
			stats := h.registry.Stats()
			c.JSON(http.StatusBadGateway, gin.H{
				"success":        false,
				"error":          err.Error(),
				"totalAddresses": stats.TotalSanctionedAddresses,
				"lastUpdate":     stats.LastUpdate,
				"source":         stats.Source,
			})
			return
		}
		logging.L(c.Request.Context()).Error("manual sanctions refresh error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Server error"})
		return
	}

	sample := res.Addresses
	if len(sample) > updateSample {
		sample = sample[:updateSample]
	}
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"totalAddresses":     res.TotalAddresses,
		"lastUpdate":         res.LastUpdate,
		"added":              res.Added,
		"removed":            res.Removed,
		"sources":            res.Sources,
		"addresses":          sample,
		"addressesTruncated": len(res.Addresses) > len(sample),
	})
}

// GetStats handles GET /api/ofac/stats.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Stats())
}
