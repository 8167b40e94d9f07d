package providers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/walletrisk/internal/logging"
	"github.com/mbd888/walletrisk/internal/risk"
	"github.com/mbd888/walletrisk/internal/validation"
)

// Handler serves the single-provider endpoints.
type Handler struct {
	catalog *Catalog
}

// NewHandler creates a provider handler.
func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// RegisterRoutes mounts GET /providers and one analyze route per provider.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/providers", h.ListProviders)
	for _, p := range h.catalog.All() {
		r.POST(RoutePath(p.Key()), h.Analyze(p))
	}
}

// ListProviders handles GET /api/providers.
func (h *Handler) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.catalog.Describe()})
}

// Analyze returns the handler for one provider's analyze route.
func (h *Handler) Analyze(p Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr, ok := validation.BindAddress(c)
		if !ok {
			return
		}
		f, err := Run(c.Request.Context(), p, addr)
		if err != nil {
			WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, f)
	}
}

// WriteError maps a provider error to a response. Upstream HTTP statuses are
// passed through; other upstream failures are 502.
func WriteError(c *gin.Context, err error) {
	var ue *risk.UpstreamError
	if errors.As(err, &ue) {
		status := ue.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		msg := ue.Message
		if msg == "" {
			msg = ue.Provider + " upstream error"
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	logging.L(c.Request.Context()).Error("provider handler error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
}
