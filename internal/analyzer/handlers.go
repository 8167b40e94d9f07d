package analyzer

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/walletrisk/internal/logging"
	"github.com/mbd888/walletrisk/internal/pagination"
	"github.com/mbd888/walletrisk/internal/validation"
)

// Handler serves the aggregated analysis endpoints.
type Handler struct {
	aggregator *Aggregator
}

// NewHandler creates an analysis handler.
func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator}
}

// RegisterRoutes mounts the analysis routes on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyze", h.Analyze)
	r.GET("/analyses/:address", validation.AddressParamMiddleware(), h.ListAnalyses)
}

// AnalyzeRequest is the body of POST /api/analyze. An empty Providers list
// selects every provider.
type AnalyzeRequest struct {
	Address   any      `json:"address"`
	Providers []string `json:"providers,omitempty"`
}

// Analyze handles POST /api/analyze.
func (h *Handler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address", "message": "request body must be JSON"})
			return
		}
	}
	addr, err := validation.ParseAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address", "message": err.Error()})
		return
	}

	report, err := h.aggregator.Analyze(c.Request.Context(), addr, req.Providers)
	if err != nil {
		if errors.Is(err, ErrUnknownProvider) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown provider", "message": err.Error()})
			return
		}
		logging.L(c.Request.Context()).Error("analysis failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListAnalyses handles GET /api/analyses/:address. The address has already
// been validated by AddressParamMiddleware.
func (h *Handler) ListAnalyses(c *gin.Context) {
	addr, ok := validation.AddressParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address"})
		return
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	reports, err := h.aggregator.History(c.Request.Context(), addr, limit+1, cursor)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list analyses", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	c.JSON(http.StatusOK, pagination.Paginate(reports, limit, reportKey))
}

func reportKey(r *Report) (time.Time, string) { return r.StartedAt, r.ID }
