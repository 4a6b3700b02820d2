package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fluxquant/fundarb/internal/models"
	"github.com/fluxquant/fundarb/internal/services"
)

// OpportunityReader is the cache-backed read path for ranked opportunities.
type OpportunityReader interface {
	Latest(ctx context.Context, limit int) ([]models.Opportunity, time.Time, error)
}

// EngineHandler exposes the opportunity engine over HTTP. All read endpoints
// serve last-known-good state and never block a scan cycle.
type EngineHandler struct {
	engine *services.OpportunityEngine
	reader OpportunityReader
}

// NewEngineHandler creates the handler. reader may be nil when no cache is
// configured; opportunity reads then come from the engine's in-process copy.
func NewEngineHandler(engine *services.OpportunityEngine, reader OpportunityReader) *EngineHandler {
	return &EngineHandler{
		engine: engine,
		reader: reader,
	}
}

// RegisterRoutes attaches all engine endpoints to the router. adminAuth, when
// non-nil, guards the mutating control endpoints; read endpoints stay open.
func (h *EngineHandler) RegisterRoutes(router *gin.Engine, adminAuth gin.HandlerFunc) {
	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.GET("/status", h.GetStatus)
		api.GET("/opportunities", h.GetOpportunities)
		api.GET("/risk/metrics", h.GetRiskMetrics)
		api.GET("/positions/flagged", h.GetFlaggedPositions)
	}

	control := api.Group("")
	if adminAuth != nil {
		control.Use(adminAuth)
	}
	{
		control.POST("/engine/enable", h.EnableEngine)
		control.POST("/engine/disable", h.DisableEngine)
		control.POST("/scan", h.ForceScan)
		control.PUT("/risk/limits", h.UpdateRiskLimits)
	}
}

// Health handles GET /health
func (h *EngineHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"monitor":   h.engine.Monitor().Snapshot(),
	})
}

// GetStatus handles GET /api/status
func (h *EngineHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status())
}

// GetOpportunities handles GET /api/opportunities
func (h *EngineHandler) GetOpportunities(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = parsed
	}

	if h.reader != nil {
		opportunities, cachedAt, err := h.reader.Latest(c.Request.Context(), limit)
		if err == nil && len(opportunities) > 0 {
			c.JSON(http.StatusOK, gin.H{
				"opportunities": opportunities,
				"count":         len(opportunities),
				"cached_at":     cachedAt,
			})
			return
		}
		// Cache miss or failure falls through to the in-process copy.
	}

	opportunities := h.engine.BestOpportunities(limit)
	c.JSON(http.StatusOK, gin.H{
		"opportunities": opportunities,
		"count":         len(opportunities),
	})
}

// GetRiskMetrics handles GET /api/risk/metrics
func (h *EngineHandler) GetRiskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.RiskMetrics(c.Request.Context()))
}

// GetFlaggedPositions handles GET /api/positions/flagged
func (h *EngineHandler) GetFlaggedPositions(c *gin.Context) {
	flagged := h.engine.Ledger().FlaggedPositions()
	c.JSON(http.StatusOK, gin.H{
		"positions": flagged,
		"count":     len(flagged),
	})
}

// EnableEngine handles POST /api/engine/enable
func (h *EngineHandler) EnableEngine(c *gin.Context) {
	h.engine.Enable()
	c.JSON(http.StatusOK, gin.H{"enabled": true})
}

// DisableEngine handles POST /api/engine/disable
func (h *EngineHandler) DisableEngine(c *gin.Context) {
	h.engine.Disable()
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

// ForceScan handles POST /api/scan
func (h *EngineHandler) ForceScan(c *gin.Context) {
	err := h.engine.ForceScan(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "scan completed"})
	case errors.Is(err, services.ErrScanInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "A scan cycle is already in flight"})
	case errors.Is(err, services.ErrEngineDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": "Engine is disabled"})
	case errors.Is(err, services.ErrEmergencyStopped):
		c.JSON(http.StatusConflict, gin.H{"error": "Emergency stop is active"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Scan failed", "details": err.Error()})
	}
}

// UpdateRiskLimits handles PUT /api/risk/limits
func (h *EngineHandler) UpdateRiskLimits(c *gin.Context) {
	var update models.RiskLimitsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	applied, err := h.engine.UpdateLimits(update)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limits", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, applied)
}
