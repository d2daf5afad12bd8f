package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/model"
)

// GetPricing handles GET /api/pricing. Clients fall back to the defaults
// when nothing was configured.
func (h *Handler) GetPricing(c *gin.Context) {
	pricing, err := h.store.GetPricing(c.Request.Context())
	if apperr.IsNotFound(err) {
		def := model.DefaultPricing()
		pricing, err = &def, nil
	}
	if err != nil {
		respondError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": pricing})
}

// GetUserPoints handles GET /api/users/:id/points.
func (h *Handler) GetUserPoints(c *gin.Context) {
	userID := c.Param("id")
	points, err := h.svc.Points(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"userId": userID, "totalPoints": points},
	})
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
