package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"recycle-bin-backend/config"
	"recycle-bin-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		bins := api.Group("/bins")
		bins.POST("/activate", h.Activate)
		bins.POST("/scan-qr", h.ScanQR)
		bins.POST("/deactivate", h.Deactivate)
		bins.POST("/check-status", h.CheckStatus)
		bins.GET("/:id/status", h.GetBinStatus)
		bins.POST("/session-data", h.ReportSession)

		// Device routes authenticate with the X-API-Key header or an apiKey
		// body field. /recycle checks the lease holder instead.
		iot := api.Group("/iot")
		iot.POST("/heartbeat", h.Heartbeat)
		iot.POST("/announce", h.Announce)
		iot.POST("/get-command", h.GetCommand)
		iot.POST("/update-capacity", h.UpdateCapacity)
		iot.POST("/update-location", h.UpdateLocation)
		iot.POST("/session-data", h.DeviceSessionData)
		iot.POST("/deactivate", h.DeviceDeactivate)
		iot.POST("/recycle", h.Recycle)

		api.GET("/pricing", caching, h.GetPricing)
		api.GET("/users/:id/points", h.GetUserPoints)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
