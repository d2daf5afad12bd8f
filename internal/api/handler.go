package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/coordinator"
	"recycle-bin-backend/internal/device"
	"recycle-bin-backend/internal/mw"
	"recycle-bin-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	svc     *coordinator.Service
	store   store.Store
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(svc *coordinator.Service, s store.Store, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		svc:     svc,
		store:   s,
		webpush: webpushOptions,
	}
}

func respondOK(c *gin.Context, status int, message string, data any) {
	body := gin.H{"success": true, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

// respondError maps err onto the error taxonomy. Device paths report every
// authorization failure as 401.
func respondError(c *gin.Context, err error, devicePath bool) {
	status := apperr.HTTPStatus(err, devicePath)
	body := gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    apperr.Code(err),
	}

	var conflict *apperr.ConflictError
	switch {
	case errors.As(err, &conflict):
		body["error"] = apperr.ErrConflict.Error()
		body["currentUser"] = conflict.Holder
	case status >= http.StatusInternalServerError:
		log.Printf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		body["error"] = "internal server error"
	case errors.Is(err, device.ErrUnknownCredential):
		body["error"] = "invalid or missing API key"
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "invalid request: " + err.Error(),
		"code":    "INVALID_REQUEST",
	})
}

// deviceKey returns the bin credential from the X-API-Key header, falling
// back to the "apiKey" body field older firmware sends.
func deviceKey(c *gin.Context) string {
	if key := c.GetHeader(mw.DeviceKeyHeader); key != "" {
		return key
	}
	var body struct {
		APIKey string `json:"apiKey"`
	}
	if err := bindDeviceBody(c, &body); err != nil {
		return ""
	}
	return body.APIKey
}

// bindDeviceBody decodes the JSON body into v. The body is kept on the
// context so deviceKey can read it again. An empty body leaves v untouched.
func bindDeviceBody(c *gin.Context, v any) error {
	err := c.ShouldBindBodyWith(v, binding.JSON)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
