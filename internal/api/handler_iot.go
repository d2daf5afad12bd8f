package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"recycle-bin-backend/internal/parse"
	"recycle-bin-backend/internal/settlement"
)

type heartbeatRequest struct {
	Status string `json:"status"`
}

// Heartbeat handles POST /api/iot/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := bindDeviceBody(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	binID, err := h.svc.Heartbeat(c.Request.Context(), deviceKey(c), req.Status)
	if err != nil {
		respondError(c, err, true)
		return
	}
	respondOK(c, http.StatusOK, "Heartbeat received", gin.H{
		"binId":     binID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Announce handles POST /api/iot/announce.
func (h *Handler) Announce(c *gin.Context) {
	binID, err := h.svc.Announce(c.Request.Context(), deviceKey(c))
	if err != nil {
		respondError(c, err, true)
		return
	}
	respondOK(c, http.StatusOK, "Device marked online", gin.H{"binId": binID})
}

// GetCommand handles POST /api/iot/get-command. The response carries
// "command": null when nothing is pending.
func (h *Handler) GetCommand(c *gin.Context) {
	cmd, ok, err := h.svc.PollCommand(c.Request.Context(), deviceKey(c))
	if err != nil {
		respondError(c, err, true)
		return
	}

	var command any
	if ok {
		command = cmd
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"command":    command,
		"hasCommand": ok,
	})
}

type capacityRequest struct {
	Comp1Capacity *float64 `json:"comp1Capacity"`
	Comp2Capacity *float64 `json:"comp2Capacity"`
}

// UpdateCapacity handles POST /api/iot/update-capacity.
func (h *Handler) UpdateCapacity(c *gin.Context) {
	var req capacityRequest
	if err := bindDeviceBody(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.svc.UpdateCapacity(c.Request.Context(), deviceKey(c), req.Comp1Capacity, req.Comp2Capacity); err != nil {
		respondError(c, err, true)
		return
	}
	respondOK(c, http.StatusOK, "Capacity updated", nil)
}

// locationRequest accepts both lat/lng and the latitude/longitude
// spelling used by the firmware.
type locationRequest struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (r locationRequest) coords() (lat, lng *float64) {
	lat, lng = r.Lat, r.Lng
	if lat == nil {
		lat = r.Latitude
	}
	if lng == nil {
		lng = r.Longitude
	}
	return lat, lng
}

// UpdateLocation handles POST /api/iot/update-location.
func (h *Handler) UpdateLocation(c *gin.Context) {
	var req locationRequest
	if err := bindDeviceBody(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	lat, lng := req.coords()
	if lat == nil || lng == nil {
		badRequest(c, errors.New("lat and lng are required"))
		return
	}

	if err := h.svc.UpdateLocation(c.Request.Context(), deviceKey(c), *lat, *lng); err != nil {
		respondError(c, err, true)
		return
	}
	respondOK(c, http.StatusOK, "Location updated", nil)
}

// DeviceSessionData handles POST /api/iot/session-data, sent by the bin
// after the lease ends.
func (h *Handler) DeviceSessionData(c *gin.Context) {
	var req sessionDataRequest
	if err := bindDeviceBody(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	rep, err := req.report()
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.ReportDeviceSession(c.Request.Context(), deviceKey(c), req.UserID, rep)
	if err != nil {
		respondError(c, err, true)
		return
	}
	respondOK(c, http.StatusOK, "Session data processed successfully", settledResponse(res))
}

// DeviceDeactivate handles POST /api/iot/deactivate.
func (h *Handler) DeviceDeactivate(c *gin.Context) {
	res, err := h.svc.DeactivateByDevice(c.Request.Context(), deviceKey(c))
	if err != nil {
		respondError(c, err, true)
		return
	}
	respondOK(c, http.StatusOK, "Bin deactivated by device", gin.H{
		"binId":        res.BinID,
		"previousUser": res.Holder,
	})
}

type recycleRequest struct {
	BinID        string  `json:"binId" binding:"required"`
	UserID       string  `json:"userId" binding:"required"`
	MaterialType string  `json:"materialType" binding:"required"`
	Quantity     *int    `json:"quantity"`
	Weight       float64 `json:"weight"`
}

// Recycle handles POST /api/iot/recycle, a single-material report for the
// current holder. Quantity defaults to one item.
func (h *Handler) Recycle(c *gin.Context) {
	var req recycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	material := parse.Material(req.MaterialType)
	switch material {
	case parse.MaterialPlastic, parse.MaterialTin, parse.MaterialRejected:
	default:
		badRequest(c, errors.New("materialType must be plastic, tin or rejected"))
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	rep := settlement.Report{Counts: map[string]int{material: quantity}}
	if req.Weight > 0 {
		rep.WeightsKg = map[string]float64{material: req.Weight}
	}

	res, err := h.svc.ReportSession(c.Request.Context(), req.UserID, req.BinID, rep)
	if err != nil {
		respondError(c, err, false)
		return
	}
	respondOK(c, http.StatusOK, "Recycling transaction processed", settledResponse(res))
}
