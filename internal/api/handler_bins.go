package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"recycle-bin-backend/internal/lease"
	"recycle-bin-backend/internal/parse"
	"recycle-bin-backend/internal/settlement"
)

type activateRequest struct {
	BinID  string `json:"binId" binding:"required"`
	UserID string `json:"userId" binding:"required"`
}

type scanQRRequest struct {
	QRData string `json:"qrData" binding:"required"`
	UserID string `json:"userId" binding:"required"`
}

type activateResponse struct {
	BinID         string `json:"binId"`
	SessionID     string `json:"sessionId,omitempty"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
	AlreadyActive bool   `json:"alreadyActive"`
	Command       string `json:"command"`
}

func toActivateResponse(res lease.AcquireResult) activateResponse {
	out := activateResponse{
		BinID:         res.BinID,
		AlreadyActive: res.Outcome == lease.AlreadyHeldBySelf,
		Command:       res.Command,
	}
	if res.Session != nil {
		out.SessionID = res.Session.ID
		out.ExpiresAt = res.Session.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}

// Activate handles POST /api/bins/activate.
func (h *Handler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.Activate(c.Request.Context(), req.BinID, req.UserID)
	if err != nil {
		respondError(c, err, false)
		return
	}

	msg := "Bin activated successfully"
	if res.Outcome == lease.AlreadyHeldBySelf {
		msg = "Bin already active for this user"
	}
	respondOK(c, http.StatusOK, msg, toActivateResponse(res))
}

// ScanQR handles POST /api/bins/scan-qr.
func (h *Handler) ScanQR(c *gin.Context) {
	var req scanQRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.ScanQR(c.Request.Context(), req.QRData, req.UserID)
	if err != nil {
		respondError(c, err, false)
		return
	}
	respondOK(c, http.StatusOK, "Bin activated successfully", toActivateResponse(res))
}

// Deactivate handles POST /api/bins/deactivate.
func (h *Handler) Deactivate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.Deactivate(c.Request.Context(), req.BinID, req.UserID)
	if err != nil {
		respondError(c, err, false)
		return
	}
	respondOK(c, http.StatusOK, "Bin deactivated successfully", gin.H{
		"binId":   res.BinID,
		"command": res.Command,
	})
}

type checkStatusRequest struct {
	BinID  string `json:"binId" binding:"required"`
	UserID string `json:"userId"`
}

// CheckStatus handles POST /api/bins/check-status.
func (h *Handler) CheckStatus(c *gin.Context) {
	var req checkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.checkStatus(c, req.BinID, req.UserID)
}

// GetBinStatus handles GET /api/bins/:id/status.
func (h *Handler) GetBinStatus(c *gin.Context) {
	h.checkStatus(c, c.Param("id"), c.Query("userId"))
}

func (h *Handler) checkStatus(c *gin.Context, binID, userID string) {
	st, err := h.svc.CheckStatus(c.Request.Context(), binID, userID)
	if err != nil {
		respondError(c, err, false)
		return
	}
	respondOK(c, http.StatusOK, string(st.Availability), st)
}

type sessionDataRequest struct {
	UserID      string             `json:"userId" binding:"required"`
	BinID       string             `json:"binId"`
	Counts      map[string]int     `json:"counts"`
	WeightsKg   map[string]float64 `json:"weights"`
	SessionData json.RawMessage    `json:"sessionData"`
}

// report builds a settlement report from either explicit counts or a raw
// firmware sessionData object.
func (r sessionDataRequest) report() (settlement.Report, error) {
	rep := settlement.Report{Counts: r.Counts, WeightsKg: r.WeightsKg}
	if len(r.SessionData) > 0 && string(r.SessionData) != "null" {
		counts, err := parse.SessionData(r.SessionData)
		if err != nil {
			return settlement.Report{}, err
		}
		if rep.Counts == nil {
			rep.Counts = map[string]int{}
		}
		for k, v := range counts {
			if rep.Counts[k] > parse.MaxSessionItems-v {
				return settlement.Report{}, fmt.Errorf("count for %q exceeds %d items", k, parse.MaxSessionItems)
			}
			rep.Counts[k] += v
		}
		rep.Raw = r.SessionData
	}
	return rep, nil
}

func settledResponse(res settlement.Result) gin.H {
	processed := make(map[string]int, len(res.Lines))
	for _, l := range res.Lines {
		processed[l.Category] = l.Quantity
	}
	return gin.H{
		"pointsAwarded":    res.Points,
		"sessionProcessed": true,
		"processed":        processed,
		"records":          len(res.Records),
	}
}

// ReportSession handles POST /api/bins/session-data. The user must hold the bin.
func (h *Handler) ReportSession(c *gin.Context) {
	var req sessionDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rep, err := req.report()
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.ReportSession(c.Request.Context(), req.UserID, req.BinID, rep)
	if err != nil {
		respondError(c, err, false)
		return
	}
	respondOK(c, http.StatusOK, "Session data processed successfully", settledResponse(res))
}
