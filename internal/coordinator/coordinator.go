// Package coordinator exposes the boundary operations of the bin relay: the
// calls mobile clients and bin controllers make.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/device"
	"recycle-bin-backend/internal/heartbeat"
	"recycle-bin-backend/internal/lease"
	"recycle-bin-backend/internal/mailbox"
	"recycle-bin-backend/internal/model"
	"recycle-bin-backend/internal/parse"
	"recycle-bin-backend/internal/settlement"
	"recycle-bin-backend/internal/store"
)

// Availability is the bin state as seen by one user.
type Availability string

const (
	Available   Availability = "available"
	Occupied    Availability = "occupied"
	ActiveByYou Availability = "active_by_you"
)

// BinStatus answers checkStatus.
type BinStatus struct {
	BinID              string       `json:"binId"`
	Name               string       `json:"name"`
	Availability       Availability `json:"availability"`
	Online             bool         `json:"isOnline"`
	DeviceStatus       string       `json:"deviceStatus,omitempty"`
	LastHeartbeat      *time.Time   `json:"lastHeartbeat,omitempty"`
	Comp1Capacity      *float64     `json:"comp1Capacity,omitempty"`
	Comp2Capacity      *float64     `json:"comp2Capacity,omitempty"`
	LastCapacityUpdate *time.Time   `json:"lastCapacityUpdate,omitempty"`
	Lat                *float64     `json:"lat,omitempty"`
	Lng                *float64     `json:"lng,omitempty"`
}

// Service wires the coordinator components together.
type Service struct {
	store      store.Store
	verifier   *device.Verifier
	telemetry  *device.Telemetry
	heartbeats *heartbeat.Tracker
	mailbox    *mailbox.Mailbox
	leases     *lease.Manager
	settlement *settlement.Pipeline
}

// Deps lists the Service's collaborators.
type Deps struct {
	Store      store.Store
	Verifier   *device.Verifier
	Telemetry  *device.Telemetry
	Heartbeats *heartbeat.Tracker
	Mailbox    *mailbox.Mailbox
	Leases     *lease.Manager
	Settlement *settlement.Pipeline
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	return &Service{
		store:      d.Store,
		verifier:   d.Verifier,
		telemetry:  d.Telemetry,
		heartbeats: d.Heartbeats,
		mailbox:    d.Mailbox,
		leases:     d.Leases,
		settlement: d.Settlement,
	}
}

// --- User operations ---

// Activate asks for exclusive use of binID.
func (s *Service) Activate(ctx context.Context, binID, userID string) (lease.AcquireResult, error) {
	return s.leases.Acquire(ctx, strings.TrimSpace(binID), strings.TrimSpace(userID))
}

// ScanQR activates the bin named by a scanned activation code.
func (s *Service) ScanQR(ctx context.Context, qrData, userID string) (lease.AcquireResult, error) {
	binID, err := parse.ParseQR(qrData)
	if err != nil {
		return lease.AcquireResult{}, apperr.Validation("%v", err)
	}
	return s.Activate(ctx, binID, userID)
}

// Deactivate releases userID's lease on binID.
func (s *Service) Deactivate(ctx context.Context, binID, userID string) (lease.ReleaseResult, error) {
	return s.leases.Release(ctx, strings.TrimSpace(binID), strings.TrimSpace(userID))
}

// CheckStatus reports availability of binID relative to userID, which may be
// empty for anonymous callers.
func (s *Service) CheckStatus(ctx context.Context, binID, userID string) (BinStatus, error) {
	if strings.TrimSpace(binID) == "" {
		return BinStatus{}, apperr.Validation("binId is required")
	}
	bin, err := s.store.GetBin(ctx, binID)
	if err != nil {
		return BinStatus{}, err
	}

	st := BinStatus{
		BinID:              bin.ID,
		Name:               bin.DisplayName(),
		Availability:       availability(bin, userID),
		Online:             s.heartbeats.IsOnline(bin),
		DeviceStatus:       bin.DeviceStatus,
		LastHeartbeat:      bin.LastHeartbeat,
		Comp1Capacity:      bin.Comp1Capacity,
		Comp2Capacity:      bin.Comp2Capacity,
		LastCapacityUpdate: bin.LastCapacityUpdate,
		Lat:                bin.Lat,
		Lng:                bin.Lng,
	}
	return st, nil
}

func availability(bin *model.Bin, userID string) Availability {
	switch {
	case bin.State != model.LeaseActive:
		return Available
	case userID != "" && bin.HolderID() == userID:
		return ActiveByYou
	default:
		return Occupied
	}
}

// ReportSession settles a session reported by the holder of binID.
func (s *Service) ReportSession(ctx context.Context, userID, binID string, report settlement.Report) (settlement.Result, error) {
	if err := requireUser(userID); err != nil {
		return settlement.Result{}, err
	}
	if strings.TrimSpace(binID) == "" {
		return settlement.Result{}, apperr.Validation("binId is required")
	}
	held, err := s.leases.Holds(ctx, binID, userID)
	if err != nil {
		return settlement.Result{}, err
	}
	if !held {
		return settlement.Result{}, fmt.Errorf("%w: user %s does not hold bin %s", apperr.ErrUnauthorized, userID, binID)
	}
	return s.settlement.Settle(ctx, userID, binID, report)
}

// Points returns the user's balance.
func (s *Service) Points(ctx context.Context, userID string) (int64, error) {
	if err := requireUser(userID); err != nil {
		return 0, err
	}
	return s.store.GetPoints(ctx, userID)
}

// --- Device operations ---

// Heartbeat records a liveness signal and returns the resolved bin id.
func (s *Service) Heartbeat(ctx context.Context, credential, status string) (string, error) {
	binID, err := s.verifier.Resolve(ctx, credential)
	if err != nil {
		return "", err
	}
	if _, err := s.heartbeats.RecordHeartbeat(ctx, binID, status); err != nil {
		return "", deviceErr(err)
	}
	return binID, nil
}

// Announce sets the explicit online marker for the device's bin.
func (s *Service) Announce(ctx context.Context, credential string) (string, error) {
	binID, err := s.verifier.Resolve(ctx, credential)
	if err != nil {
		return "", err
	}
	if err := s.heartbeats.Announce(ctx, binID); err != nil {
		return "", deviceErr(err)
	}
	return binID, nil
}

// PollCommand drains the device's mailbox.
func (s *Service) PollCommand(ctx context.Context, credential string) (string, bool, error) {
	binID, err := s.verifier.Resolve(ctx, credential)
	if err != nil {
		return "", false, err
	}
	cmd, ok, err := s.mailbox.Drain(ctx, binID)
	if err != nil {
		return "", false, deviceErr(err)
	}
	return cmd, ok, nil
}

// UpdateCapacity stores compartment fill levels for the device's bin.
func (s *Service) UpdateCapacity(ctx context.Context, credential string, comp1, comp2 *float64) error {
	binID, err := s.verifier.Resolve(ctx, credential)
	if err != nil {
		return err
	}
	return deviceErr(s.telemetry.UpdateCapacity(ctx, binID, comp1, comp2))
}

// UpdateLocation stores coordinates for the device's bin.
func (s *Service) UpdateLocation(ctx context.Context, credential string, lat, lng float64) error {
	binID, err := s.verifier.Resolve(ctx, credential)
	if err != nil {
		return err
	}
	return deviceErr(s.telemetry.UpdateLocation(ctx, binID, lat, lng))
}

// DeactivateByDevice releases the lease on the device's bin.
func (s *Service) DeactivateByDevice(ctx context.Context, credential string) (lease.ReleaseResult, error) {
	binID, err := s.verifier.Resolve(ctx, credential)
	if err != nil {
		return lease.ReleaseResult{}, err
	}
	res, err := s.leases.ReleaseByDevice(ctx, binID)
	return res, deviceErr(err)
}

// ReportDeviceSession settles a session reported by the bin itself. The
// device usually reports after the lease was released, so userID must be
// the holder of the bin's most recent session.
func (s *Service) ReportDeviceSession(ctx context.Context, credential, userID string, report settlement.Report) (settlement.Result, error) {
	binID, err := s.verifier.Resolve(ctx, credential)
	if err != nil {
		return settlement.Result{}, err
	}
	if err := requireUser(userID); err != nil {
		return settlement.Result{}, err
	}

	session, err := s.store.LatestSession(ctx, binID)
	if err != nil {
		return settlement.Result{}, deviceErr(err)
	}
	if session.UserID != userID {
		return settlement.Result{}, fmt.Errorf("%w: user %s has no session on this bin", apperr.ErrUnauthorized, userID)
	}
	res, err := s.settlement.Settle(ctx, userID, binID, report)
	return res, deviceErr(err)
}

// deviceErr hides not-found results on credential-authenticated paths.
func deviceErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	return err
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.Validation("userId is required")
	}
	return nil
}
