// Package settlement converts a finished recycling session into points.
package settlement

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"recycle-bin-backend/internal/activity"
	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/events"
	"recycle-bin-backend/internal/model"
	"recycle-bin-backend/internal/parse"
	"recycle-bin-backend/internal/store"
)

// MaxSessionWeightKg bounds the weight of one category in a single session.
const MaxSessionWeightKg = 10000.0

// maxSessionPoints bounds the points one settlement may award.
const maxSessionPoints int64 = 1_000_000_000

// Report is what a session produced. Counts and WeightsKg are keyed by
// material name in any spelling parse.Material understands.
type Report struct {
	Counts    map[string]int
	WeightsKg map[string]float64
	Raw       []byte
}

// Line is the priced outcome of one category.
type Line struct {
	Category string
	Quantity int
	WeightKg float64
	Points   int64
}

// Result is returned by Settle.
type Result struct {
	Points  int64
	Lines   []Line
	Records []model.RecyclingRecord
}

// Pipeline prices reports, credits balances and writes recycling records.
// It does not check who holds the bin; callers authorize first.
type Pipeline struct {
	store       store.Store
	recorder    *activity.Recorder
	publisher   events.Publisher
	unitWeights map[string]float64
	now         func() time.Time
}

// NewPipeline creates a Pipeline. unitWeights estimates kilograms per item
// for reports that carry counts only.
func NewPipeline(s store.Store, recorder *activity.Recorder, publisher events.Publisher, unitWeights map[string]float64, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	if recorder == nil {
		recorder = activity.NewRecorder(now)
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Pipeline{store: s, recorder: recorder, publisher: publisher, unitWeights: unitWeights, now: now}
}

// Settle prices the report, credits userID and writes one record per
// category with a non-zero count or weight.
func (p *Pipeline) Settle(ctx context.Context, userID, binID string, report Report) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, apperr.Validation("userId is required")
	}
	if strings.TrimSpace(binID) == "" {
		return Result{}, apperr.Validation("binId is required")
	}

	counts, err := parse.NormalizeCounts(report.Counts)
	if err != nil {
		return Result{}, apperr.Validation("%v", err)
	}
	weights := make(map[string]float64, len(report.WeightsKg))
	for name, kg := range report.WeightsKg {
		if kg < 0 || math.IsNaN(kg) || math.IsInf(kg, 0) {
			return Result{}, apperr.Validation("invalid weight %v for %q", kg, name)
		}
		if kg > 0 {
			m := parse.Material(name)
			weights[m] += kg
			if weights[m] > MaxSessionWeightKg {
				return Result{}, apperr.Validation("weight for %q exceeds %v kg", m, MaxSessionWeightKg)
			}
		}
	}
	if len(counts) == 0 && len(weights) == 0 {
		return Result{}, apperr.Validation("session reported no materials")
	}

	pricing, err := p.pricing(ctx)
	if err != nil {
		return Result{}, err
	}

	lines := Price(pricing, counts, weights, p.unitWeights)
	var total int64
	for _, l := range lines {
		if l.Points < 0 || l.Points > maxSessionPoints || total > maxSessionPoints-l.Points {
			return Result{}, apperr.Validation("points for %q out of range", l.Category)
		}
		total += l.Points
	}

	now := p.now().UTC()
	var raw *string
	if len(report.Raw) > 0 {
		s := string(report.Raw)
		raw = &s
	}
	records := make([]model.RecyclingRecord, 0, len(lines))
	items := 0
	for _, l := range lines {
		records = append(records, model.RecyclingRecord{
			ID:         uuid.NewString(),
			UserID:     userID,
			BinID:      binID,
			Category:   l.Category,
			Quantity:   l.Quantity,
			WeightKg:   l.WeightKg,
			Points:     l.Points,
			RawPayload: raw,
			CreatedAt:  now,
		})
		items += l.Quantity
	}

	err = p.store.Transaction(ctx, func(tx store.Store) error {
		if total > 0 {
			if err := tx.IncrementPoints(ctx, userID, total); err != nil {
				return err
			}
		}
		if err := tx.CreateRecyclingRecords(ctx, records); err != nil {
			return err
		}
		return p.recorder.Settled(ctx, tx, binID, userID, total, items)
	})
	if err != nil {
		return Result{}, fmt.Errorf("settle session for %s on bin %s: %w", userID, binID, err)
	}

	events.Emit(p.publisher, events.Event{
		Type:      events.SessionSettled,
		BinID:     binID,
		UserID:    userID,
		Points:    total,
		Timestamp: now,
	})
	return Result{Points: total, Lines: lines, Records: records}, nil
}

func (p *Pipeline) pricing(ctx context.Context) (*model.Pricing, error) {
	pricing, err := p.store.GetPricing(ctx)
	if apperr.IsNotFound(err) {
		log.Printf("No pricing configured, using defaults")
		def := model.DefaultPricing()
		return &def, nil
	}
	return pricing, err
}

// Price computes one line per category, sorted by category name.
func Price(pricing *model.Pricing, counts map[string]int, weights, unitWeights map[string]float64) []Line {
	categories := make(map[string]struct{}, len(counts)+len(weights))
	for c := range counts {
		categories[c] = struct{}{}
	}
	for c := range weights {
		categories[c] = struct{}{}
	}

	lines := make([]Line, 0, len(categories))
	for c := range categories {
		qty := counts[c]
		kg, reported := weights[c]
		if !reported {
			kg = float64(qty) * unitWeights[c]
		}
		lines = append(lines, Line{
			Category: c,
			Quantity: qty,
			WeightKg: kg,
			Points:   Points(pricing, c, qty, kg),
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Category < lines[j].Category })
	return lines
}

// Points prices a single category. Ratio categories award one point per
// full ratio of items, weight categories award the rounded kilogram price,
// anything else awards nothing.
func Points(pricing *model.Pricing, category string, quantity int, weightKg float64) int64 {
	if pricing == nil {
		return 0
	}
	if ratio, ok := pricing.ItemsPerPoint[category]; ok {
		if ratio <= 0 {
			return 0
		}
		return toPoints(math.Floor(float64(quantity) / ratio))
	}
	if price, ok := pricing.PricePerKg[category]; ok {
		return toPoints(math.Round(price * weightKg))
	}
	return 0
}

// toPoints converts a priced amount, saturating instead of wrapping.
func toPoints(v float64) int64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	default:
		return int64(v)
	}
}
