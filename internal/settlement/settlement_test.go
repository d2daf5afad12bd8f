package settlement_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recycle-bin-backend/internal/activity"
	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/events"
	"recycle-bin-backend/internal/model"
	"recycle-bin-backend/internal/settlement"
	"recycle-bin-backend/internal/store"
	"recycle-bin-backend/internal/testutil"
)

var unitWeights = map[string]float64{"plastic": 0.5, "tin": 0.3}

func newPipeline(t *testing.T) (*settlement.Pipeline, store.Store, *events.Recorder) {
	t.Helper()
	s := testutil.NewStore(t)
	testutil.SeedPricing(t, s, map[string]float64{"plastic": 50, "tin": 10}, map[string]float64{"aluminum": 1.5})
	rec := &events.Recorder{}
	clock := testutil.NewClock()
	return settlement.NewPipeline(s, activity.NewRecorder(clock.Now), rec, unitWeights, clock.Now), s, rec
}

func TestPoints(t *testing.T) {
	pricing := &model.Pricing{
		ItemsPerPoint: map[string]float64{"plastic": 50, "tin": 10, "broken": 0},
		PricePerKg:    map[string]float64{"aluminum": 1.5, "gold": 1e300},
	}

	testCases := []struct {
		name     string
		category string
		qty      int
		kg       float64
		expected int64
	}{
		{"Ratio exact", "plastic", 100, 0, 2},
		{"Ratio floors", "plastic", 149, 0, 2},
		{"Ratio below one point", "tin", 9, 0, 0},
		{"Weight rounds half up", "aluminum", 0, 3, 5},
		{"Weight rounds down", "aluminum", 0, 2.9, 4},
		{"Unknown category", "rejected", 5, 0, 0},
		{"Zero ratio never divides", "broken", 10, 0, 0},
		{"Huge price saturates", "gold", 0, 1, math.MaxInt64},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, settlement.Points(pricing, tc.category, tc.qty, tc.kg))
		})
	}
}

func TestSettle_PlasticRatio(t *testing.T) {
	ctx := context.Background()
	p, s, rec := newPipeline(t)

	res, err := p.Settle(ctx, "U1", "B001", settlement.Report{Counts: map[string]int{"plastic": 100}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Points)

	records, err := s.ListRecyclingRecords(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 100, records[0].Quantity)
	assert.Equal(t, int64(2), records[0].Points)
	assert.Equal(t, 50.0, records[0].WeightKg, "weight is estimated from the unit weight")

	total, err := s.GetPoints(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []events.Type{events.SessionSettled}, rec.Types())
}

func TestSettle_RejectedStillWritesRecord(t *testing.T) {
	ctx := context.Background()
	p, s, _ := newPipeline(t)

	res, err := p.Settle(ctx, "U1", "B001", settlement.Report{Counts: map[string]int{"rejected": 5}})
	require.NoError(t, err)
	assert.Zero(t, res.Points)

	records, err := s.ListRecyclingRecords(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rejected", records[0].Category)
	assert.Zero(t, records[0].Points)

	total, err := s.GetPoints(ctx, "U1")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSettle_MixedSessionWithAliases(t *testing.T) {
	ctx := context.Background()
	p, s, _ := newPipeline(t)

	res, err := p.Settle(ctx, "U1", "B001", settlement.Report{
		Counts:    map[string]int{"plasticCount": 150, "tin can": 20, "rejectedCount": 0},
		WeightsKg: map[string]float64{"aluminum": 2},
		Raw:       []byte(`{"plasticCount":150,"tinCount":20}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3+2+3), res.Points)
	require.Len(t, res.Lines, 3)
	assert.Equal(t, []string{"aluminum", "plastic", "tin"},
		[]string{res.Lines[0].Category, res.Lines[1].Category, res.Lines[2].Category})

	records, err := s.ListRecyclingRecords(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, records, 3)
	for _, r := range records {
		require.NotNil(t, r.RawPayload)
	}

	entries, err := s.ListActivity(ctx, "B001", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, activity.ActionSessionSettled, entries[0].Action)
}

func TestSettle_Validation(t *testing.T) {
	ctx := context.Background()
	p, s, rec := newPipeline(t)

	testCases := []struct {
		name   string
		user   string
		bin    string
		report settlement.Report
	}{
		{"No user", "", "B001", settlement.Report{Counts: map[string]int{"plastic": 1}}},
		{"No bin", "U1", "", settlement.Report{Counts: map[string]int{"plastic": 1}}},
		{"Only zero counts", "U1", "B001", settlement.Report{Counts: map[string]int{"plastic": 0}}},
		{"Negative count", "U1", "B001", settlement.Report{Counts: map[string]int{"tin": -3}}},
		{"Negative weight", "U1", "B001", settlement.Report{WeightsKg: map[string]float64{"aluminum": -1}}},
		{"Aliases overflow", "U1", "B001", settlement.Report{Counts: map[string]int{"plastic": math.MaxInt, "bottle": 1}}},
		{"Too many items", "U1", "B001", settlement.Report{Counts: map[string]int{"tin": 200000}}},
		{"Too heavy", "U1", "B001", settlement.Report{WeightsKg: map[string]float64{"aluminum": 6000, "Aluminum": 6000}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Settle(ctx, tc.user, tc.bin, tc.report)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	records, err := s.ListRecyclingRecords(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, rec.Types())

	points, err := s.GetPoints(ctx, "U1")
	require.NoError(t, err)
	assert.Zero(t, points)
}

func TestSettle_RejectsOutOfRangePoints(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.SeedPricing(t, s, map[string]float64{"plastic": 0.00001}, map[string]float64{"gold": 1e300})
	p := settlement.NewPipeline(s, nil, nil, unitWeights, nil)

	_, err := p.Settle(ctx, "U1", "B001", settlement.Report{WeightsKg: map[string]float64{"gold": 1}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = p.Settle(ctx, "U1", "B001", settlement.Report{Counts: map[string]int{"plastic": 100000}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	points, err := s.GetPoints(ctx, "U1")
	require.NoError(t, err)
	assert.Zero(t, points)
}

func TestSettle_DefaultPricingWhenUnset(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	p := settlement.NewPipeline(s, nil, nil, unitWeights, nil)

	res, err := p.Settle(ctx, "U1", "B001", settlement.Report{Counts: map[string]int{"tin": 25}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Points)
}

func TestSettle_ConcurrentCreditsDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	p, s, _ := newPipeline(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Settle(ctx, "U1", "B001", settlement.Report{Counts: map[string]int{"tin": 10}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total, err := s.GetPoints(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}
