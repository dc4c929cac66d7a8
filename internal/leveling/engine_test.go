package leveling

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bidlevel/internal/model"
)

func item(sub string, line int, desc string, amount float64, allowance bool) model.RawLineItem {
	return model.RawLineItem{
		SubmissionID:   sub,
		VendorName:     "Vendor " + sub,
		Description:    desc,
		Quantity:       1,
		UnitOfMeasure:  "LS",
		UnitPrice:      amount,
		ExtendedAmount: amount,
		IsAllowance:    allowance,
		LineNumber:     line,
	}
}

func fixedOptions() Options {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Options{
		EventID: "evt-1",
		Now:     func() time.Time { return at },
		NewID:   func() string { return "snap-fixed" },
	}
}

func findGroup(t *testing.T, snap *model.LevelingSnapshot, key string) model.LevelingLineItemGroup {
	t.Helper()
	for _, g := range snap.Groups {
		if g.GroupKey == key {
			return g
		}
	}
	t.Fatalf("group %q not found", key)
	return model.LevelingLineItemGroup{}
}

func TestAnalyze_HighSevereOutlier(t *testing.T) {
	t.Parallel()
	var items []model.RawLineItem
	for i, amt := range []float64{100, 102, 98, 101, 500} {
		items = append(items, item(fmt.Sprintf("s%d", i), 1, "Rough Carpentry", amt, false))
	}

	snap, err := Analyze(context.Background(), items, fixedOptions())
	require.NoError(t, err)

	g := findGroup(t, snap, "rough carpentry")
	assert.InDelta(t, 100, *g.Statistics.Q1, 1e-9)
	assert.InDelta(t, 102, *g.Statistics.Q3, 1e-9)
	assert.InDelta(t, 2, *g.Statistics.IQR, 1e-9)
	assert.True(t, g.HasOutliers)
	assert.Equal(t, 1, g.OutlierCount)

	for _, v := range g.Vendors {
		if v.ExtendedAmount == 500 {
			require.True(t, v.IsOutlier)
			assert.Equal(t, model.OutlierHigh, *v.OutlierType)
			assert.Equal(t, model.SeveritySevere, *v.OutlierSeverity)
			assert.InDelta(t, 399, *v.DeviationFromMedian, 1e-9)
			assert.InDelta(t, 1, *v.PercentileRank, 1e-9)
		} else {
			assert.False(t, v.IsOutlier, "amount %v", v.ExtendedAmount)
		}
	}

	assert.Equal(t, 1, snap.OutlierSummary.TotalOutliers)
	assert.Equal(t, map[string]int{"rough carpentry": 1}, snap.OutlierSummary.OutliersByGroup)
	assert.Equal(t, model.SeverityLevels{Severe: 1}, snap.OutlierSummary.SeverityLevels)
	assert.InDelta(t, 20, snap.SummaryStats.OutlierPercentage, 1e-9)
}

func TestAnalyze_SingleBaseWithAllowances(t *testing.T) {
	t.Parallel()
	items := []model.RawLineItem{
		item("a", 1, "Landscaping", 1_000, false),
		item("b", 1, "Landscaping", 50, true),
		item("c", 1, "Landscaping", 60, true),
		item("d", 1, "Landscaping", 70, true),
	}

	snap, err := Analyze(context.Background(), items, fixedOptions())
	require.NoError(t, err)

	g := findGroup(t, snap, "landscaping")
	assert.False(t, g.HasOutliers)
	assert.Equal(t, 0, g.OutlierCount)
	assert.Equal(t, 4, g.ItemCount)
	assert.Equal(t, 1, g.Statistics.Count)
	assert.InDelta(t, 1_000, *g.Statistics.Mean, 1e-9)
	assert.InDelta(t, 1_000, *g.Statistics.Median, 1e-9)
	assert.InDelta(t, 0, *g.Statistics.Std, 1e-9)
	assert.InDelta(t, 0, *g.Statistics.IQR, 1e-9)
}

func TestAnalyze_VendorTotals(t *testing.T) {
	t.Parallel()
	items := []model.RawLineItem{
		item("A", 1, "Concrete", 1_000, false),
		item("A", 2, "Testing Allowance", 200, true),
		item("B", 1, "Concrete", 1_100, false),
	}

	snap, err := Analyze(context.Background(), items, fixedOptions())
	require.NoError(t, err)

	require.Len(t, snap.VendorBaseBids, 2)
	a, b := snap.VendorBaseBids[0], snap.VendorBaseBids[1]
	assert.Equal(t, "A", a.SubmissionID)
	assert.InDelta(t, 1_000, a.BaseTotal, 1e-9)
	assert.InDelta(t, 200, a.AllowanceTotal, 1e-9)
	assert.InDelta(t, 800, a.AdjustedTotal, 1e-9)
	assert.Equal(t, 2, a.GroupCount)

	assert.Equal(t, "B", b.SubmissionID)
	assert.InDelta(t, 1_100, b.BaseTotal, 1e-9)
	assert.InDelta(t, 0, b.AllowanceTotal, 1e-9)
	assert.InDelta(t, 1_100, b.AdjustedTotal, 1e-9)
	assert.Equal(t, 1, b.GroupCount)

	assert.Equal(t, 2, snap.TotalSubmissions)
	assert.Equal(t, 2, snap.SummaryStats.VendorCount)
	require.NotNil(t, snap.SummaryStats.BaseBidStatistics.Mean)
	assert.InDelta(t, 1_050, *snap.SummaryStats.BaseBidStatistics.Mean, 1e-9)
}

func TestAnalyze_RejectsEmptyItem(t *testing.T) {
	t.Parallel()
	items := []model.RawLineItem{
		item("a", 1, "Drywall", 500, false),
		item("a", 2, "", 75, false),
		item("b", 1, "Drywall", 520, false),
	}

	snap, err := Analyze(context.Background(), items, fixedOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, snap.TotalLineItems)
	assert.Equal(t, 2, snap.SummaryStats.TotalLineItems)
	assert.Equal(t, 1, snap.SummaryStats.RejectedLineItems)
	require.Len(t, snap.SummaryStats.Rejections, 1)
	assert.Equal(t, model.Rejection{
		SubmissionID: "a", LineNumber: 2, Reason: "csi_code and description are both empty",
	}, snap.SummaryStats.Rejections[0])
}

func TestAnalyze_EmptyInput(t *testing.T) {
	t.Parallel()
	snap, err := Analyze(context.Background(), nil, fixedOptions())
	require.NoError(t, err)
	assert.Empty(t, snap.Groups)
	assert.Equal(t, 0, snap.TotalSubmissions)
	assert.Equal(t, 0.0, snap.SummaryStats.OutlierPercentage)
	assert.Equal(t, 0.0, snap.SummaryStats.AverageItemsPerGroup)
	assert.Nil(t, snap.SummaryStats.BaseBidStatistics.Mean)
}

func TestAnalyze_Metadata(t *testing.T) {
	t.Parallel()
	opts := fixedOptions()
	opts.Threshold = 2
	snap, err := Analyze(context.Background(), []model.RawLineItem{item("a", 1, "x", 1, false)}, opts)
	require.NoError(t, err)
	assert.Equal(t, "snap-fixed", snap.ID)
	assert.Equal(t, "evt-1", snap.EventID)
	assert.Equal(t, 2.0, snap.OutlierThreshold)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), snap.AnalysisDate)
}

func TestAnalyze_DefaultsAssignFreshIDs(t *testing.T) {
	t.Parallel()
	items := []model.RawLineItem{item("a", 1, "x", 1, false)}
	s1, err := Analyze(context.Background(), items, Options{})
	require.NoError(t, err)
	s2, err := Analyze(context.Background(), items, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, DefaultThreshold, s1.OutlierThreshold)
}

func TestAnalyze_InvalidThreshold(t *testing.T) {
	t.Parallel()
	_, err := Analyze(context.Background(), nil, Options{Threshold: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outlier threshold")
}

func TestAnalyze_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, err := Analyze(ctx, []model.RawLineItem{item("a", 1, "x", 1, false)}, fixedOptions())
	require.Error(t, err)
	assert.Nil(t, snap)
}

func TestAnalyze_GroupsSortedByKey(t *testing.T) {
	t.Parallel()
	items := []model.RawLineItem{
		item("a", 1, "Zinc Flashing", 1, false),
		item("a", 2, "Asphalt", 1, false),
		item("a", 3, "Mortar", 1, false),
	}
	snap, err := Analyze(context.Background(), items, fixedOptions())
	require.NoError(t, err)
	var keys []string
	for _, g := range snap.Groups {
		keys = append(keys, g.GroupKey)
	}
	assert.Equal(t, []string{"asphalt", "mortar", "zinc flashing"}, keys)
}

// randomEvent builds a reproducible event with several vendors, shared
// groups, allowances and the odd invalid line.
func randomEvent(r *rand.Rand) []model.RawLineItem {
	descs := []string{"Concrete", "Rebar", "Paint", "Drywall", "Roofing", "Electrical Rough-In", "Plumbing Fixtures"}
	var items []model.RawLineItem
	vendors := 2 + r.IntN(6)
	for v := 0; v < vendors; v++ {
		sub := fmt.Sprintf("sub-%02d", v)
		line := 1
		for _, d := range descs {
			if r.Float64() < 0.2 {
				continue
			}
			amt := 1_000 + r.NormFloat64()*150
			if r.Float64() < 0.1 {
				amt *= 4
			}
			items = append(items, item(sub, line, d, amt, r.Float64() < 0.15))
			line++
		}
		if r.Float64() < 0.3 {
			items = append(items, item(sub, line, "", 10, false))
		}
	}
	return items
}

func TestAnalyze_Properties(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(42, 99))

	for run := 0; run < 50; run++ {
		items := randomEvent(r)
		k := []float64{1.0, 1.5, 3.0}[run%3]
		opts := fixedOptions()
		opts.Threshold = k

		snap, err := Analyze(context.Background(), items, opts)
		require.NoError(t, err)

		rawBySub := make(map[string]float64)
		for _, it := range items {
			if _, err := ValidateItem(it); err == nil {
				rawBySub[it.SubmissionID] += it.ExtendedAmount
			}
		}
		for _, bid := range snap.VendorBaseBids {
			assert.InDelta(t, rawBySub[bid.SubmissionID], bid.BaseTotal+bid.AllowanceTotal, 1e-6)
			assert.InDelta(t, bid.BaseTotal-bid.AllowanceTotal, bid.AdjustedTotal, 1e-9)
		}
		assert.Len(t, snap.VendorBaseBids, len(rawBySub))

		for _, g := range snap.Groups {
			assert.Equal(t, len(g.Vendors), g.ItemCount)
			outliers := 0
			for _, v := range g.Vendors {
				if v.IsOutlier {
					outliers++
					lower, upper := Bounds(g.Statistics, k)
					assert.True(t, v.ExtendedAmount < lower || v.ExtendedAmount > upper)
					assert.False(t, v.IsAllowance)
				}
				if v.PercentileRank != nil {
					assert.GreaterOrEqual(t, *v.PercentileRank, 0.0)
					assert.LessOrEqual(t, *v.PercentileRank, 1.0)
				}
			}
			assert.Equal(t, outliers, g.OutlierCount)
			assert.Equal(t, outliers > 0, g.HasOutliers)

			if g.Statistics.Count >= 2 {
				s := g.Statistics
				assert.LessOrEqual(t, *s.Min, *s.Median)
				assert.LessOrEqual(t, *s.Median, *s.Max)
				assert.LessOrEqual(t, *s.Q1, *s.Median)
				assert.LessOrEqual(t, *s.Median, *s.Q3)
			}
		}
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(3, 5))
	items := randomEvent(r)

	shuffled := make([]model.RawLineItem, len(items))
	copy(shuffled, items)
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	first, err := Analyze(context.Background(), items, Options{EventID: "evt"})
	require.NoError(t, err)
	second, err := Analyze(context.Background(), shuffled, Options{EventID: "evt", Parallelism: 1})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	if diff := cmp.Diff(first.Groups, second.Groups); diff != "" {
		t.Errorf("groups differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.VendorBaseBids, second.VendorBaseBids); diff != "" {
		t.Errorf("vendor totals differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.SummaryStats, second.SummaryStats); diff != "" {
		t.Errorf("summary differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.OutlierSummary, second.OutlierSummary); diff != "" {
		t.Errorf("outlier summary differs (-first +second):\n%s", diff)
	}
}
