package leveling

import (
	"math"

	"github.com/sells-group/bidlevel/internal/model"
)

// DefaultThreshold is the IQR multiplier k used when a run does not set one.
const DefaultThreshold = 1.5

// Bounds returns the outlier fences [q1 - k*iqr, q3 + k*iqr].
func Bounds(stats model.GroupStatistics, k float64) (lower, upper float64) {
	return *stats.Q1 - k*(*stats.IQR), *stats.Q3 + k*(*stats.IQR)
}

// SeverityFor grades an excess beyond a fence. The unit is the IQR, or
// max(|median|*1%, 1) when the IQR is zero.
func SeverityFor(excess, iqr, median float64) model.Severity {
	unit := iqr
	if unit == 0 {
		unit = math.Max(math.Abs(median)*0.01, 1)
	}
	switch {
	case excess <= 0.5*unit:
		return model.SeverityMild
	case excess <= 1.5*unit:
		return model.SeverityModerate
	default:
		return model.SeveritySevere
	}
}

// DetectOutlier classifies one base amount against group statistics. stats
// must come from at least two values.
func DetectOutlier(amount float64, stats model.GroupStatistics, k float64) (bool, model.OutlierType, model.Severity) {
	lower, upper := Bounds(stats, k)
	switch {
	case amount < lower:
		return true, model.OutlierLow, SeverityFor(lower-amount, *stats.IQR, *stats.Median)
	case amount > upper:
		return true, model.OutlierHigh, SeverityFor(amount-upper, *stats.IQR, *stats.Median)
	default:
		return false, "", ""
	}
}

// levelGroup turns one item group into its leveled form: statistics over the
// base subset, per-entry deviation and percentile rank, and outlier flags on
// base entries. The second return is non-nil when the group is too small for
// outlier detection; it is informational only.
func levelGroup(g itemGroup, k float64) (model.LevelingLineItemGroup, *InsufficientDataError) {
	base, _ := SplitAllowances(g.items)
	amounts := baseAmounts(base)
	stats := ComputeStatistics(amounts)
	sorted := sortedCopy(amounts)
	detect := len(base) >= 2

	first := g.items[0]
	out := model.LevelingLineItemGroup{
		GroupKey:    g.key.String(),
		Description: first.Description,
		CSICode:     first.CSICode,
		ItemCount:   len(g.items),
		Statistics:  stats,
		Vendors:     make([]model.LevelingVendorEntry, 0, len(g.items)),
	}

	for _, it := range g.items {
		entry := model.LevelingVendorEntry{
			SubmissionID:   it.SubmissionID,
			VendorName:     it.VendorName,
			Quantity:       it.Quantity,
			UnitOfMeasure:  it.UnitOfMeasure,
			UnitPrice:      it.UnitPrice,
			ExtendedAmount: it.ExtendedAmount,
			IsAllowance:    it.IsAllowance,
		}
		if len(sorted) > 0 {
			entry.DeviationFromMedian = ptr(it.ExtendedAmount - *stats.Median)
			entry.PercentileRank = ptr(PercentileRank(sorted, it.ExtendedAmount))
		}
		if detect && !it.IsAllowance {
			if isOut, typ, sev := DetectOutlier(it.ExtendedAmount, stats, k); isOut {
				entry.IsOutlier = true
				entry.OutlierType = ptr(typ)
				entry.OutlierSeverity = ptr(sev)
				out.OutlierCount++
			}
		}
		out.Vendors = append(out.Vendors, entry)
	}
	out.HasOutliers = out.OutlierCount > 0

	if !detect {
		return out, &InsufficientDataError{GroupKey: out.GroupKey, BaseCount: len(base)}
	}
	return out, nil
}
