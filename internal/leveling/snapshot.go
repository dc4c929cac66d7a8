package leveling

import (
	"github.com/sells-group/bidlevel/internal/model"
)

// Summarize derives the portfolio summary and the outlier summary from leveled
// groups and vendor totals.
func Summarize(groups []model.LevelingLineItemGroup, bids []model.VendorBaseBid, rejections []model.Rejection) (model.SummaryStats, model.OutlierSummary) {
	summary := model.SummaryStats{
		VendorCount:       len(bids),
		RejectedLineItems: len(rejections),
		Rejections:        rejections,
	}
	outliers := model.OutlierSummary{OutliersByGroup: make(map[string]int)}

	for _, g := range groups {
		summary.TotalLineItems += g.ItemCount
		if g.HasOutliers {
			summary.TotalOutlierGroups++
		}
		summary.TotalOutliers += g.OutlierCount
		if g.OutlierCount > 0 {
			outliers.OutliersByGroup[g.GroupKey] = g.OutlierCount
		}
		for _, v := range g.Vendors {
			if !v.IsOutlier || v.OutlierSeverity == nil {
				continue
			}
			switch *v.OutlierSeverity {
			case model.SeverityMild:
				outliers.SeverityLevels.Mild++
			case model.SeverityModerate:
				outliers.SeverityLevels.Moderate++
			case model.SeveritySevere:
				outliers.SeverityLevels.Severe++
			}
		}
	}
	outliers.TotalOutliers = summary.TotalOutliers

	if summary.TotalLineItems > 0 {
		summary.OutlierPercentage = float64(summary.TotalOutliers) / float64(summary.TotalLineItems) * 100
	}
	if len(groups) > 0 {
		summary.AverageItemsPerGroup = float64(summary.TotalLineItems) / float64(len(groups))
	}

	baseTotals := make([]float64, len(bids))
	for i, b := range bids {
		baseTotals[i] = b.BaseTotal
	}
	summary.BaseBidStatistics = ComputeStatistics(baseTotals)

	return summary, outliers
}
