package leveling

import (
	"fmt"
	"math"
	"time"

	"github.com/sells-group/bidlevel/internal/model"
)

// Selection chooses which outlier groups go into a clarification request.
type Selection struct {
	GroupKeys   []string       `json:"group_keys"`   // empty selects every group
	MinSeverity model.Severity `json:"min_severity"` // empty means moderate
}

// BuildClarification converts the selected outlier groups of a snapshot into
// a clarification request. It returns ErrNoOutliersFound, and no request,
// when nothing qualifies.
func BuildClarification(snap *model.LevelingSnapshot, sel Selection, now time.Time) (*model.ClarificationRequest, error) {
	if snap == nil || snap.OutlierSummary.TotalOutliers == 0 {
		return nil, ErrNoOutliersFound
	}

	minRank := sel.MinSeverity.Rank()
	if minRank == 0 {
		minRank = model.SeverityModerate.Rank()
	}
	var wanted map[string]bool
	if len(sel.GroupKeys) > 0 {
		wanted = make(map[string]bool, len(sel.GroupKeys))
		for _, k := range sel.GroupKeys {
			wanted[k] = true
		}
	}

	var flagged []model.FlaggedItem
	for _, g := range snap.Groups {
		if !g.HasOutliers || (wanted != nil && !wanted[g.GroupKey]) {
			continue
		}
		item := model.FlaggedItem{GroupKey: g.GroupKey, Description: g.Description}
		for _, v := range g.Vendors {
			if !v.IsOutlier || v.OutlierSeverity == nil || v.OutlierSeverity.Rank() < minRank {
				continue
			}
			item.Vendors = append(item.Vendors, model.ClarificationVendor{
				SubmissionID: v.SubmissionID,
				VendorName:   v.VendorName,
				Issue:        describeIssue(v, g.Statistics),
				Amount:       v.ExtendedAmount,
			})
		}
		if len(item.Vendors) > 0 {
			flagged = append(flagged, item)
		}
	}
	if len(flagged) == 0 {
		return nil, ErrNoOutliersFound
	}

	target := snap.EventID
	if target == "" {
		target = snap.ID
	}
	return &model.ClarificationRequest{
		TargetID:     target,
		RequestType:  model.RequestTypePricing,
		FlaggedItems: flagged,
		Timestamp:    now.UTC(),
	}, nil
}

// describeIssue renders e.g. "high outlier: 42.0% above group median".
func describeIssue(v model.LevelingVendorEntry, stats model.GroupStatistics) string {
	typ := model.OutlierHigh
	if v.OutlierType != nil {
		typ = *v.OutlierType
	}
	direction := "above"
	if typ == model.OutlierLow {
		direction = "below"
	}

	if stats.Median == nil || *stats.Median == 0 || v.DeviationFromMedian == nil {
		return fmt.Sprintf("%s outlier: not computable %s group median", typ, direction)
	}
	pct := math.Abs(*v.DeviationFromMedian / *stats.Median * 100)
	return fmt.Sprintf("%s outlier: %.1f%% %s group median", typ, pct, direction)
}
