package leveling

import (
	"sort"

	"github.com/sells-group/bidlevel/internal/model"
)

// VendorTotals computes each submission's base, allowance and adjusted totals
// in one pass over every group's vendor entries. A submission's GroupCount is
// the number of distinct groups it appears in.
func VendorTotals(groups []model.LevelingLineItemGroup) []model.VendorBaseBid {
	bids := make(map[string]*model.VendorBaseBid)
	seen := make(map[string]map[string]struct{})

	for _, g := range groups {
		for _, v := range g.Vendors {
			bid, ok := bids[v.SubmissionID]
			if !ok {
				bid = &model.VendorBaseBid{SubmissionID: v.SubmissionID, VendorName: v.VendorName}
				bids[v.SubmissionID] = bid
				seen[v.SubmissionID] = make(map[string]struct{})
			}
			if v.IsAllowance {
				bid.AllowanceTotal += v.ExtendedAmount
			} else {
				bid.BaseTotal += v.ExtendedAmount
			}
			seen[v.SubmissionID][g.GroupKey] = struct{}{}
		}
	}

	out := make([]model.VendorBaseBid, 0, len(bids))
	for id, bid := range bids {
		bid.AdjustedTotal = bid.BaseTotal - bid.AllowanceTotal
		bid.GroupCount = len(seen[id])
		out = append(out, *bid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmissionID < out[j].SubmissionID })
	return out
}
