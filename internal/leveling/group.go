package leveling

import (
	"sort"

	"github.com/sells-group/bidlevel/internal/model"
)

// itemGroup is the grouper's output for one key: the contributing items in
// (submission_id, line_number) order.
type itemGroup struct {
	key   GroupKey
	items []model.RawLineItem
}

// groupItems buckets validated items by exact group key. The result does not
// depend on input order: groups are sorted by key string and items within a
// group by submission and line number.
func groupItems(valid []validItem) []itemGroup {
	byKey := make(map[string]*itemGroup)
	for _, v := range valid {
		k := v.key.String()
		g, ok := byKey[k]
		if !ok {
			g = &itemGroup{key: v.key}
			byKey[k] = g
		}
		g.items = append(g.items, v.item)
	}

	groups := make([]itemGroup, 0, len(byKey))
	for _, g := range byKey {
		sort.SliceStable(g.items, func(i, j int) bool {
			return itemLess(g.items[i], g.items[j])
		})
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].key.String() < groups[j].key.String()
	})
	return groups
}

// itemLess orders items deterministically, falling back to content so that
// duplicates with equal positions still sort the same way every run.
func itemLess(a, b model.RawLineItem) bool {
	if a.SubmissionID != b.SubmissionID {
		return a.SubmissionID < b.SubmissionID
	}
	if a.LineNumber != b.LineNumber {
		return a.LineNumber < b.LineNumber
	}
	if a.ExtendedAmount != b.ExtendedAmount {
		return a.ExtendedAmount < b.ExtendedAmount
	}
	if a.IsAllowance != b.IsAllowance {
		return !a.IsAllowance
	}
	return a.Description < b.Description
}

// GroupLineItems exposes the grouper: it validates items and returns the
// contributing items per group key string, plus the rejections.
func GroupLineItems(items []model.RawLineItem) (map[string][]model.RawLineItem, []model.Rejection) {
	valid, rejections := validate(items)
	sortRejections(rejections)
	out := make(map[string][]model.RawLineItem)
	for _, g := range groupItems(valid) {
		out[g.key.String()] = g.items
	}
	return out, rejections
}
