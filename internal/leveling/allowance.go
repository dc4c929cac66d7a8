package leveling

import "github.com/sells-group/bidlevel/internal/model"

// SplitAllowances partitions a group's items by the upstream is_allowance
// flag. Allowance status is never inferred from price or description.
func SplitAllowances(items []model.RawLineItem) (base, allowance []model.RawLineItem) {
	for _, it := range items {
		if it.IsAllowance {
			allowance = append(allowance, it)
		} else {
			base = append(base, it)
		}
	}
	return base, allowance
}

// baseAmounts returns the extended amounts of the base subset.
func baseAmounts(base []model.RawLineItem) []float64 {
	out := make([]float64, len(base))
	for i, it := range base {
		out[i] = it.ExtendedAmount
	}
	return out
}
