package leveling

import (
	"math"
	"sort"

	"github.com/sells-group/bidlevel/internal/model"
)

// ComputeStatistics returns descriptive statistics over values. Quartiles use
// linear interpolation at rank (n-1)*p; std is the population deviation.
// With no values every field is nil.
func ComputeStatistics(values []float64) model.GroupStatistics {
	stats := model.GroupStatistics{Count: len(values)}
	if len(values) == 0 {
		return stats
	}

	sorted := sortedCopy(values)
	n := float64(len(sorted))

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / n)

	q1 := Quantile(sorted, 0.25)
	q3 := Quantile(sorted, 0.75)
	iqr := q3 - q1

	stats.Mean = ptr(mean)
	stats.Median = ptr(Quantile(sorted, 0.5))
	stats.Min = ptr(sorted[0])
	stats.Max = ptr(sorted[len(sorted)-1])
	stats.Std = ptr(std)
	stats.Q1 = ptr(q1)
	stats.Q3 = ptr(q3)
	stats.IQR = ptr(iqr)
	return stats
}

// Quantile returns the p-quantile of an ascending slice by linear
// interpolation between closest ranks. sorted must be non-empty.
func Quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := float64(len(sorted)-1) * p
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// PercentileRank is the inverse of Quantile: the fraction in [0,1] at which v
// sits among the ascending values. Ties take the mean of their positions;
// values between two points interpolate linearly. A single point ranks 0.5
// against an equal value. sorted must be non-empty.
func PercentileRank(sorted []float64, v float64) float64 {
	n := len(sorted)
	if v < sorted[0] {
		return 0
	}
	if v > sorted[n-1] {
		return 1
	}
	if n == 1 {
		return 0.5
	}

	first := sort.SearchFloat64s(sorted, v)
	if sorted[first] == v {
		last := first
		for last+1 < n && sorted[last+1] == v {
			last++
		}
		pos := float64(first+last) / 2
		return pos / float64(n-1)
	}

	// sorted[first-1] < v < sorted[first]
	lo := first - 1
	frac := (v - sorted[lo]) / (sorted[first] - sorted[lo])
	return (float64(lo) + frac) / float64(n-1)
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

func ptr[T any](v T) *T {
	return &v
}
