package stats

import (
	"math"
	"sort"
)

// Percentiles calculates multiple percentiles (0-100) at once.
// Uses linear interpolation between closest ranks.
func Percentiles(values []float64, ps []float64) []float64 {
	results := make([]float64, len(ps))
	if len(values) == 0 {
		return results
	}

	// Sort once for efficiency
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	for i, p := range ps {
		p = math.Max(0, math.Min(100, p))
		index := p / 100.0 * (n - 1)
		lower := int(math.Floor(index))
		upper := int(math.Ceil(index))

		if lower == upper {
			results[i] = sorted[lower]
		} else {
			weight := index - float64(lower)
			results[i] = sorted[lower]*(1-weight) + sorted[upper]*weight
		}
	}
	return results
}

// Summary describes a sample distribution.
type Summary struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

// Summarize computes the percentile summary of values.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	ps := Percentiles(values, []float64{50, 95, 99, 100})
	return Summary{Count: len(values), P50: ps[0], P95: ps[1], P99: ps[2], Max: ps[3]}
}
