package analyzer

import (
	"math"
	"sort"
)

// Stats is a describe-style summary of one column. NaNs are skipped.
type Stats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	P25   float64 `json:"p25"`
	P50   float64 `json:"p50"`
	P75   float64 `json:"p75"`
	Max   float64 `json:"max"`
}

func describe(values []float64) Stats {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		nan := math.NaN()
		return Stats{Mean: nan, Std: nan, Min: nan, P25: nan, P50: nan, P75: nan, Max: nan}
	}
	sort.Float64s(clean)
	mean, std := meanStd(clean)
	return Stats{
		Count: len(clean),
		Mean:  mean,
		Std:   std,
		Min:   clean[0],
		P25:   quantile(clean, 0.25),
		P50:   quantile(clean, 0.50),
		P75:   quantile(clean, 0.75),
		Max:   clean[len(clean)-1],
	}
}

// meanStd returns the mean and the sample standard deviation (n-1
// denominator). The deviation is NaN for fewer than two values.
func meanStd(data []float64) (float64, float64) {
	if len(data) == 0 {
		return math.NaN(), math.NaN()
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))
	if len(data) < 2 {
		return mean, math.NaN()
	}
	varianceSum := 0.0
	for _, v := range data {
		varianceSum += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(varianceSum / float64(len(data)-1))
}

// quantile interpolates linearly between the closest ranks of sorted data.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func allEqual(values []float64) bool {
	for _, v := range values[min(1, len(values)):] {
		if v != values[0] {
			return false
		}
	}
	return true
}
