package monitor

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DriftMethod selects one of spec.md §4.8.2's four drift statistics.
type DriftMethod string

const (
	MethodPSI         DriftMethod = "psi"
	MethodKS          DriftMethod = "ks"
	MethodChiSquare   DriftMethod = "chi_square"
	MethodWasserstein DriftMethod = "wasserstein"
)

const psiBins = 10

// numericDrift scores drift between two numeric windows under the chosen
// method. PSI and KS are computed by hand; Wasserstein uses gonum/stat's
// Quantile.
func numericDrift(method DriftMethod, reference, current []float64) float64 {
	if len(reference) == 0 || len(current) == 0 {
		return 0
	}
	switch method {
	case MethodKS:
		return ksStatistic(reference, current)
	case MethodWasserstein:
		return wasserstein1D(reference, current)
	default:
		return psi(reference, current)
	}
}

// psi computes the population-stability index over a 10-bin histogram
// spanning the combined numeric range.
func psi(reference, current []float64) float64 {
	lo, hi := rangeOf(reference, current)
	if hi <= lo {
		return 0
	}
	refHist := histogram(reference, lo, hi, psiBins)
	curHist := histogram(current, lo, hi, psiBins)

	var score float64
	for i := 0; i < psiBins; i++ {
		p := refHist[i]
		q := curHist[i]
		// Laplace smoothing avoids log(0) for empty bins.
		if p == 0 {
			p = 1e-4
		}
		if q == 0 {
			q = 1e-4
		}
		score += (p - q) * math.Log(p/q)
	}
	return score
}

func histogram(values []float64, lo, hi float64, bins int) []float64 {
	counts := make([]float64, bins)
	width := (hi - lo) / float64(bins)
	for _, v := range values {
		idx := int((v - lo) / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	total := float64(len(values))
	for i := range counts {
		counts[i] /= total
	}
	return counts
}

func rangeOf(a, b []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range a {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	for _, v := range b {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// ksStatistic is the two-sample Kolmogorov-Smirnov max-CDF-distance.
func ksStatistic(reference, current []float64) float64 {
	ref := sortedCopy(reference)
	cur := sortedCopy(current)
	points := append(sortedCopy(ref), cur...)
	sort.Float64s(points)

	var maxDist float64
	for _, x := range points {
		cdfRef := empiricalCDF(ref, x)
		cdfCur := empiricalCDF(cur, x)
		if d := math.Abs(cdfRef - cdfCur); d > maxDist {
			maxDist = d
		}
	}
	return maxDist
}

func empiricalCDF(sorted []float64, x float64) float64 {
	idx := sort.SearchFloat64s(sorted, x+1e-12)
	return float64(idx) / float64(len(sorted))
}

// wasserstein1D approximates the 1-D Wasserstein (earth-mover) distance by
// comparing quantile functions at evenly spaced probability points.
func wasserstein1D(reference, current []float64) float64 {
	ref := sortedCopy(reference)
	cur := sortedCopy(current)
	const steps = 100
	var sum float64
	for i := 1; i < steps; i++ {
		p := float64(i) / float64(steps)
		sum += math.Abs(stat.Quantile(p, stat.Empirical, ref, nil) - stat.Quantile(p, stat.Empirical, cur, nil))
	}
	return sum / float64(steps-1)
}

func sortedCopy(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sort.Float64s(out)
	return out
}

// chiSquare computes a chi-square statistic over categorical value-count
// tables, normalized to a roughly [0,1] score by dividing by total sample
// count (matching PSI/KS/Wasserstein's comparable magnitude).
func chiSquare(reference, current map[string]int) float64 {
	total := 0
	for _, c := range reference {
		total += c
	}
	for _, c := range current {
		total += c
	}
	if total == 0 {
		return 0
	}
	refTotal, curTotal := 0, 0
	for _, c := range reference {
		refTotal += c
	}
	for _, c := range current {
		curTotal += c
	}

	keys := make(map[string]bool)
	for k := range reference {
		keys[k] = true
	}
	for k := range current {
		keys[k] = true
	}

	var chi float64
	for k := range keys {
		refCount := float64(reference[k])
		curCount := float64(current[k])
		expectedRef := float64(refTotal) * (refCount + curCount) / float64(total)
		expectedCur := float64(curTotal) * (refCount + curCount) / float64(total)
		if expectedRef > 0 {
			chi += math.Pow(refCount-expectedRef, 2) / expectedRef
		}
		if expectedCur > 0 {
			chi += math.Pow(curCount-expectedCur, 2) / expectedCur
		}
	}
	return chi / float64(total)
}
