package proximity

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"scoutlink/internal/types"
)

// computeStability summarizes the spread of the raw sample window. The
// quantiles want sorted input, so the window is copied first; below two
// samples the standard deviation is undefined and no summary is produced.
func computeStability(samples []float64) (types.SignalStability, bool) {
	if len(samples) < 2 {
		return types.SignalStability{}, false
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	return types.SignalStability{
		SampleCount: len(sorted),
		Mean:        stat.Mean(sorted, nil),
		StdDev:      stat.StdDev(sorted, nil),
		P5:          stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P50:         stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P95:         stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}, true
}
