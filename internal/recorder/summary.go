package recorder

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/beamalign/internal/scan"
)

// Summary describes the signal distribution of a scan.
type Summary struct {
	Samples int
	Mean    float64
	StdDev  float64
	Min     float64
	Median  float64
	Max     float64
	// Contrast is (Max-Median)/StdDev, how far the peak stands out of the
	// background. Zero when the signal is flat.
	Contrast float64
	Best     scan.ScanPoint
}

// Summarize computes signal statistics over points, seed included. Best is
// the first point holding the maximum.
func Summarize(points []scan.ScanPoint) Summary {
	if len(points) == 0 {
		return Summary{}
	}
	signal := make([]float64, len(points))
	for i, p := range points {
		signal[i] = float64(p.Signal)
	}

	s := Summary{Samples: len(points)}
	s.Mean, s.StdDev = stat.MeanStdDev(signal, nil)
	if math.IsNaN(s.StdDev) {
		s.StdDev = 0
	}
	s.Max = floats.Max(signal)
	s.Min = floats.Min(signal)
	s.Best = points[floats.MaxIdx(signal)]

	sorted := append([]float64(nil), signal...)
	sort.Float64s(sorted)
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if s.StdDev > 0 {
		s.Contrast = (s.Max - s.Median) / s.StdDev
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%d samples, signal mean %.1f sd %.1f min %.0f median %.0f max %.0f, contrast %.2f",
		s.Samples, s.Mean, s.StdDev, s.Min, s.Median, s.Max, s.Contrast)
}
