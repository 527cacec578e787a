package load

import (
	"fmt"
	"math"
	"sort"
)

// AreaBin names a quartile band of the reference floor-area distribution.
type AreaBin int

const (
	BinBelow25 AreaBin = iota
	Bin25To50
	Bin50To75
	BinAbove75
	numBins
)

// String returns the bin label used in output tables.
func (b AreaBin) String() string {
	switch b {
	case BinBelow25:
		return "<25_percentile"
	case Bin25To50:
		return "25-50_percentile"
	case Bin50To75:
		return "50-75_percentile"
	case BinAbove75:
		return ">75_percentile"
	}
	return fmt.Sprintf("bin(%d)", int(b))
}

// AllBins lists the quartile bins in order.
var AllBins = [numBins]AreaBin{BinBelow25, Bin25To50, Bin50To75, BinAbove75}

// AreaBins holds quartile cut points computed from the reference floor-area
// distribution. The same edges are applied to both the reference and the
// target tables, so a given area always lands in the same named bin.
type AreaBins struct {
	edges [5]float64 // min, q25, q50, q75, max
}

// ComputeAreaBins derives quartile cut points from a floor-area sample using
// linear interpolation between order statistics.
func ComputeAreaBins(areas []float64) (AreaBins, error) {
	if len(areas) < 2 {
		return AreaBins{}, fmt.Errorf("need at least 2 areas to bin, have %d", len(areas))
	}

	sorted := make([]float64, len(areas))
	copy(sorted, areas)
	sort.Float64s(sorted)

	return AreaBins{edges: [5]float64{
		sorted[0],
		quantile(sorted, 0.25),
		quantile(sorted, 0.50),
		quantile(sorted, 0.75),
		sorted[len(sorted)-1],
	}}, nil
}

// Edges exposes the five cut points (min, q25, q50, q75, max).
func (b AreaBins) Edges() [5]float64 { return b.edges }

// Bin places an area into its quartile band. Bands are right-closed with the
// lowest edge included; values outside the reference range clamp into the
// outer bands so target properties beyond the reference extremes still bin.
func (b AreaBins) Bin(area float64) AreaBin {
	switch {
	case area <= b.edges[1]:
		return BinBelow25
	case area <= b.edges[2]:
		return Bin25To50
	case area <= b.edges[3]:
		return Bin50To75
	default:
		return BinAbove75
	}
}

// quantile interpolates the q-th quantile of sorted data.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
