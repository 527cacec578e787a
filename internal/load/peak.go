package load

import "fmt"

// halfHourToEnergy converts a half-hour-resolution MW sample into MWh.
const halfHourToEnergy = 2.0

// PeakRatio computes the ratio between the instantaneous peak of a half-hour
// national demand series and its total annual energy. The total is a
// trapezoidal integral over the series with unit spacing. Multiplying by the
// added yearly load of a property converts it into an added peak load.
func PeakRatio(nd []float64) (float64, error) {
	if len(nd) < 2 {
		return 0, fmt.Errorf("demand series needs at least 2 samples, have %d", len(nd))
	}

	series := make([]float64, len(nd))
	for i, v := range nd {
		series[i] = v * halfHourToEnergy
	}

	total := trapezoidArea(series)
	if total <= 0 {
		return 0, fmt.Errorf("demand series integrates to %v, cannot form peak ratio", total)
	}

	peak := series[0]
	for _, v := range series[1:] {
		if v > peak {
			peak = v
		}
	}

	return peak / total, nil
}

// trapezoidArea integrates a series with unit sample spacing: each interval
// contributes the rectangle below the lower sample plus the triangle formed
// by the slope between consecutive samples.
func trapezoidArea(y []float64) float64 {
	sum := 0.0
	for i := 1; i < len(y); i++ {
		lo, hi := y[i-1], y[i]
		if hi < lo {
			lo, hi = hi, lo
		}
		sum += lo + (hi-lo)/2
	}
	return sum
}
