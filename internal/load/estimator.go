package load

import (
	"fmt"
	"math"

	"github.com/wmca-epc/internal/debug"
	"github.com/wmca-epc/internal/epc"
)

// Config holds the physical assumptions behind the load estimate.
type Config struct {
	// AvgHeatingEnergy is the assumed average UK annual heating energy in
	// kWh (15,000 per the government quarterly energy prices report).
	AvgHeatingEnergy float64 `yaml:"avg_heating_energy"`
	// COP is the coefficient of performance assumed for the heat pump a
	// property would switch to. Higher COP means less electrical energy
	// for the same heat output.
	COP float64 `yaml:"cop"`
}

// DefaultConfig returns the production load assumptions.
func DefaultConfig() Config {
	return Config{AvgHeatingEnergy: 15000, COP: 1.0}
}

// StratumKey identifies one (rating, area bin, fuel) group of the reference
// register.
type StratumKey struct {
	Rating epc.Rating
	Bin    AreaBin
	Fuel   epc.HeatingFuel
}

// Stratum holds the aggregated heating figures for one group.
type Stratum struct {
	Count           int
	MeanHeatingCost float64
	MeanConsumption float64
	CostRatio       float64
	// HeatingEnergy is the estimated annual heating energy in kWh for a
	// property in this group, scaled from the national average by the
	// group's cost ratio and divided by the heat-pump COP.
	HeatingEnergy float64
}

// CostTable stratifies the EPC register's heating costs by rating, floor-area
// quartile and fuel, and converts each group's cost into an annual heating
// energy figure.
type CostTable struct {
	cfg      Config
	bins     AreaBins
	strata   map[StratumKey]Stratum
	meanCost float64
}

// BuildCostTable aggregates a reference register into a cost table. Quartile
// bin edges are computed here, from the reference distribution only, and
// reused for every later lookup.
func BuildCostTable(cfg Config, refs []epc.ReferenceProperty) (*CostTable, error) {
	def := DefaultConfig()
	if cfg.AvgHeatingEnergy == 0 {
		cfg.AvgHeatingEnergy = def.AvgHeatingEnergy
	}
	if cfg.COP == 0 {
		cfg.COP = def.COP
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("cannot build cost table from empty reference register")
	}

	areas := make([]float64, len(refs))
	costSum := 0.0
	for i, r := range refs {
		areas[i] = r.FloorArea
		costSum += r.HeatingCost
	}
	meanCost := costSum / float64(len(refs))
	if meanCost <= 0 {
		return nil, fmt.Errorf("reference register mean heating cost is %v, cannot form cost ratios", meanCost)
	}

	bins, err := ComputeAreaBins(areas)
	if err != nil {
		return nil, fmt.Errorf("failed to bin reference areas: %w", err)
	}

	type acc struct {
		n           int
		cost, usage float64
	}
	groups := make(map[StratumKey]*acc)
	for _, r := range refs {
		key := StratumKey{Rating: r.Rating, Bin: bins.Bin(r.FloorArea), Fuel: r.Fuel}
		g := groups[key]
		if g == nil {
			g = &acc{}
			groups[key] = g
		}
		g.n++
		g.cost += r.HeatingCost
		g.usage += r.EnergyConsumption
	}

	strata := make(map[StratumKey]Stratum, len(groups))
	for key, g := range groups {
		mean := g.cost / float64(g.n)
		ratio := mean / meanCost
		strata[key] = Stratum{
			Count:           g.n,
			MeanHeatingCost: mean,
			MeanConsumption: g.usage / float64(g.n),
			CostRatio:       ratio,
			HeatingEnergy:   math.Round(ratio*cfg.AvgHeatingEnergy) / cfg.COP,
		}
	}

	return &CostTable{cfg: cfg, bins: bins, strata: strata, meanCost: meanCost}, nil
}

// Bins exposes the quartile edges the table was built with.
func (t *CostTable) Bins() AreaBins { return t.bins }

// MeanHeatingCost exposes the register-wide mean the ratios are against.
func (t *CostTable) MeanHeatingCost() float64 { return t.meanCost }

// Lookup returns the stratum for a (rating, bin, fuel) group.
func (t *CostTable) Lookup(rating epc.Rating, bin AreaBin, fuel epc.HeatingFuel) (Stratum, bool) {
	s, ok := t.strata[StratumKey{Rating: rating, Bin: bin, Fuel: fuel}]
	return s, ok
}

// Property is the slice of a final arbitrated record the estimator needs.
type Property struct {
	UPRN      string
	Rating    epc.Rating
	FloorArea float64
	Fuel      epc.HeatingFuel
}

// Estimate is the additional electrical load a property would add to the
// network by switching to a heat pump. Both values are zero for properties
// already on electric heating.
type Estimate struct {
	UPRN               string  `json:"uprn"`
	AdditionalLoad     float64 `json:"additional_load"`
	AdditionalPeakLoad float64 `json:"additional_peak_load"`
}

// Estimator converts arbitrated ratings into additional network load.
type Estimator struct {
	table *CostTable
	ratio float64
}

// NewEstimator pairs a cost table with a peak ratio computed once from the
// national demand series and applied globally.
func NewEstimator(table *CostTable, peakRatio float64) *Estimator {
	return &Estimator{table: table, ratio: peakRatio}
}

// PeakRatio exposes the global peak ratio the estimator applies.
func (e *Estimator) PeakRatio() float64 { return e.ratio }

// Run estimates additional load for a batch. A non-electric property whose
// (rating, bin) group is absent from the reference register is a contract
// violation: it is reported and left out rather than silently zeroed, since
// zero is a meaningful value reserved for electric properties.
func (e *Estimator) Run(localDebug bool, props []Property) ([]Estimate, []epc.RecordError) {
	defer debug.Timing(localDebug, "load estimation")()

	estimates := make([]Estimate, 0, len(props))
	var errs []epc.RecordError

	for _, p := range props {
		if p.Fuel == epc.FuelElectric {
			estimates = append(estimates, Estimate{UPRN: p.UPRN})
			continue
		}

		bin := e.table.Bins().Bin(p.FloorArea)
		stratum, ok := e.table.Lookup(p.Rating, bin, epc.FuelNonElectric)
		if !ok {
			errs = append(errs, epc.RecordError{
				UPRN: p.UPRN,
				Err:  fmt.Errorf("no reference stratum for rating %s, %s, non-electric", p.Rating, bin),
			})
			continue
		}

		estimates = append(estimates, Estimate{
			UPRN:               p.UPRN,
			AdditionalLoad:     stratum.HeatingEnergy,
			AdditionalPeakLoad: stratum.HeatingEnergy * e.ratio,
		})
	}

	debug.Output(localDebug, "load: %d properties, %d estimated, %d missing strata",
		len(props), len(estimates), len(errs))

	return estimates, errs
}
