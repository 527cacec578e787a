package load

import (
	"math"
	"testing"

	"github.com/wmca-epc/internal/epc"
)

const tolerance = 1e-9

func TestPeakRatio(t *testing.T) {
	// Hand-computed: doubling the series gives [2,6,4,8]; the trapezoids
	// are 4, 5 and 6 for a total of 15; the peak is 8.
	ratio, err := PeakRatio([]float64{1, 3, 2, 4})
	if err != nil {
		t.Fatal(err)
	}
	want := 8.0 / 15.0
	if math.Abs(ratio-want) > tolerance {
		t.Errorf("ratio = %v, want %v", ratio, want)
	}
}

func TestPeakRatioRejectsDegenerateSeries(t *testing.T) {
	if _, err := PeakRatio(nil); err == nil {
		t.Error("expected error for empty series")
	}
	if _, err := PeakRatio([]float64{5}); err == nil {
		t.Error("expected error for single-sample series")
	}
	if _, err := PeakRatio([]float64{0, 0, 0}); err == nil {
		t.Error("expected error for zero-integral series")
	}
}

func TestTrapezoidArea(t *testing.T) {
	tests := []struct {
		name string
		y    []float64
		want float64
	}{
		{name: "flat line", y: []float64{5, 5, 5}, want: 10},
		{name: "ramp", y: []float64{0, 2}, want: 1},
		{name: "descending", y: []float64{4, 2, 0}, want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trapezoidArea(tt.y); math.Abs(got-tt.want) > tolerance {
				t.Errorf("trapezoidArea = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeAreaBins(t *testing.T) {
	bins, err := ComputeAreaBins([]float64{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatal(err)
	}

	edges := bins.Edges()
	wantEdges := [5]float64{1, 2.75, 4.5, 6.25, 8}
	for i := range edges {
		if math.Abs(edges[i]-wantEdges[i]) > tolerance {
			t.Errorf("edge %d = %v, want %v", i, edges[i], wantEdges[i])
		}
	}

	tests := []struct {
		area float64
		want AreaBin
	}{
		{area: 1, want: BinBelow25}, // lowest edge is included
		{area: 2, want: BinBelow25},
		{area: 2.75, want: BinBelow25}, // right-closed boundary
		{area: 3, want: Bin25To50},
		{area: 4.5, want: Bin25To50},
		{area: 5, want: Bin50To75},
		{area: 7, want: BinAbove75},
		{area: 8, want: BinAbove75},
		{area: 0.5, want: BinBelow25},  // below range clamps in
		{area: 100, want: BinAbove75},  // above range clamps in
	}
	for _, tt := range tests {
		if got := bins.Bin(tt.area); got != tt.want {
			t.Errorf("Bin(%v) = %s, want %s", tt.area, got, tt.want)
		}
	}
}

func TestComputeAreaBinsNeedsData(t *testing.T) {
	if _, err := ComputeAreaBins([]float64{42}); err == nil {
		t.Error("expected error for single-value sample")
	}
}

func nonElecRef(uprn string, area float64, rating epc.Rating, cost float64) epc.ReferenceProperty {
	return epc.ReferenceProperty{
		UPRN: uprn, Postcode: "B1 1AA", FloorArea: area, Rating: rating,
		Fuel: epc.FuelNonElectric, HeatingCost: cost, EnergyConsumption: 10000,
	}
}

func TestBuildCostTableUnitRatio(t *testing.T) {
	// Every group's mean heating cost equals the register mean, so every
	// cost ratio is exactly 1 and the heating energy is the UK average.
	refs := []epc.ReferenceProperty{
		nonElecRef("1", 10, epc.RatingD, 100),
		nonElecRef("2", 10, epc.RatingD, 100),
		nonElecRef("3", 20, epc.RatingC, 100),
		nonElecRef("4", 30, epc.RatingB, 100),
		nonElecRef("5", 40, epc.RatingA, 100),
	}

	table, err := BuildCostTable(DefaultConfig(), refs)
	if err != nil {
		t.Fatal(err)
	}

	stratum, ok := table.Lookup(epc.RatingD, BinBelow25, epc.FuelNonElectric)
	if !ok {
		t.Fatal("expected stratum for (D, <25_percentile, non-electric)")
	}
	if stratum.Count != 2 {
		t.Errorf("count = %d, want 2", stratum.Count)
	}
	if math.Abs(stratum.CostRatio-1) > tolerance {
		t.Errorf("cost ratio = %v, want 1", stratum.CostRatio)
	}
	if stratum.HeatingEnergy != 15000 {
		t.Errorf("heating energy = %v, want 15000", stratum.HeatingEnergy)
	}
}

func TestBuildCostTableRatiosAndCOP(t *testing.T) {
	refs := []epc.ReferenceProperty{
		nonElecRef("1", 10, epc.RatingD, 120),
		nonElecRef("2", 20, epc.RatingC, 80),
	}

	table, err := BuildCostTable(Config{AvgHeatingEnergy: 15000, COP: 2}, refs)
	if err != nil {
		t.Fatal(err)
	}

	d, ok := table.Lookup(epc.RatingD, BinBelow25, epc.FuelNonElectric)
	if !ok {
		t.Fatal("missing D stratum")
	}
	// ratio 1.2 against the register mean of 100, halved by COP 2.
	if d.HeatingEnergy != 9000 {
		t.Errorf("D heating energy = %v, want 9000", d.HeatingEnergy)
	}

	c, ok := table.Lookup(epc.RatingC, BinAbove75, epc.FuelNonElectric)
	if !ok {
		t.Fatal("missing C stratum")
	}
	if c.HeatingEnergy != 6000 {
		t.Errorf("C heating energy = %v, want 6000", c.HeatingEnergy)
	}
}

func TestBuildCostTableRoundsEnergy(t *testing.T) {
	refs := []epc.ReferenceProperty{
		nonElecRef("1", 10, epc.RatingD, 100.001),
		nonElecRef("2", 20, epc.RatingC, 99.999),
	}

	table, err := BuildCostTable(DefaultConfig(), refs)
	if err != nil {
		t.Fatal(err)
	}

	d, _ := table.Lookup(epc.RatingD, BinBelow25, epc.FuelNonElectric)
	// 1.00001 * 15000 = 15000.15, rounded to the nearest kWh.
	if d.HeatingEnergy != 15000 {
		t.Errorf("heating energy = %v, want 15000", d.HeatingEnergy)
	}
}

func TestBuildCostTableRejectsEmptyRegister(t *testing.T) {
	if _, err := BuildCostTable(DefaultConfig(), nil); err == nil {
		t.Error("expected error for empty register")
	}
}

func TestEstimatorRun(t *testing.T) {
	refs := []epc.ReferenceProperty{
		nonElecRef("1", 10, epc.RatingD, 100),
		nonElecRef("2", 10, epc.RatingD, 100),
		nonElecRef("3", 20, epc.RatingC, 100),
		nonElecRef("4", 30, epc.RatingB, 100),
		nonElecRef("5", 40, epc.RatingA, 100),
	}
	table, err := BuildCostTable(DefaultConfig(), refs)
	if err != nil {
		t.Fatal(err)
	}

	ratio := 8.0 / 15.0
	estimator := NewEstimator(table, ratio)

	props := []Property{
		{UPRN: "10", Rating: epc.RatingD, FloorArea: 10, Fuel: epc.FuelNonElectric},
		{UPRN: "11", Rating: epc.RatingD, FloorArea: 10, Fuel: epc.FuelElectric},
		{UPRN: "12", Rating: epc.RatingG, FloorArea: 10, Fuel: epc.FuelNonElectric},
	}

	estimates, errs := estimator.Run(false, props)

	if len(estimates) != 2 {
		t.Fatalf("estimates = %d, want 2", len(estimates))
	}

	// Non-electric D in the lowest bin with unit cost ratio.
	if estimates[0].UPRN != "10" || estimates[0].AdditionalLoad != 15000 {
		t.Errorf("estimate 10 = %+v, want load 15000", estimates[0])
	}
	if math.Abs(estimates[0].AdditionalPeakLoad-15000*ratio) > tolerance {
		t.Errorf("peak load = %v, want %v", estimates[0].AdditionalPeakLoad, 15000*ratio)
	}

	// Already electric: both values zero.
	if estimates[1].UPRN != "11" || estimates[1].AdditionalLoad != 0 || estimates[1].AdditionalPeakLoad != 0 {
		t.Errorf("estimate 11 = %+v, want zeros", estimates[1])
	}

	// Missing stratum is a reported contract violation, not a zero.
	if len(errs) != 1 || errs[0].UPRN != "12" {
		t.Errorf("errors = %v, want one error for uprn 12", errs)
	}
}
