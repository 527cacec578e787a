package epc

import "fmt"

// HeatingFuel is the binary heating-fuel category for a property.
type HeatingFuel int

const (
	// FuelElectric marks a property already heated electrically.
	FuelElectric HeatingFuel = 0
	// FuelNonElectric marks a property on gas, oil or another
	// non-electric heat source.
	FuelNonElectric HeatingFuel = 1
)

// ParseHeatingFuel validates a raw fuel category from an input table.
func ParseHeatingFuel(v int) (HeatingFuel, error) {
	switch HeatingFuel(v) {
	case FuelElectric, FuelNonElectric:
		return HeatingFuel(v), nil
	}
	return 0, fmt.Errorf("invalid heating fuel category %d", v)
}

// Ground-truth flag values for the predicted column.
const (
	// GroundTruth marks a record whose rating comes from the EPC register.
	GroundTruth = 0
	// Inferred marks a record whose rating was estimated.
	Inferred = 1
)

// ReferenceProperty is a row from the cleaned EPC register: a property with
// a known rating and the historical cost figures used by the load estimator.
type ReferenceProperty struct {
	UPRN              string      `json:"uprn"`
	Postcode          string      `json:"postcode"`
	FloorArea         float64     `json:"floor_area"`
	Rating            Rating      `json:"rating"`
	Fuel              HeatingFuel `json:"fuel"`
	HeatingCost       float64     `json:"heating_cost"`
	EnergyConsumption float64     `json:"energy_consumption"`
}

// CandidateProperty is a row from the all-properties proxy table: a property
// without an EPC record, carrying only the attributes the estimators need.
type CandidateProperty struct {
	UPRN      string  `json:"uprn"`
	Postcode  string  `json:"postcode"`
	FloorArea float64 `json:"floor_area"`
}

// RecordError ties a per-record failure to its property so a batch phase can
// report bad records at the end of a run without aborting the rest.
type RecordError struct {
	UPRN string
	Err  error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("uprn %s: %v", e.UPRN, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }
