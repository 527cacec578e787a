package pipeline

import (
	"fmt"

	"github.com/wmca-epc/internal/arbitrate"
	"github.com/wmca-epc/internal/debug"
	"github.com/wmca-epc/internal/decision"
	"github.com/wmca-epc/internal/epc"
	"github.com/wmca-epc/internal/load"
	"github.com/wmca-epc/internal/similarity"
)

// Config aggregates every threshold the pipeline stages take. All values are
// explicit; there is no hidden global state anywhere in the run.
type Config struct {
	Similarity similarity.Config `yaml:"similarity"`
	Arbitrate  arbitrate.Config  `yaml:"arbitrate"`
	Load       load.Config       `yaml:"load"`
}

// DefaultConfig returns the production thresholds for every stage.
func DefaultConfig() Config {
	return Config{
		Similarity: similarity.DefaultConfig(),
		Arbitrate:  arbitrate.DefaultConfig(),
		Load:       load.DefaultConfig(),
	}
}

// ProbabilityRow is one property's classifier output, keyed by UPRN so the
// pipeline can join it back onto the candidate table.
type ProbabilityRow struct {
	UPRN  string
	Probs []float64
}

// Inputs carries the immutable snapshot a run operates on. Every table comes
// from an upstream collaborator: the cleaned EPC register, the all-properties
// proxy table, the classifier probability outputs, and the national half-hour
// demand series.
type Inputs struct {
	References  []epc.ReferenceProperty
	Candidates  []epc.CandidateProperty
	RatingProbs []ProbabilityRow
	FuelProbs   []ProbabilityRow
	Demand      []float64
}

// FinalRecord is one row of the final dataset: the arbitrated rating joined
// with the additional-load estimate, restricted to the published columns.
type FinalRecord struct {
	UPRN               string           `json:"uprn"`
	Postcode           string           `json:"postcode"`
	FloorArea          float64          `json:"floor_area"`
	Rating             epc.Rating       `json:"rating"`
	Confidence         float64          `json:"confidence"`
	WithinOne          float64          `json:"within_one"`
	Predicted          int              `json:"predicted"`
	Source             arbitrate.Source `json:"source"`
	Fuel               epc.HeatingFuel  `json:"fuel"`
	AdditionalLoad     float64          `json:"additional_load"`
	AdditionalPeakLoad float64          `json:"additional_peak_load"`
}

// Output is everything a completed run produces.
type Output struct {
	// Combined is the arbitrated combined-ratings table, one row per
	// property that survived arbitration.
	Combined []arbitrate.Result
	// Final is the combined table joined with load estimates.
	Final []FinalRecord
	// PeakRatio is the global peak ratio applied to yearly loads.
	PeakRatio float64
	// Stats counts what each arbitration branch decided.
	Stats arbitrate.Stats
	// RecordErrors collects per-record contract violations from every
	// stage. The run still completes for the rest of the batch.
	RecordErrors []epc.RecordError
}

// Run executes the whole estimation pipeline over in-memory tables:
// similarity matching, classifier decision extraction, arbitration, then
// load estimation.
func Run(localDebug bool, cfg Config, in Inputs) (*Output, error) {
	defer debug.Timing(localDebug, "estimation pipeline")()

	out := &Output{}

	// Stage 1: floor-area similarity matching.
	matcher := similarity.NewMatcher(cfg.Similarity)
	matches := matcher.Run(localDebug, in.References, in.Candidates)
	simByUPRN := make(map[string]similarity.Match, len(matches))
	for _, m := range matches {
		simByUPRN[m.UPRN] = m
	}

	// Stage 2: classifier decision extraction for the rating target. The
	// fuel target is extracted later, in the load stage.
	ratingByUPRN := make(map[string]decision.Extraction, len(in.RatingProbs))
	for _, row := range in.RatingProbs {
		ex, err := decision.ExtractRating(row.Probs)
		if err != nil {
			out.RecordErrors = append(out.RecordErrors, epc.RecordError{UPRN: row.UPRN, Err: err})
			continue
		}
		ratingByUPRN[row.UPRN] = ex
	}

	// Stage 3: arbitration over the whole region. Register properties
	// keep their true rating; candidates get one of the two estimates.
	inputs := ArbitrationInputs(in.References, in.Candidates, ratingByUPRN, simByUPRN)
	combined, arbErrs, stats := arbitrate.Run(localDebug, cfg.Arbitrate, inputs)
	out.Combined = combined
	out.Stats = stats
	out.RecordErrors = append(out.RecordErrors, arbErrs...)

	if err := finalize(localDebug, cfg, in, out); err != nil {
		return nil, err
	}

	debug.Output(localDebug, "pipeline: %d combined, %d final, %d record errors",
		len(out.Combined), len(out.Final), len(out.RecordErrors))

	return out, nil
}

// ArbitrationInputs assembles the arbitration batch for a whole region:
// register properties carry their true rating, candidates carry whichever
// estimates exist for them in the two per-UPRN maps.
func ArbitrationInputs(refs []epc.ReferenceProperty, cands []epc.CandidateProperty,
	ratings map[string]decision.Extraction, matches map[string]similarity.Match) []arbitrate.Input {

	inputs := make([]arbitrate.Input, 0, len(refs)+len(cands))
	for _, r := range refs {
		inputs = append(inputs, arbitrate.Input{
			UPRN:       r.UPRN,
			Predicted:  epc.GroundTruth,
			TrueRating: r.Rating,
		})
	}
	for _, c := range cands {
		input := arbitrate.Input{UPRN: c.UPRN, Predicted: epc.Inferred}
		if ex, ok := ratings[c.UPRN]; ok {
			exCopy := ex
			input.Classifier = &exCopy
		}
		if m, ok := matches[c.UPRN]; ok {
			mCopy := m
			input.Similarity = &mCopy
		}
		inputs = append(inputs, input)
	}
	return inputs
}

// Finalize runs only the load stage over an already-arbitrated table, for
// resuming a run from a persisted combined-ratings file. References,
// Candidates, FuelProbs and Demand must be populated in the inputs;
// RatingProbs are not needed.
func Finalize(localDebug bool, cfg Config, in Inputs, combined []arbitrate.Result) (*Output, error) {
	out := &Output{Combined: combined}
	if err := finalize(localDebug, cfg, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// finalize joins out.Combined with fuel predictions and load estimates,
// filling Final, PeakRatio and any per-record join errors.
func finalize(localDebug bool, cfg Config, in Inputs, out *Output) error {
	fuelByUPRN := make(map[string]epc.HeatingFuel, len(in.FuelProbs))
	for _, row := range in.FuelProbs {
		fuel, _, err := decision.ExtractFuel(row.Probs)
		if err != nil {
			out.RecordErrors = append(out.RecordErrors, epc.RecordError{UPRN: row.UPRN, Err: err})
			continue
		}
		fuelByUPRN[row.UPRN] = fuel
	}

	table, err := load.BuildCostTable(cfg.Load, in.References)
	if err != nil {
		return fmt.Errorf("failed to build cost table: %w", err)
	}

	if localDebug {
		covered := 0
		for _, rating := range epc.Ratings {
			for _, bin := range load.AllBins {
				if _, ok := table.Lookup(rating, bin, epc.FuelNonElectric); ok {
					covered++
				}
			}
		}
		debug.Output(localDebug, "cost table covers %d of %d non-electric strata",
			covered, len(epc.Ratings)*len(load.AllBins))
	}

	ratio, err := load.PeakRatio(in.Demand)
	if err != nil {
		return fmt.Errorf("failed to compute peak ratio: %w", err)
	}
	out.PeakRatio = ratio

	refByUPRN := make(map[string]epc.ReferenceProperty, len(in.References))
	for _, r := range in.References {
		refByUPRN[r.UPRN] = r
	}
	candByUPRN := make(map[string]epc.CandidateProperty, len(in.Candidates))
	for _, c := range in.Candidates {
		candByUPRN[c.UPRN] = c
	}

	props := make([]load.Property, 0, len(out.Combined))
	records := make(map[string]*FinalRecord, len(out.Combined))
	for _, res := range out.Combined {
		rec := &FinalRecord{
			UPRN:       res.UPRN,
			Rating:     res.Rating,
			Confidence: res.Confidence,
			WithinOne:  res.WithinOne,
			Predicted:  res.Predicted,
			Source:     res.Source,
		}

		if ref, ok := refByUPRN[res.UPRN]; ok {
			rec.Postcode = ref.Postcode
			rec.FloorArea = ref.FloorArea
			rec.Fuel = ref.Fuel
		} else if cand, ok := candByUPRN[res.UPRN]; ok {
			rec.Postcode = cand.Postcode
			rec.FloorArea = cand.FloorArea
			fuel, ok := fuelByUPRN[res.UPRN]
			if !ok {
				out.RecordErrors = append(out.RecordErrors, epc.RecordError{
					UPRN: res.UPRN,
					Err:  fmt.Errorf("no heating-fuel prediction for inferred property"),
				})
				continue
			}
			rec.Fuel = fuel
		} else {
			out.RecordErrors = append(out.RecordErrors, epc.RecordError{
				UPRN: res.UPRN,
				Err:  fmt.Errorf("arbitrated property not present in any input table"),
			})
			continue
		}

		records[res.UPRN] = rec
		props = append(props, load.Property{
			UPRN:      rec.UPRN,
			Rating:    rec.Rating,
			FloorArea: rec.FloorArea,
			Fuel:      rec.Fuel,
		})
	}

	estimator := load.NewEstimator(table, ratio)
	estimates, loadErrs := estimator.Run(localDebug, props)
	out.RecordErrors = append(out.RecordErrors, loadErrs...)

	estimated := make(map[string]load.Estimate, len(estimates))
	for _, est := range estimates {
		estimated[est.UPRN] = est
	}

	// Keep final output in arbitration order, dropping records whose load
	// estimate failed.
	for _, res := range out.Combined {
		rec, ok := records[res.UPRN]
		if !ok {
			continue
		}
		est, ok := estimated[res.UPRN]
		if !ok {
			continue
		}
		rec.AdditionalLoad = est.AdditionalLoad
		rec.AdditionalPeakLoad = est.AdditionalPeakLoad
		out.Final = append(out.Final, *rec)
	}

	return nil
}
