package arbitrate

import (
	"errors"
	"math"

	"github.com/wmca-epc/internal/debug"
	"github.com/wmca-epc/internal/decision"
	"github.com/wmca-epc/internal/epc"
	"github.com/wmca-epc/internal/similarity"
)

// Config holds the arbitration thresholds.
type Config struct {
	// ClassifierCutoff is the classifier confidence at or above which a
	// classifier rating beats a disagreeing similarity rating. The
	// boundary is inclusive on the classifier side.
	ClassifierCutoff float64 `yaml:"classifier_cutoff"`
}

// DefaultConfig returns the production arbitration thresholds.
func DefaultConfig() Config {
	return Config{ClassifierCutoff: 0.5}
}

// Source identifies which arbitration branch produced a final rating.
type Source string

const (
	SourceGroundTruth        Source = "ground_truth"
	SourceClassifierOnly     Source = "classifier_only"
	SourceAgreement          Source = "agreement"
	SourceClassifierOverride Source = "classifier_override"
	SourceSimilarityOverride Source = "similarity_override"
)

// Input carries everything known about one property going into arbitration.
// Classifier and Similarity are nil when the corresponding path produced
// nothing for this property.
type Input struct {
	UPRN      string
	Predicted int
	// TrueRating is the register rating; only meaningful when
	// Predicted == epc.GroundTruth.
	TrueRating epc.Rating
	Classifier *decision.Extraction
	Similarity *similarity.Match
}

// Result is the single arbitrated rating and confidence for one property.
// WithinOne is NaN when the chosen path has no within-one notion (ground
// truth and similarity overrides).
type Result struct {
	UPRN       string     `json:"uprn"`
	Rating     epc.Rating `json:"rating"`
	Confidence float64    `json:"confidence"`
	WithinOne  float64    `json:"within_one"`
	Predicted  int        `json:"predicted"`
	Source     Source     `json:"source"`
}

// Stats counts how many properties each arbitration branch decided.
type Stats struct {
	GroundTruth        int
	ClassifierOnly     int
	Agreement          int
	ClassifierOverride int
	SimilarityOverride int
	Errored            int
	Total              int
}

var (
	errNoClassifier   = errors.New("no classifier result for inferred property")
	errBadTrueRating  = errors.New("ground-truth property has invalid register rating")
	errBadPredictFlag = errors.New("predicted flag must be 0 (ground truth) or 1 (inferred)")
)

// Run arbitrates a whole batch. Records violating the upstream contract
// (missing classifier result, missing or invalid flags) are reported in the
// returned error list and excluded from the results; one bad record does not
// block the rest of the batch.
func Run(localDebug bool, cfg Config, inputs []Input) ([]Result, []epc.RecordError, Stats) {
	defer debug.Timing(localDebug, "arbitration")()

	if cfg.ClassifierCutoff == 0 {
		cfg.ClassifierCutoff = DefaultConfig().ClassifierCutoff
	}

	results := make([]Result, 0, len(inputs))
	var errs []epc.RecordError
	stats := Stats{Total: len(inputs)}

	for _, in := range inputs {
		res, err := Decide(cfg, in)
		if err != nil {
			errs = append(errs, epc.RecordError{UPRN: in.UPRN, Err: err})
			stats.Errored++
			continue
		}
		results = append(results, res)
		switch res.Source {
		case SourceGroundTruth:
			stats.GroundTruth++
		case SourceClassifierOnly:
			stats.ClassifierOnly++
		case SourceAgreement:
			stats.Agreement++
		case SourceClassifierOverride:
			stats.ClassifierOverride++
		case SourceSimilarityOverride:
			stats.SimilarityOverride++
		}
	}

	debug.Output(localDebug, "arbitration: total=%d truth=%d classifier_only=%d agree=%d override=%d sim_override=%d errors=%d",
		stats.Total, stats.GroundTruth, stats.ClassifierOnly, stats.Agreement,
		stats.ClassifierOverride, stats.SimilarityOverride, stats.Errored)

	return results, errs, stats
}

// Decide applies the arbitration rules to one property. Conditions are
// evaluated in order and the first match wins:
//
//  1. ground truth keeps its register rating with confidence 1
//  2. no similarity result: classifier wins
//  3. ratings agree: classifier confidence is kept, similarity tier dropped
//  4. ratings differ, classifier confidence at or above the cutoff:
//     classifier wins
//  5. ratings differ, classifier confidence below the cutoff: similarity
//     wins, with no within-one score
func Decide(cfg Config, in Input) (Result, error) {
	switch in.Predicted {
	case epc.GroundTruth:
		if !in.TrueRating.Valid() {
			return Result{}, errBadTrueRating
		}
		return Result{
			UPRN:       in.UPRN,
			Rating:     in.TrueRating,
			Confidence: 1.0,
			WithinOne:  math.NaN(),
			Predicted:  epc.GroundTruth,
			Source:     SourceGroundTruth,
		}, nil
	case epc.Inferred:
		// handled below
	default:
		return Result{}, errBadPredictFlag
	}

	if in.Classifier == nil {
		return Result{}, errNoClassifier
	}

	fromClassifier := func(src Source) Result {
		return Result{
			UPRN:       in.UPRN,
			Rating:     in.Classifier.Rating,
			Confidence: in.Classifier.Confidence,
			WithinOne:  in.Classifier.WithinOne,
			Predicted:  epc.Inferred,
			Source:     src,
		}
	}

	switch {
	case in.Similarity == nil:
		return fromClassifier(SourceClassifierOnly), nil
	case in.Similarity.Rating == in.Classifier.Rating:
		return fromClassifier(SourceAgreement), nil
	case in.Classifier.Confidence >= cfg.ClassifierCutoff:
		return fromClassifier(SourceClassifierOverride), nil
	default:
		return Result{
			UPRN:       in.UPRN,
			Rating:     in.Similarity.Rating,
			Confidence: in.Similarity.Confidence,
			WithinOne:  math.NaN(),
			Predicted:  epc.Inferred,
			Source:     SourceSimilarityOverride,
		}, nil
	}
}
