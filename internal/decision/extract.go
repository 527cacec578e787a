package decision

import (
	"fmt"
	"math"

	"github.com/wmca-epc/internal/epc"
)

// Extraction is the definitive decision pulled out of one classifier
// probability row for the EPC-rating target.
type Extraction struct {
	Rating epc.Rating `json:"rating"`
	// Confidence is the winning class's normalized probability.
	Confidence float64 `json:"confidence"`
	// WithinOne adds the probability mass of the two adjacent bands,
	// excluding neighbours past the A or G boundary. Always within
	// [Confidence, 1].
	WithinOne float64 `json:"within_one"`
}

// ExtractRating converts one 7-class probability row into a rating, a
// confidence, and a within-one-band confidence. The row is renormalized
// first; upstream classifier output does not always sum exactly to 1.
func ExtractRating(row []float64) (Extraction, error) {
	probs, err := Normalize(row, epc.NumRatings)
	if err != nil {
		return Extraction{}, err
	}

	idx := argmax(probs)
	confidence := probs[idx]

	withinOne := confidence
	if idx-1 >= 0 {
		withinOne += probs[idx-1]
	}
	if idx+1 < epc.NumRatings {
		withinOne += probs[idx+1]
	}

	rating, err := epc.RatingFromIndex(idx)
	if err != nil {
		return Extraction{}, err
	}

	return Extraction{Rating: rating, Confidence: confidence, WithinOne: withinOne}, nil
}

// ExtractRatings runs ExtractRating over a probability matrix. A bad row is
// reported against its position and does not stop the rest of the batch; the
// returned slice holds a zero Extraction at failed positions.
func ExtractRatings(matrix [][]float64) ([]Extraction, []error) {
	out := make([]Extraction, len(matrix))
	var errs []error
	for i, row := range matrix {
		ex, err := ExtractRating(row)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i, err))
			continue
		}
		out[i] = ex
	}
	return out, errs
}

// ExtractFuel converts one binary probability row into a heating-fuel
// category by arg-max. A within-one score is meaningless for an unordered
// binary target, so only the decision and confidence are produced.
func ExtractFuel(row []float64) (epc.HeatingFuel, float64, error) {
	probs, err := Normalize(row, 2)
	if err != nil {
		return 0, 0, err
	}
	idx := argmax(probs)
	return epc.HeatingFuel(idx), probs[idx], nil
}

// Normalize scales a probability row to sum to 1, validating its width. The
// input row is left untouched.
func Normalize(row []float64, width int) ([]float64, error) {
	if len(row) != width {
		return nil, fmt.Errorf("probability row has %d classes, want %d", len(row), width)
	}

	sum := 0.0
	for _, p := range row {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("probability row contains invalid value %v", p)
		}
		sum += p
	}
	if sum <= 0 {
		return nil, fmt.Errorf("probability row sums to %v, cannot normalize", sum)
	}

	out := make([]float64, len(row))
	for i, p := range row {
		out[i] = p / sum
	}
	return out, nil
}

// argmax returns the index of the largest value; ties go to the lowest
// index, i.e. the better band for rating rows.
func argmax(probs []float64) int {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best
}
