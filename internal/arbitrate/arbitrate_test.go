package arbitrate

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/wmca-epc/internal/decision"
	"github.com/wmca-epc/internal/epc"
	"github.com/wmca-epc/internal/similarity"
)

func classifier(rating epc.Rating, confidence, withinOne float64) *decision.Extraction {
	return &decision.Extraction{Rating: rating, Confidence: confidence, WithinOne: withinOne}
}

func simMatch(rating epc.Rating, confidence float64) *similarity.Match {
	return &similarity.Match{Rating: rating, Confidence: confidence}
}

func TestDecide(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		in   Input
		want Result
	}{
		{
			name: "ground truth keeps register rating regardless of estimates",
			in: Input{
				UPRN:       "1",
				Predicted:  epc.GroundTruth,
				TrueRating: epc.RatingE,
				Classifier: classifier(epc.RatingA, 0.99, 1.0),
				Similarity: simMatch(epc.RatingB, 0.8),
			},
			want: Result{UPRN: "1", Rating: epc.RatingE, Confidence: 1.0,
				WithinOne: math.NaN(), Predicted: epc.GroundTruth, Source: SourceGroundTruth},
		},
		{
			name: "no similarity result routes to classifier",
			in: Input{
				UPRN:       "2",
				Predicted:  epc.Inferred,
				Classifier: classifier(epc.RatingC, 0.4, 0.7),
			},
			want: Result{UPRN: "2", Rating: epc.RatingC, Confidence: 0.4,
				WithinOne: 0.7, Predicted: epc.Inferred, Source: SourceClassifierOnly},
		},
		{
			name: "agreement keeps classifier confidence, similarity tier discarded",
			in: Input{
				UPRN:       "3",
				Predicted:  epc.Inferred,
				Classifier: classifier(epc.RatingD, 0.42, 0.88),
				Similarity: simMatch(epc.RatingD, 0.8),
			},
			want: Result{UPRN: "3", Rating: epc.RatingD, Confidence: 0.42,
				WithinOne: 0.88, Predicted: epc.Inferred, Source: SourceAgreement},
		},
		{
			name: "disagreement with confident classifier keeps classifier",
			in: Input{
				UPRN:       "4",
				Predicted:  epc.Inferred,
				Classifier: classifier(epc.RatingB, 0.75, 0.9),
				Similarity: simMatch(epc.RatingD, 0.8),
			},
			want: Result{UPRN: "4", Rating: epc.RatingB, Confidence: 0.75,
				WithinOne: 0.9, Predicted: epc.Inferred, Source: SourceClassifierOverride},
		},
		{
			name: "cutoff boundary is inclusive on the classifier side",
			in: Input{
				UPRN:       "5",
				Predicted:  epc.Inferred,
				Classifier: classifier(epc.RatingB, 0.5, 0.9),
				Similarity: simMatch(epc.RatingD, 0.8),
			},
			want: Result{UPRN: "5", Rating: epc.RatingB, Confidence: 0.5,
				WithinOne: 0.9, Predicted: epc.Inferred, Source: SourceClassifierOverride},
		},
		{
			name: "disagreement with uncertain classifier takes similarity",
			in: Input{
				UPRN:       "6",
				Predicted:  epc.Inferred,
				Classifier: classifier(epc.RatingB, 0.49, 0.9),
				Similarity: simMatch(epc.RatingD, 0.5),
			},
			want: Result{UPRN: "6", Rating: epc.RatingD, Confidence: 0.5,
				WithinOne: math.NaN(), Predicted: epc.Inferred, Source: SourceSimilarityOverride},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(cfg, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("Decide mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecideContractViolations(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		in   Input
	}{
		{
			name: "inferred property without classifier result",
			in:   Input{UPRN: "1", Predicted: epc.Inferred, Similarity: simMatch(epc.RatingC, 0.8)},
		},
		{
			name: "ground truth without a valid register rating",
			in:   Input{UPRN: "2", Predicted: epc.GroundTruth},
		},
		{
			name: "invalid predicted flag",
			in:   Input{UPRN: "3", Predicted: 7, Classifier: classifier(epc.RatingC, 0.9, 1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decide(cfg, tt.in); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRunAggregatesErrorsAndStats(t *testing.T) {
	inputs := []Input{
		{UPRN: "1", Predicted: epc.GroundTruth, TrueRating: epc.RatingB},
		{UPRN: "2", Predicted: epc.Inferred, Classifier: classifier(epc.RatingC, 0.6, 0.9)},
		{UPRN: "3", Predicted: epc.Inferred,
			Classifier: classifier(epc.RatingC, 0.6, 0.9), Similarity: simMatch(epc.RatingC, 0.8)},
		{UPRN: "4", Predicted: epc.Inferred,
			Classifier: classifier(epc.RatingC, 0.6, 0.9), Similarity: simMatch(epc.RatingE, 0.8)},
		{UPRN: "5", Predicted: epc.Inferred,
			Classifier: classifier(epc.RatingC, 0.3, 0.9), Similarity: simMatch(epc.RatingE, 0.8)},
		{UPRN: "6", Predicted: epc.Inferred}, // missing classifier
	}

	results, errs, stats := Run(false, DefaultConfig(), inputs)

	if len(results) != 5 {
		t.Errorf("results = %d, want 5", len(results))
	}
	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1", len(errs))
	}
	if errs[0].UPRN != "6" {
		t.Errorf("errored uprn = %s, want 6", errs[0].UPRN)
	}

	want := Stats{
		GroundTruth:        1,
		ClassifierOnly:     1,
		Agreement:          1,
		ClassifierOverride: 1,
		SimilarityOverride: 1,
		Errored:            1,
		Total:              6,
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}
