package store

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wmca-epc/internal/arbitrate"
	"github.com/wmca-epc/internal/epc"
	"github.com/wmca-epc/internal/pipeline"
)

func writeTempCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadReferences(t *testing.T) {
	path := writeTempCSV(t, "epc.csv",
		"uprn,postcode,calculatedareavalue,current-energy-rating,mainheat-description,heating-cost-current,energy-consumption-current\n"+
			"100,B1 1AA,52.5,C,1,450.5,11200\n"+
			"101,B1 1AB,80,A,0,120,3000\n")

	refs, err := LoadReferences(false, path)
	if err != nil {
		t.Fatal(err)
	}

	want := []epc.ReferenceProperty{
		{UPRN: "100", Postcode: "B1 1AA", FloorArea: 52.5, Rating: epc.RatingC, Fuel: epc.FuelNonElectric, HeatingCost: 450.5, EnergyConsumption: 11200},
		{UPRN: "101", Postcode: "B1 1AB", FloorArea: 80, Rating: epc.RatingA, Fuel: epc.FuelElectric, HeatingCost: 120, EnergyConsumption: 3000},
	}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Errorf("references mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadReferencesColumnOrder(t *testing.T) {
	// Loaders key on header names, not positions.
	path := writeTempCSV(t, "epc.csv",
		"Current-Energy-Rating,uprn,heating-cost-current,energy-consumption-current,mainheat-description,postcode,calculatedareavalue\n"+
			"D,200,300,9000,1,CV1 2AB,61.2\n")

	refs, err := LoadReferences(false, path)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].UPRN != "200" || refs[0].Rating != epc.RatingD {
		t.Errorf("got %+v, want uprn 200 rated D", refs)
	}
}

func TestLoadReferencesBadRow(t *testing.T) {
	tests := []struct {
		name string
		row  string
	}{
		{"bad rating", "100,B1 1AA,52.5,X,1,450,11200"},
		{"bad fuel", "100,B1 1AA,52.5,C,2,450,11200"},
		{"bad area", "100,B1 1AA,wide,C,1,450,11200"},
	}
	header := "uprn,postcode,calculatedareavalue,current-energy-rating,mainheat-description,heating-cost-current,energy-consumption-current\n"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempCSV(t, "epc.csv", header+tt.row+"\n")
			if _, err := LoadReferences(false, path); err == nil {
				t.Error("expected error, got nil")
			} else if !strings.Contains(err.Error(), "row 2") {
				t.Errorf("error %q does not name the offending row", err)
			}
		})
	}
}

func TestLoadCandidates(t *testing.T) {
	path := writeTempCSV(t, "proxies.csv",
		"uprn,postcode,calculatedareavalue\n300,B2 4QA,48.75\n301,B2 4QA,95\n")

	cands, err := LoadCandidates(false, path)
	if err != nil {
		t.Fatal(err)
	}
	want := []epc.CandidateProperty{
		{UPRN: "300", Postcode: "B2 4QA", FloorArea: 48.75},
		{UPRN: "301", Postcode: "B2 4QA", FloorArea: 95},
	}
	if diff := cmp.Diff(want, cands); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadProbabilities(t *testing.T) {
	path := writeTempCSV(t, "probs.csv",
		"uprn,a,b,c,d,e,f,g\n400,0.1,0.2,0.3,0.2,0.1,0.05,0.05\n")

	rows, err := LoadProbabilities(false, path, epc.NumRatings)
	if err != nil {
		t.Fatal(err)
	}
	want := []pipeline.ProbabilityRow{
		{UPRN: "400", Probs: []float64{0.1, 0.2, 0.3, 0.2, 0.1, 0.05, 0.05}},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("probability rows mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadProbabilitiesWidthMismatch(t *testing.T) {
	path := writeTempCSV(t, "probs.csv", "uprn,a,b\n400,0.5,0.5\n")
	if _, err := LoadProbabilities(false, path, epc.NumRatings); err == nil {
		t.Error("expected error for short probability row, got nil")
	}
}

func TestLoadDemand(t *testing.T) {
	path := writeTempCSV(t, "demand.csv",
		"settlement_date,nd,tsd\n2024-01-01,24150,25900\n2024-01-01,23800,25400\n")

	nd, err := LoadDemand(false, path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{24150, 23800}, nd); diff != "" {
		t.Errorf("demand mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteCombined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combined.csv")
	results := []arbitrate.Result{
		{UPRN: "500", Rating: epc.RatingB, Confidence: 0.75, WithinOne: 0.9, Predicted: epc.Inferred, Source: arbitrate.SourceAgreement},
		{UPRN: "501", Rating: epc.RatingC, Confidence: 0.8, WithinOne: math.NaN(), Predicted: epc.Inferred, Source: arbitrate.SourceSimilarityOverride},
	}
	if err := WriteCombined(false, path, results); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "uprn,rating,confidence,within_one,predicted,source\n" +
		"500,B,0.75,0.9,1,agreement\n" +
		"501,C,0.8,,1,similarity_override\n"
	if string(data) != want {
		t.Errorf("combined file = %q, want %q", data, want)
	}
}

func TestLoadCombinedRestoresNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combined.csv")
	written := []arbitrate.Result{
		{UPRN: "500", Rating: epc.RatingB, Confidence: 0.75, WithinOne: 0.9, Predicted: epc.Inferred, Source: arbitrate.SourceAgreement},
		{UPRN: "501", Rating: epc.RatingC, Confidence: 0.8, WithinOne: math.NaN(), Predicted: epc.Inferred, Source: arbitrate.SourceSimilarityOverride},
	}
	if err := WriteCombined(false, path, written); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadCombined(false, path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d results, want 2", len(loaded))
	}
	if loaded[0] != written[0] {
		t.Errorf("result 500 = %+v, want %+v", loaded[0], written[0])
	}
	// The empty within_one field must come back as NaN, not zero.
	if !math.IsNaN(loaded[1].WithinOne) {
		t.Errorf("within_one = %v, want NaN", loaded[1].WithinOne)
	}
	if loaded[1].Rating != epc.RatingC || loaded[1].Source != arbitrate.SourceSimilarityOverride {
		t.Errorf("result 501 = %+v", loaded[1])
	}
}

func TestWriteFinal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "final.csv")
	records := []pipeline.FinalRecord{
		{
			UPRN: "600", Postcode: "B1 1AA", FloorArea: 52.5,
			Rating: epc.RatingD, Confidence: 1, WithinOne: math.NaN(),
			Predicted: epc.GroundTruth, Source: arbitrate.SourceGroundTruth,
			Fuel: epc.FuelNonElectric, AdditionalLoad: 15000, AdditionalPeakLoad: 8000,
		},
	}
	if err := WriteFinal(false, path, records); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join(FinalHeader, ",") + "\n" +
		"600,B1 1AA,52.5,D,1,,0,ground_truth,1,15000,8000\n"
	if string(data) != want {
		t.Errorf("final file = %q, want %q", data, want)
	}
}
