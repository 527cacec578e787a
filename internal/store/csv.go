package store

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/wmca-epc/internal/arbitrate"
	"github.com/wmca-epc/internal/debug"
	"github.com/wmca-epc/internal/epc"
	"github.com/wmca-epc/internal/pipeline"
)

// Column names of the cleaned input tables, as produced by the processing
// pipeline upstream of this repository.
const (
	colUPRN        = "uprn"
	colPostcode    = "postcode"
	colFloorArea   = "calculatedareavalue"
	colRating      = "current-energy-rating"
	colFuel        = "mainheat-description"
	colHeatingCost = "heating-cost-current"
	colConsumption = "energy-consumption-current"
	colDemand      = "nd"
)

// columnMap indexes a CSV header case-insensitively so loaders tolerate
// column reordering in the cleaned tables.
type columnMap map[string]int

func newColumnMap(header []string) columnMap {
	m := make(columnMap, len(header))
	for i, col := range header {
		m[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return m
}

func (m columnMap) get(record []string, col string) (string, error) {
	i, ok := m[col]
	if !ok {
		return "", fmt.Errorf("missing column %q", col)
	}
	if i >= len(record) {
		return "", fmt.Errorf("record too short for column %q", col)
	}
	return strings.TrimSpace(record[i]), nil
}

func (m columnMap) getFloat(record []string, col string) (float64, error) {
	s, err := m.get(record, col)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: invalid float %q", col, s)
	}
	return v, nil
}

// getNullableFloat treats an empty field as NaN, matching formatFloat.
func (m columnMap) getNullableFloat(record []string, col string) (float64, error) {
	s, err := m.get(record, col)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: invalid float %q", col, s)
	}
	return v, nil
}

func (m columnMap) getInt(record []string, col string) (int, error) {
	s, err := m.get(record, col)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("column %q: invalid integer %q", col, s)
	}
	return v, nil
}

func readAll(path string) (columnMap, [][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%s is empty", path)
	}
	return newColumnMap(rows[0]), rows[1:], nil
}

// LoadReferences loads the cleaned EPC register.
func LoadReferences(localDebug bool, path string) ([]epc.ReferenceProperty, error) {
	cols, rows, err := readAll(path)
	if err != nil {
		return nil, err
	}

	refs := make([]epc.ReferenceProperty, 0, len(rows))
	for i, record := range rows {
		var ref epc.ReferenceProperty
		if ref.UPRN, err = cols.get(record, colUPRN); err == nil {
			if ref.Postcode, err = cols.get(record, colPostcode); err == nil {
				err = parseReferenceRest(cols, record, &ref)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		refs = append(refs, ref)
	}

	debug.Output(localDebug, "loaded %d reference properties from %s", len(refs), path)
	return refs, nil
}

func parseReferenceRest(cols columnMap, record []string, ref *epc.ReferenceProperty) error {
	var err error
	if ref.FloorArea, err = cols.getFloat(record, colFloorArea); err != nil {
		return err
	}

	ratingRaw, err := cols.get(record, colRating)
	if err != nil {
		return err
	}
	if ref.Rating, err = epc.ParseRating(ratingRaw); err != nil {
		return err
	}

	fuelRaw, err := cols.getInt(record, colFuel)
	if err != nil {
		return err
	}
	if ref.Fuel, err = epc.ParseHeatingFuel(fuelRaw); err != nil {
		return err
	}

	if ref.HeatingCost, err = cols.getFloat(record, colHeatingCost); err != nil {
		return err
	}
	if ref.EnergyConsumption, err = cols.getFloat(record, colConsumption); err != nil {
		return err
	}
	return nil
}

// LoadCandidates loads the all-properties proxy table.
func LoadCandidates(localDebug bool, path string) ([]epc.CandidateProperty, error) {
	cols, rows, err := readAll(path)
	if err != nil {
		return nil, err
	}

	cands := make([]epc.CandidateProperty, 0, len(rows))
	for i, record := range rows {
		var c epc.CandidateProperty
		if c.UPRN, err = cols.get(record, colUPRN); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		if c.Postcode, err = cols.get(record, colPostcode); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		if c.FloorArea, err = cols.getFloat(record, colFloorArea); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		cands = append(cands, c)
	}

	debug.Output(localDebug, "loaded %d candidate properties from %s", len(cands), path)
	return cands, nil
}

// LoadProbabilities loads a classifier probability table: a uprn column plus
// width probability columns in class order.
func LoadProbabilities(localDebug bool, path string, width int) ([]pipeline.ProbabilityRow, error) {
	cols, rows, err := readAll(path)
	if err != nil {
		return nil, err
	}

	uprnIdx, ok := cols[colUPRN]
	if !ok {
		return nil, fmt.Errorf("%s: missing column %q", path, colUPRN)
	}

	out := make([]pipeline.ProbabilityRow, 0, len(rows))
	for i, record := range rows {
		if len(record) != width+1 {
			return nil, fmt.Errorf("%s row %d: have %d columns, want uprn plus %d probabilities",
				path, i+2, len(record), width)
		}

		row := pipeline.ProbabilityRow{Probs: make([]float64, 0, width)}
		for j, field := range record {
			if j == uprnIdx {
				row.UPRN = strings.TrimSpace(field)
				continue
			}
			p, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: invalid probability %q", path, i+2, field)
			}
			row.Probs = append(row.Probs, p)
		}
		out = append(out, row)
	}

	debug.Output(localDebug, "loaded %d probability rows from %s", len(out), path)
	return out, nil
}

// LoadDemand loads the national demand series' ND column.
func LoadDemand(localDebug bool, path string) ([]float64, error) {
	cols, rows, err := readAll(path)
	if err != nil {
		return nil, err
	}

	nd := make([]float64, 0, len(rows))
	for i, record := range rows {
		v, err := cols.getFloat(record, colDemand)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		nd = append(nd, v)
	}

	debug.Output(localDebug, "loaded %d demand samples from %s", len(nd), path)
	return nd, nil
}

// formatFloat writes a float the way the output contract expects: full
// precision, empty field for NaN.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCombined writes the combined-ratings table.
func WriteCombined(localDebug bool, path string, results []arbitrate.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write([]string{"uprn", "rating", "confidence", "within_one", "predicted", "source"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range results {
		record := []string{
			r.UPRN,
			string(r.Rating),
			formatFloat(r.Confidence),
			formatFloat(r.WithinOne),
			strconv.Itoa(r.Predicted),
			string(r.Source),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write record for %s: %w", r.UPRN, err)
		}
	}

	debug.Output(localDebug, "wrote %d combined ratings to %s", len(results), path)
	return nil
}

// LoadCombined reads a combined-ratings table back in, for resuming the
// pipeline from the load stage.
func LoadCombined(localDebug bool, path string) ([]arbitrate.Result, error) {
	cols, rows, err := readAll(path)
	if err != nil {
		return nil, err
	}

	results := make([]arbitrate.Result, 0, len(rows))
	for i, record := range rows {
		r, err := parseCombined(cols, record)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		results = append(results, r)
	}

	debug.Output(localDebug, "loaded %d combined ratings from %s", len(results), path)
	return results, nil
}

func parseCombined(cols columnMap, record []string) (arbitrate.Result, error) {
	var r arbitrate.Result
	var err error
	if r.UPRN, err = cols.get(record, colUPRN); err != nil {
		return r, err
	}

	ratingRaw, err := cols.get(record, "rating")
	if err != nil {
		return r, err
	}
	if r.Rating, err = epc.ParseRating(ratingRaw); err != nil {
		return r, err
	}

	if r.Confidence, err = cols.getFloat(record, "confidence"); err != nil {
		return r, err
	}
	if r.WithinOne, err = cols.getNullableFloat(record, "within_one"); err != nil {
		return r, err
	}
	if r.Predicted, err = cols.getInt(record, "predicted"); err != nil {
		return r, err
	}

	source, err := cols.get(record, "source")
	if err != nil {
		return r, err
	}
	r.Source = arbitrate.Source(source)
	return r, nil
}

// FinalHeader is the fixed column set of the final dataset.
var FinalHeader = []string{
	"uprn", "postcode", "floor_area", "rating", "confidence", "within_one",
	"predicted", "source", "fuel", "additional_load", "additional_peak_load",
}

// FinalRow formats one final record in FinalHeader order.
func FinalRow(r pipeline.FinalRecord) []string {
	return []string{
		r.UPRN,
		r.Postcode,
		formatFloat(r.FloorArea),
		string(r.Rating),
		formatFloat(r.Confidence),
		formatFloat(r.WithinOne),
		strconv.Itoa(r.Predicted),
		string(r.Source),
		strconv.Itoa(int(r.Fuel)),
		formatFloat(r.AdditionalLoad),
		formatFloat(r.AdditionalPeakLoad),
	}
}

// WriteFinal writes the final dataset, restricted to FinalHeader columns.
func WriteFinal(localDebug bool, path string, records []pipeline.FinalRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write(FinalHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		if err := w.Write(FinalRow(r)); err != nil {
			return fmt.Errorf("failed to write record for %s: %w", r.UPRN, err)
		}
	}

	debug.Output(localDebug, "wrote %d final records to %s", len(records), path)
	return nil
}
