package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/wmca-epc/internal/debug"
	"github.com/wmca-epc/internal/decision"
	"github.com/wmca-epc/internal/epc"
	"github.com/wmca-epc/internal/similarity"
)

// WriteMatches writes the similarity matcher's stage output.
func WriteMatches(localDebug bool, path string, matches []similarity.Match) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := []string{"uprn", "area", "sq_rating", "sq_confidence", "agreement", "mode_count", "total_matches"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, m := range matches {
		record := []string{
			m.UPRN,
			formatFloat(m.Area),
			string(m.Rating),
			formatFloat(m.Confidence),
			formatFloat(m.Agreement),
			strconv.Itoa(m.ModeCount),
			strconv.Itoa(m.TotalMatches),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write match for %s: %w", m.UPRN, err)
		}
	}

	debug.Output(localDebug, "wrote %d similarity matches to %s", len(matches), path)
	return nil
}

// LoadMatches reads a similarity stage output back in.
func LoadMatches(localDebug bool, path string) ([]similarity.Match, error) {
	cols, rows, err := readAll(path)
	if err != nil {
		return nil, err
	}

	matches := make([]similarity.Match, 0, len(rows))
	for i, record := range rows {
		m, err := parseMatch(cols, record)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		matches = append(matches, m)
	}

	debug.Output(localDebug, "loaded %d similarity matches from %s", len(matches), path)
	return matches, nil
}

func parseMatch(cols columnMap, record []string) (similarity.Match, error) {
	var m similarity.Match
	var err error
	if m.UPRN, err = cols.get(record, colUPRN); err != nil {
		return m, err
	}
	if m.Area, err = cols.getFloat(record, "area"); err != nil {
		return m, err
	}

	ratingRaw, err := cols.get(record, "sq_rating")
	if err != nil {
		return m, err
	}
	if m.Rating, err = epc.ParseRating(ratingRaw); err != nil {
		return m, err
	}

	if m.Confidence, err = cols.getFloat(record, "sq_confidence"); err != nil {
		return m, err
	}
	if m.Agreement, err = cols.getFloat(record, "agreement"); err != nil {
		return m, err
	}
	if m.ModeCount, err = cols.getInt(record, "mode_count"); err != nil {
		return m, err
	}
	if m.TotalMatches, err = cols.getInt(record, "total_matches"); err != nil {
		return m, err
	}
	return m, nil
}

// Decision pairs a classifier extraction with its property for stage output.
type Decision struct {
	UPRN       string
	Extraction decision.Extraction
}

// WriteDecisions writes the classifier decision extractor's stage output.
func WriteDecisions(localDebug bool, path string, decisions []Decision) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write([]string{"uprn", "rf_rating", "rf_confidence", "within_one"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, d := range decisions {
		record := []string{
			d.UPRN,
			string(d.Extraction.Rating),
			formatFloat(d.Extraction.Confidence),
			formatFloat(d.Extraction.WithinOne),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write decision for %s: %w", d.UPRN, err)
		}
	}

	debug.Output(localDebug, "wrote %d classifier decisions to %s", len(decisions), path)
	return nil
}

// LoadDecisions reads a classifier decision stage output back in.
func LoadDecisions(localDebug bool, path string) ([]Decision, error) {
	cols, rows, err := readAll(path)
	if err != nil {
		return nil, err
	}

	decisions := make([]Decision, 0, len(rows))
	for i, record := range rows {
		d, err := parseDecision(cols, record)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		decisions = append(decisions, d)
	}

	debug.Output(localDebug, "loaded %d classifier decisions from %s", len(decisions), path)
	return decisions, nil
}

func parseDecision(cols columnMap, record []string) (Decision, error) {
	var d Decision
	var err error
	if d.UPRN, err = cols.get(record, colUPRN); err != nil {
		return d, err
	}

	ratingRaw, err := cols.get(record, "rf_rating")
	if err != nil {
		return d, err
	}
	if d.Extraction.Rating, err = epc.ParseRating(ratingRaw); err != nil {
		return d, err
	}

	if d.Extraction.Confidence, err = cols.getFloat(record, "rf_confidence"); err != nil {
		return d, err
	}
	if d.Extraction.WithinOne, err = cols.getFloat(record, "within_one"); err != nil {
		return d, err
	}
	return d, nil
}
