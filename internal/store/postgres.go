package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/wmca-epc/internal/arbitrate"
	"github.com/wmca-epc/internal/epc"
	"github.com/wmca-epc/internal/pipeline"
)

// ResultStore persists pipeline runs and their final records to Postgres.
type ResultStore struct {
	db *sql.DB
}

// NewResultStore creates a result store over an open connection.
func NewResultStore(db *sql.DB) *ResultStore {
	return &ResultStore{db: db}
}

// EstimateRun is one recorded execution of the estimation pipeline.
type EstimateRun struct {
	RunID       int64      `json:"run_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Label       string     `json:"label"`
	Notes       string     `json:"notes"`

	TotalProperties    int `json:"total_properties"`
	GroundTruth        int `json:"ground_truth"`
	ClassifierOnly     int `json:"classifier_only"`
	Agreement          int `json:"agreement"`
	ClassifierOverride int `json:"classifier_override"`
	SimilarityOverride int `json:"similarity_override"`
	Errored            int `json:"errored"`
}

// EnsureSchema creates the result tables if they do not exist.
func (s *ResultStore) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS estimate_run (
			run_id               BIGSERIAL PRIMARY KEY,
			started_at           TIMESTAMPTZ NOT NULL,
			completed_at         TIMESTAMPTZ,
			label                TEXT NOT NULL,
			notes                TEXT NOT NULL DEFAULT '',
			total_properties     INTEGER NOT NULL DEFAULT 0,
			ground_truth         INTEGER NOT NULL DEFAULT 0,
			classifier_only      INTEGER NOT NULL DEFAULT 0,
			agreement            INTEGER NOT NULL DEFAULT 0,
			classifier_override  INTEGER NOT NULL DEFAULT 0,
			similarity_override  INTEGER NOT NULL DEFAULT 0,
			errored              INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create estimate_run: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS estimate_result (
			run_id               BIGINT NOT NULL REFERENCES estimate_run(run_id),
			uprn                 TEXT NOT NULL,
			postcode             TEXT NOT NULL,
			floor_area           DOUBLE PRECISION NOT NULL,
			rating               TEXT NOT NULL,
			confidence           DOUBLE PRECISION NOT NULL,
			within_one           DOUBLE PRECISION,
			predicted            INTEGER NOT NULL,
			source               TEXT NOT NULL,
			fuel                 INTEGER NOT NULL,
			additional_load      DOUBLE PRECISION NOT NULL,
			additional_peak_load DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, uprn)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create estimate_result: %w", err)
	}

	return nil
}

// CreateRun records the start of a pipeline run.
func (s *ResultStore) CreateRun(label, notes string) (*EstimateRun, error) {
	run := &EstimateRun{
		Label:     label,
		Notes:     notes,
		StartedAt: time.Now(),
	}

	err := s.db.QueryRow(`
		INSERT INTO estimate_run (started_at, label, notes)
		VALUES ($1, $2, $3)
		RETURNING run_id
	`, run.StartedAt, label, notes).Scan(&run.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to create estimate run: %w", err)
	}

	return run, nil
}

// CompleteRun marks a run as completed with its arbitration statistics.
func (s *ResultStore) CompleteRun(runID int64, stats arbitrate.Stats) error {
	_, err := s.db.Exec(`
		UPDATE estimate_run
		SET completed_at = $1, total_properties = $2, ground_truth = $3,
			classifier_only = $4, agreement = $5, classifier_override = $6,
			similarity_override = $7, errored = $8
		WHERE run_id = $9
	`, time.Now(), stats.Total, stats.GroundTruth, stats.ClassifierOnly,
		stats.Agreement, stats.ClassifierOverride, stats.SimilarityOverride,
		stats.Errored, runID)
	if err != nil {
		return fmt.Errorf("failed to complete estimate run %d: %w", runID, err)
	}
	return nil
}

// SaveFinal saves a run's final records in one transaction.
func (s *ResultStore) SaveFinal(runID int64, records []pipeline.FinalRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO estimate_result (
			run_id, uprn, postcode, floor_area, rating, confidence,
			within_one, predicted, source, fuel, additional_load, additional_peak_load
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		withinOne := sql.NullFloat64{Float64: r.WithinOne, Valid: !math.IsNaN(r.WithinOne)}
		_, err := stmt.Exec(runID, r.UPRN, r.Postcode, r.FloorArea, string(r.Rating),
			r.Confidence, withinOne, r.Predicted, string(r.Source), int(r.Fuel),
			r.AdditionalLoad, r.AdditionalPeakLoad)
		if err != nil {
			return fmt.Errorf("failed to save result for %s: %w", r.UPRN, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

const runColumns = `run_id, started_at, completed_at, label, notes,
	total_properties, ground_truth, classifier_only, agreement,
	classifier_override, similarity_override, errored`

func scanRun(row interface{ Scan(...interface{}) error }) (*EstimateRun, error) {
	var run EstimateRun
	err := row.Scan(&run.RunID, &run.StartedAt, &run.CompletedAt, &run.Label, &run.Notes,
		&run.TotalProperties, &run.GroundTruth, &run.ClassifierOnly, &run.Agreement,
		&run.ClassifierOverride, &run.SimilarityOverride, &run.Errored)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *ResultStore) ListRuns(limit int) ([]EstimateRun, error) {
	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM estimate_run
		ORDER BY run_id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []EstimateRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id.
func (s *ResultStore) GetRun(runID int64) (*EstimateRun, error) {
	run, err := scanRun(s.db.QueryRow(`
		SELECT `+runColumns+`
		FROM estimate_run
		WHERE run_id = $1
	`, runID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", runID, err)
	}
	return run, nil
}

func scanFinal(rows *sql.Rows) (int64, pipeline.FinalRecord, error) {
	var (
		runID     int64
		r         pipeline.FinalRecord
		rating    string
		source    string
		fuel      int
		withinOne sql.NullFloat64
	)
	err := rows.Scan(&runID, &r.UPRN, &r.Postcode, &r.FloorArea, &rating, &r.Confidence,
		&withinOne, &r.Predicted, &source, &fuel, &r.AdditionalLoad, &r.AdditionalPeakLoad)
	if err != nil {
		return 0, r, err
	}
	r.Rating = epc.Rating(rating)
	r.Source = arbitrate.Source(source)
	r.Fuel = epc.HeatingFuel(fuel)
	if withinOne.Valid {
		r.WithinOne = withinOne.Float64
	} else {
		r.WithinOne = math.NaN()
	}
	return runID, r, nil
}

// FinalRecords returns every final record of a run.
func (s *ResultStore) FinalRecords(runID int64) ([]pipeline.FinalRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, uprn, postcode, floor_area, rating, confidence, within_one,
			predicted, source, fuel, additional_load, additional_peak_load
		FROM estimate_result
		WHERE run_id = $1
		ORDER BY uprn
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for run %d: %w", runID, err)
	}
	defer rows.Close()

	var records []pipeline.FinalRecord
	for rows.Next() {
		_, r, err := scanFinal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PropertyHistory returns every recorded result for one UPRN, newest run
// first.
func (s *ResultStore) PropertyHistory(uprn string) ([]pipeline.FinalRecord, []int64, error) {
	rows, err := s.db.Query(`
		SELECT run_id, uprn, postcode, floor_area, rating, confidence, within_one,
			predicted, source, fuel, additional_load, additional_peak_load
		FROM estimate_result
		WHERE uprn = $1
		ORDER BY run_id DESC
	`, uprn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query property %s: %w", uprn, err)
	}
	defer rows.Close()

	var (
		records []pipeline.FinalRecord
		runIDs  []int64
	)
	for rows.Next() {
		runID, r, err := scanFinal(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan result: %w", err)
		}
		records = append(records, r)
		runIDs = append(runIDs, runID)
	}
	return records, runIDs, rows.Err()
}
