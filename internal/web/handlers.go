package web

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wmca-epc/internal/pipeline"
	"github.com/wmca-epc/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth reports server and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns returns recent pipeline runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	runs, err := s.results.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleGetRun returns one run's summary.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.results.GetRun(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleGetProperty returns every recorded result for one UPRN.
func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	uprn := mux.Vars(r)["uprn"]

	records, runIDs, err := s.results.PropertyHistory(uprn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no results for uprn %s", uprn))
		return
	}

	type entry struct {
		RunID  int64                `json:"run_id"`
		Result pipeline.FinalRecord `json:"result"`
	}
	entries := make([]entry, len(records))
	for i := range records {
		entries[i] = entry{RunID: runIDs[i], Result: records[i]}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"uprn": uprn, "results": entries})
}

// handleExport streams a run's final dataset as CSV.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	records, err := s.results.FinalRecords(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=final_dataset_run_%d.csv", runID))

	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(store.FinalHeader); err != nil {
		return
	}
	for _, rec := range records {
		if err := cw.Write(store.FinalRow(rec)); err != nil {
			return
		}
	}
}
