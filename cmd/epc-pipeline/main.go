package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/wmca-epc/internal/arbitrate"
	"github.com/wmca-epc/internal/config"
	"github.com/wmca-epc/internal/db"
	"github.com/wmca-epc/internal/decision"
	"github.com/wmca-epc/internal/epc"
	"github.com/wmca-epc/internal/pipeline"
	"github.com/wmca-epc/internal/similarity"
	"github.com/wmca-epc/internal/store"
	"github.com/wmca-epc/internal/web"
)

var (
	flagConfig string
	flagDebug  bool
)

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	rootCmd := &cobra.Command{
		Use:   "epc-pipeline",
		Short: "WMCA EPC estimation and additional-load pipeline",
		Long:  `Estimates EPC ratings and heating fuel for unrated properties and converts the results into additional network load for grid-capacity planning`,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML pipeline config (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", config.GetEnvBool("DEBUG", false), "enable debug output")

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createSimilarityCmd())
	rootCmd.AddCommand(createDecideCmd())
	rootCmd.AddCommand(createCombineCmd())
	rootCmd.AddCommand(createLoadCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createPingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// createRunCmd creates the full-pipeline subcommand.
func createRunCmd() *cobra.Command {
	var (
		epcPath    string
		proxyPath  string
		ratingPath string
		fuelPath   string
		demandPath string
		outDir     string
		save       bool
		label      string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full estimation pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPipeline(flagConfig)
			if err != nil {
				return err
			}

			inputs, err := loadInputs(epcPath, proxyPath, ratingPath, fuelPath, demandPath)
			if err != nil {
				return err
			}

			out, err := pipeline.Run(flagDebug, cfg, *inputs)
			if err != nil {
				return err
			}

			fmt.Printf("Arbitrated %d properties: truth=%d classifier_only=%d agree=%d override=%d sim_override=%d\n",
				out.Stats.Total, out.Stats.GroundTruth, out.Stats.ClassifierOnly,
				out.Stats.Agreement, out.Stats.ClassifierOverride, out.Stats.SimilarityOverride)
			fmt.Printf("Peak ratio: %.9f\n", out.PeakRatio)

			reportRecordErrors(out.RecordErrors)

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output dir: %w", err)
			}
			if err := store.WriteCombined(flagDebug, outDir+"/combined_epc_ratings.csv", out.Combined); err != nil {
				return err
			}
			if err := store.WriteFinal(flagDebug, outDir+"/full_dataset_outputs.csv", out.Final); err != nil {
				return err
			}
			fmt.Printf("Wrote %d combined ratings and %d final records to %s\n",
				len(out.Combined), len(out.Final), outDir)

			if save {
				return saveRun(label, out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&epcPath, "epc", "data/processed/cleaned_epc_data.csv", "cleaned EPC register CSV")
	cmd.Flags().StringVar(&proxyPath, "proxies", "data/processed/homes_with_proxies.csv", "all-properties proxy CSV")
	cmd.Flags().StringVar(&ratingPath, "rating-probs", "outputs/epc/rating_probabilities.csv", "EPC-rating probability CSV")
	cmd.Flags().StringVar(&fuelPath, "fuel-probs", "outputs/mainheat/fuel_probabilities.csv", "heating-fuel probability CSV")
	cmd.Flags().StringVar(&demandPath, "demand", "data/raw/demanddata_2017.csv", "national demand series CSV")
	cmd.Flags().StringVar(&outDir, "out", "outputs", "output directory")
	cmd.Flags().BoolVar(&save, "save", false, "persist the run to the results database")
	cmd.Flags().StringVar(&label, "label", "pipeline run", "run label when saving")

	return cmd
}

// createSimilarityCmd creates the similarity-only stage subcommand.
func createSimilarityCmd() *cobra.Command {
	var (
		epcPath   string
		proxyPath string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "similarity",
		Short: "Run only the floor-area similarity matcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPipeline(flagConfig)
			if err != nil {
				return err
			}

			refs, err := store.LoadReferences(flagDebug, epcPath)
			if err != nil {
				return err
			}
			cands, err := store.LoadCandidates(flagDebug, proxyPath)
			if err != nil {
				return err
			}

			matches := similarity.NewMatcher(cfg.Similarity).Run(flagDebug, refs, cands)
			fmt.Printf("Matched %d of %d candidate properties\n", len(matches), len(cands))

			return store.WriteMatches(flagDebug, outPath, matches)
		},
	}

	cmd.Flags().StringVar(&epcPath, "epc", "data/processed/cleaned_epc_data.csv", "cleaned EPC register CSV")
	cmd.Flags().StringVar(&proxyPath, "proxies", "data/processed/homes_with_proxies.csv", "all-properties proxy CSV")
	cmd.Flags().StringVar(&outPath, "out", "outputs/sq_results.csv", "output CSV path")

	return cmd
}

// createDecideCmd creates the classifier-decision stage subcommand.
func createDecideCmd() *cobra.Command {
	var (
		probsPath string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Extract ratings and confidences from classifier probabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := store.LoadProbabilities(flagDebug, probsPath, epc.NumRatings)
			if err != nil {
				return err
			}

			decisions := make([]store.Decision, 0, len(rows))
			var recordErrs []epc.RecordError
			for _, row := range rows {
				ex, err := decision.ExtractRating(row.Probs)
				if err != nil {
					recordErrs = append(recordErrs, epc.RecordError{UPRN: row.UPRN, Err: err})
					continue
				}
				decisions = append(decisions, store.Decision{UPRN: row.UPRN, Extraction: ex})
			}

			fmt.Printf("Extracted %d decisions from %d probability rows\n", len(decisions), len(rows))
			reportRecordErrors(recordErrs)

			return store.WriteDecisions(flagDebug, outPath, decisions)
		},
	}

	cmd.Flags().StringVar(&probsPath, "probs", "outputs/epc/rating_probabilities.csv", "probability CSV path")
	cmd.Flags().StringVar(&outPath, "out", "outputs/rf_decisions.csv", "output CSV path")

	return cmd
}

// createCombineCmd creates the arbitration stage subcommand, resuming from
// persisted similarity and decision stage outputs.
func createCombineCmd() *cobra.Command {
	var (
		epcPath   string
		proxyPath string
		simPath   string
		decPath   string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Arbitrate similarity and classifier estimates into one rating per property",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPipeline(flagConfig)
			if err != nil {
				return err
			}

			refs, err := store.LoadReferences(flagDebug, epcPath)
			if err != nil {
				return err
			}
			cands, err := store.LoadCandidates(flagDebug, proxyPath)
			if err != nil {
				return err
			}
			matches, err := store.LoadMatches(flagDebug, simPath)
			if err != nil {
				return err
			}
			decisions, err := store.LoadDecisions(flagDebug, decPath)
			if err != nil {
				return err
			}

			simByUPRN := make(map[string]similarity.Match, len(matches))
			for _, m := range matches {
				simByUPRN[m.UPRN] = m
			}
			ratingByUPRN := make(map[string]decision.Extraction, len(decisions))
			for _, d := range decisions {
				ratingByUPRN[d.UPRN] = d.Extraction
			}

			inputs := pipeline.ArbitrationInputs(refs, cands, ratingByUPRN, simByUPRN)
			results, recordErrs, stats := arbitrate.Run(flagDebug, cfg.Arbitrate, inputs)

			fmt.Printf("Arbitrated %d properties: truth=%d classifier_only=%d agree=%d override=%d sim_override=%d\n",
				stats.Total, stats.GroundTruth, stats.ClassifierOnly,
				stats.Agreement, stats.ClassifierOverride, stats.SimilarityOverride)
			reportRecordErrors(recordErrs)

			return store.WriteCombined(flagDebug, outPath, results)
		},
	}

	cmd.Flags().StringVar(&epcPath, "epc", "data/processed/cleaned_epc_data.csv", "cleaned EPC register CSV")
	cmd.Flags().StringVar(&proxyPath, "proxies", "data/processed/homes_with_proxies.csv", "all-properties proxy CSV")
	cmd.Flags().StringVar(&simPath, "sim", "outputs/sq_results.csv", "similarity stage CSV")
	cmd.Flags().StringVar(&decPath, "decisions", "outputs/rf_decisions.csv", "decision stage CSV")
	cmd.Flags().StringVar(&outPath, "out", "outputs/combined_epc_ratings.csv", "output CSV path")

	return cmd
}

// createLoadCmd creates the load-estimation stage subcommand, resuming from a
// persisted combined-ratings file.
func createLoadCmd() *cobra.Command {
	var (
		combinedPath string
		epcPath      string
		proxyPath    string
		fuelPath     string
		demandPath   string
		outPath      string
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Estimate additional network load for arbitrated ratings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPipeline(flagConfig)
			if err != nil {
				return err
			}

			combined, err := store.LoadCombined(flagDebug, combinedPath)
			if err != nil {
				return err
			}
			refs, err := store.LoadReferences(flagDebug, epcPath)
			if err != nil {
				return err
			}
			cands, err := store.LoadCandidates(flagDebug, proxyPath)
			if err != nil {
				return err
			}
			fuelProbs, err := store.LoadProbabilities(flagDebug, fuelPath, 2)
			if err != nil {
				return err
			}
			demand, err := store.LoadDemand(flagDebug, demandPath)
			if err != nil {
				return err
			}

			out, err := pipeline.Finalize(flagDebug, cfg, pipeline.Inputs{
				References: refs,
				Candidates: cands,
				FuelProbs:  fuelProbs,
				Demand:     demand,
			}, combined)
			if err != nil {
				return err
			}

			fmt.Printf("Peak ratio: %.9f\n", out.PeakRatio)
			fmt.Printf("Estimated %d of %d properties\n", len(out.Final), len(out.Combined))
			reportRecordErrors(out.RecordErrors)

			return store.WriteFinal(flagDebug, outPath, out.Final)
		},
	}

	cmd.Flags().StringVar(&combinedPath, "combined", "outputs/combined_epc_ratings.csv", "combined-ratings CSV")
	cmd.Flags().StringVar(&epcPath, "epc", "data/processed/cleaned_epc_data.csv", "cleaned EPC register CSV")
	cmd.Flags().StringVar(&proxyPath, "proxies", "data/processed/homes_with_proxies.csv", "all-properties proxy CSV")
	cmd.Flags().StringVar(&fuelPath, "fuel-probs", "outputs/mainheat/fuel_probabilities.csv", "heating-fuel probability CSV")
	cmd.Flags().StringVar(&demandPath, "demand", "data/raw/demanddata_2017.csv", "national demand series CSV")
	cmd.Flags().StringVar(&outPath, "out", "outputs/full_dataset_outputs.csv", "output CSV path")

	return cmd
}

// createServeCmd creates the review-server subcommand.
func createServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the results review API",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.NewConnection()
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer conn.Close()

			if err := store.NewResultStore(conn.DB).EnsureSchema(); err != nil {
				return err
			}

			return web.NewServer(web.Config{Host: host, Port: port}, conn.DB).Start()
		},
	}

	cmd.Flags().StringVar(&host, "host", web.DefaultConfig().Host, "listen host")
	cmd.Flags().IntVar(&port, "port", web.DefaultConfig().Port, "listen port")

	return cmd
}

// createPingCmd creates a command to test database connectivity.
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test results database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.NewConnection()
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer conn.Close()

			fmt.Println("Database connection successful!")

			var count int
			if err := conn.DB.QueryRow("SELECT COUNT(*) FROM estimate_run").Scan(&count); err != nil {
				log.Printf("Error counting estimate_run records: %v", err)
			} else {
				fmt.Printf("Recorded runs: %d\n", count)
			}
			return nil
		},
	}
}

// loadInputs loads every table the pipeline consumes.
func loadInputs(epcPath, proxyPath, ratingPath, fuelPath, demandPath string) (*pipeline.Inputs, error) {
	refs, err := store.LoadReferences(flagDebug, epcPath)
	if err != nil {
		return nil, err
	}
	cands, err := store.LoadCandidates(flagDebug, proxyPath)
	if err != nil {
		return nil, err
	}
	ratingProbs, err := store.LoadProbabilities(flagDebug, ratingPath, epc.NumRatings)
	if err != nil {
		return nil, err
	}
	fuelProbs, err := store.LoadProbabilities(flagDebug, fuelPath, 2)
	if err != nil {
		return nil, err
	}
	demand, err := store.LoadDemand(flagDebug, demandPath)
	if err != nil {
		return nil, err
	}

	return &pipeline.Inputs{
		References:  refs,
		Candidates:  cands,
		RatingProbs: ratingProbs,
		FuelProbs:   fuelProbs,
		Demand:      demand,
	}, nil
}

// saveRun persists a completed pipeline run to the results database.
func saveRun(label string, out *pipeline.Output) error {
	conn, err := db.NewConnection()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	results := store.NewResultStore(conn.DB)
	if err := results.EnsureSchema(); err != nil {
		return err
	}

	run, err := results.CreateRun(label, fmt.Sprintf("%d record errors", len(out.RecordErrors)))
	if err != nil {
		return err
	}
	if err := results.SaveFinal(run.RunID, out.Final); err != nil {
		return err
	}
	if err := results.CompleteRun(run.RunID, out.Stats); err != nil {
		return err
	}

	fmt.Printf("Saved run %d with %d final records\n", run.RunID, len(out.Final))
	return nil
}

// reportRecordErrors prints per-record contract violations collected during
// a batch. The batch itself still completes for the remaining records.
func reportRecordErrors(errs []epc.RecordError) {
	if len(errs) == 0 {
		return
	}
	fmt.Printf("%d records failed and were excluded:\n", len(errs))
	for _, e := range errs {
		fmt.Printf("  %v\n", e)
	}
}
