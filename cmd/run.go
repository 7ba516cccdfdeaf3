package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/pipeline"
	"github.com/sells-group/permit-leads/internal/sink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run parse, normalize, geocode, dedupe and upsert in one process",
	Long: `Runs the whole ingestion chain for one source file. The parser streams rows
into normalize and geocode; dedupe and upsert then work on the full batch.

Examples:
  # Ingest a city export
  run --file austin.csv --source austin

  # Check grouping without touching the store or the geocoder
  run --file austin.csv --skip-geocode --dry-run > rows.ndjson`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	f := runCmd.Flags()
	f.String("file", "", "source file to ingest (.csv, .xlsx, .xls, .htm, .html)")
	f.String("source", "", "source name recorded on every row (default: file name)")
	f.Bool("skip-geocode", false, "skip the geocoding stage")
	f.Bool("dry-run", false, "write final rows as NDJSON to stdout instead of upserting")
	_ = runCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	file, _ := cmd.Flags().GetString("file")
	source, _ := cmd.Flags().GetString("source")
	skipGeocode, _ := cmd.Flags().GetBool("skip-geocode")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	source = sourceName(source, file)

	p, err := newParser()
	if err != nil {
		return err
	}

	var geocoder pipeline.Geocoder
	if !skipGeocode {
		g, closeGeocoder, err := newGeocoder(ctx)
		if err != nil {
			return err
		}
		defer closeGeocoder()
		geocoder = g
	}

	opts := pipeline.RunOptions{File: file, Source: source}
	var s sink.Sink
	if dryRun {
		opts.Output = cmd.OutOrStdout()
	} else {
		var closeSink func()
		s, closeSink, err = newSink(ctx)
		if err != nil {
			return err
		}
		defer closeSink()
	}

	rep, err := pipeline.NewRunner(p, geocoder, dedupeConfig(), s).Run(ctx, opts)
	if err != nil {
		return eris.Wrap(err, "run")
	}

	zap.L().Info("run complete",
		zap.String("run_id", rep.RunID),
		zap.Int("rows", rep.Rows),
		zap.Int("located", rep.Located),
		zap.Int("groups", rep.Groups),
		zap.Int("leads_inserted", rep.Upsert.Leads.Inserted),
		zap.Int("leads_updated", rep.Upsert.Leads.Updated),
	)
	return nil
}
