package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/dedupe"
	"github.com/sells-group/permit-leads/internal/pipeline"
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse a CSV, XLSX or HTML permit export into NDJSON rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p, err := newParser()
		if err != nil {
			return err
		}
		source, _ := cmd.Flags().GetString("source")
		source = sourceName(source, args[0])

		n, err := pipeline.Parse(ctx, p, args[0], source, pipeline.NewWriter(cmd.OutOrStdout()))
		if err != nil {
			return eris.Wrap(err, "parse")
		}
		zap.L().Info("parse complete", zap.String("source", source), zap.Int("rows", n))
		return nil
	},
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Add address components and dedupe keys to NDJSON rows on stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		_, err := pipeline.Normalize(ctx, pipeline.NewReader(cmd.InOrStdin()), pipeline.NewWriter(cmd.OutOrStdout()))
		return eris.Wrap(err, "normalize")
	},
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Resolve coordinates and county for NDJSON rows on stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, closeGeocoder, err := newGeocoder(ctx)
		if err != nil {
			return err
		}
		defer closeGeocoder()

		_, err = pipeline.Geocode(ctx, g, pipeline.NewReader(cmd.InOrStdin()), pipeline.NewWriter(cmd.OutOrStdout()))
		return eris.Wrap(err, "geocode")
	},
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Assign duplicate group ids to the NDJSON batch on stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d := dedupe.New(dedupeConfig())
		_, err := pipeline.Dedupe(ctx, d, pipeline.NewReader(cmd.InOrStdin()), pipeline.NewWriter(cmd.OutOrStdout()))
		return eris.Wrap(err, "dedupe")
	},
}

var upsertCmd = &cobra.Command{
	Use:   "upsert",
	Short: "Upsert the NDJSON batch on stdin and materialize leads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, closeSink, err := newSink(ctx)
		if err != nil {
			return err
		}
		defer closeSink()

		res, err := pipeline.Upsert(ctx, s, pipeline.NewReader(cmd.InOrStdin()))
		if err != nil {
			return eris.Wrap(err, "upsert")
		}
		zap.L().Info("upsert complete",
			zap.Int("rows", res.Rows),
			zap.Int("chunks", res.Chunks),
			zap.Int("leads_inserted", res.Leads.Inserted),
			zap.Int("leads_updated", res.Leads.Updated),
			zap.Int("leads_processed", res.Leads.Total),
		)
		return nil
	},
}

func init() {
	parseCmd.Flags().String("source", "", "source name recorded on every row (default: file name)")

	rootCmd.AddCommand(parseCmd, normalizeCmd, geocodeCmd, dedupeCmd, upsertCmd)
}
