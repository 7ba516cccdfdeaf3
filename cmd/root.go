package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/config"
	"github.com/sells-group/permit-leads/internal/metrics"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "permit-leads",
	Short: "Permit ingestion pipeline and nightly lead scorer",
	Long: `Parses municipal permit exports, normalizes and geocodes addresses, groups
duplicates and upserts the result into the leads store. Each stage reads and
writes newline-delimited JSON so stages compose with pipes:

  permit-leads parse permits.csv --source austin | permit-leads normalize |
    permit-leads geocode | permit-leads dedupe | permit-leads upsert

The score command recomputes lead quality scores from recent feedback events.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
}

// execute runs the command tree and reports the exit code. Metrics are pushed
// and the logger synced whether or not the command failed.
func execute() int {
	cmd, err := rootCmd.ExecuteC()
	if cmd != nil && cmd.Runnable() {
		pushMetrics(cmd.Name())
	}
	_ = zap.L().Sync()
	if err != nil {
		return 1
	}
	return 0
}

// pushMetrics sends the registry to the Pushgateway when one is configured.
func pushMetrics(command string) {
	if cfg == nil || cfg.Metrics.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, map[string]string{"command": command}); err != nil {
		zap.L().Warn("metrics push failed", zap.String("command", command), zap.Error(err))
	}
}

func main() {
	os.Exit(execute())
}
