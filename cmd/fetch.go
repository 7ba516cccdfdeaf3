package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/permit-leads/internal/fetcher"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url> <dest>",
	Short: "Download a source export over HTTP(S) or FTP",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if _, err := fetcher.Fetch(ctx, args[0], args[1], fetcher.OptionsFrom(cfg)); err != nil {
			return eris.Wrap(err, "fetch")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
