// Package main provides the council CLI entry point.
// council indexes the captions of recorded council meetings and searches them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/council-search/cmd"
)

// newRootCommand builds the command tree.
func newRootCommand(deps *cmd.Deps) *cobra.Command {
	root := &cobra.Command{
		Use:   "council",
		Short: "Search the transcripts of recorded council meetings",
		Long: `council ingests the caption files of webcast council meetings, indexes
their text and answers full-text searches with links that jump to the moment
each match was spoken.

COMMON WORKFLOWS:
  Set up:    council provider add publici  →  council authority add eastsussex -p publici
  Ingest:    council ingest --update new
  Search:    council search "bus lane" --authority eastsussex
  Serve:     council serve --schedule

CONFIGURATION:
  ~/.council/config.yaml (or $COUNCIL_CONFIG_DIR/config.yaml), overridden by
  COUNCIL_* environment variables, overridden by flags.`,
		SilenceUsage: true,
	}

	opts := deps.Options
	root.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "Config file (default ~/.council/config.yaml)")
	root.PersistentFlags().StringVarP(&opts.Output, "output", "o", "", "Output format: text, json, yaml (default text on a terminal, json otherwise)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		cmd.NewServeCommand(deps),
		cmd.NewSearchCommand(deps),
		cmd.NewIngestCommand(deps),
		cmd.NewAuthorityCommand(deps),
		cmd.NewProviderCommand(deps),
		cmd.NewTranscriptCommand(deps),
		cmd.NewDbCommand(deps),
		cmd.NewVersionCommand(deps),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(cmd.DefaultDeps(&cmd.GlobalOptions{}))
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
