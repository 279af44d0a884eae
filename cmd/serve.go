package cmd

import (
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/council-search/pkg/ingest/task"
	"github.com/otherjamesbrown/council-search/pkg/logging"
	"github.com/otherjamesbrown/council-search/pkg/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(deps *Deps) *cobra.Command {
	var (
		addr     string
		schedule bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. With --schedule (or ingest.enabled in the config) a
full ingestion pass runs every ingest.full_interval and a pass for new
meetings every ingest.new_interval.

Endpoints:
  GET  /meetings/search
  GET  /meetings/transcript_counts_by_authority
  GET  /meetings/authorities
  POST /meetings/add_authority
  POST /meetings/add_provider
  POST /meetings/load
  GET  /meetings/load/status
  GET  /meetings/download_transcript/{uid}
  GET  /healthz, /version, /metrics

Examples:
  council serve
  council serve --addr :9000 --schedule`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := deps.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			cfg := rt.Config
			if addr != "" {
				cfg.HTTP.Addr = addr
			}

			reingest := task.New(rt.Processor(nil), task.Config{
				FullInterval: cfg.Ingest.FullInterval,
				NewInterval:  cfg.Ingest.NewInterval,
			}, rt.Logger)
			defer reingest.Stop()

			if schedule || cfg.Ingest.Enabled {
				if err := reingest.Start(ctx); err != nil {
					return err
				}
			}

			srv := server.New(server.Config{
				Addr:         cfg.HTTP.Addr,
				ReadTimeout:  cfg.HTTP.ReadTimeout,
				WriteTimeout: cfg.HTTP.WriteTimeout,
			}, server.Deps{
				Search:   rt.Search,
				Catalog:  rt.Store,
				Loader:   reingest,
				Health:   rt.Health,
				Gatherer: rt.Registry,
			}, rt.Logger)

			rt.Logger.Info("Starting council-search",
				logging.F("driver", cfg.Storage.Driver),
				logging.F("addr", cfg.HTTP.Addr),
				logging.F("schedule", schedule || cfg.Ingest.Enabled))
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&schedule, "schedule", false, "Run periodic ingestion")
	return cmd
}
