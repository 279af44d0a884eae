package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/council-search/pkg/provider"
	"github.com/otherjamesbrown/council-search/pkg/store"
)

// NewProviderCommand creates the provider command group.
func NewProviderCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage meeting-video providers",
	}
	cmd.AddCommand(newProviderAddCommand(deps))
	cmd.AddCommand(newProviderTypesCommand(deps))
	return cmd
}

func newProviderAddCommand(deps *Deps) *cobra.Command {
	var rawConfig string

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register a provider",
		Long: `Register a provider. The id selects the implementation used to list
meetings and fetch captions (see 'council provider types'). --config is a
JSON object passed to the implementation. Adding a provider that already
exists leaves it unchanged.

Examples:
  council provider add publici
  council provider add publici --config '{"portal_base_url":"http://localhost:8080"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := store.Provider{ID: args[0]}
			if rawConfig != "" {
				if err := json.Unmarshal([]byte(rawConfig), &p.Config); err != nil {
					return fmt.Errorf("invalid --config: %w", err)
				}
			}

			rt, err := deps.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Store.AddProvider(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Provider %s added\n", p.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&rawConfig, "config", "c", "", "Provider configuration as a JSON object")
	return cmd
}

func newProviderTypesCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the built-in provider implementations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			names := provider.Names()
			return render(cmd.OutOrStdout(), deps.outputFormat(cfg), names, func(w io.Writer) error {
				for _, n := range names {
					fmt.Fprintln(w, n)
				}
				return nil
			})
		},
	}
}
