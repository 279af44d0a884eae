package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/council-search/pkg/store"
)

// NewAuthorityCommand creates the authority command group.
func NewAuthorityCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "authority",
		Short:   "Manage the authorities whose meetings are ingested",
		Aliases: []string{"authorities"},
	}
	cmd.AddCommand(newAuthorityAddCommand(deps))
	cmd.AddCommand(newAuthorityListCommand(deps))
	cmd.AddCommand(newAuthorityCountsCommand(deps))
	return cmd
}

func newAuthorityAddCommand(deps *Deps) *cobra.Command {
	var providerID, niceName string

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register an authority",
		Long: `Register an authority served by an existing provider. Adding an
authority that already exists leaves it unchanged.

Examples:
  council authority add eastsussex --provider publici --name "East Sussex"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := deps.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Store.AddAuthority(cmd.Context(), store.Authority{
				ID:       args[0],
				Provider: providerID,
				NiceName: niceName,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Authority %s added (provider %s)\n", args[0], providerID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&providerID, "provider", "p", "", "Provider serving this authority")
	cmd.Flags().StringVarP(&niceName, "name", "n", "", "Display name")
	cmd.MarkFlagRequired("provider")
	return cmd
}

func newAuthorityListCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List authorities with meeting and transcript counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := deps.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			authorities, err := rt.Search.Authorities(cmd.Context())
			if err != nil {
				return err
			}
			if authorities == nil {
				authorities = []store.Authority{}
			}

			return render(cmd.OutOrStdout(), deps.outputFormat(rt.Config), authorities, func(w io.Writer) error {
				if len(authorities) == 0 {
					fmt.Fprintln(w, "No authorities registered.")
					return nil
				}
				fmt.Fprintf(w, "%-20s %-12s %-28s %9s %12s\n", "AUTHORITY", "PROVIDER", "NAME", "MEETINGS", "TRANSCRIPTS")
				for _, a := range authorities {
					fmt.Fprintf(w, "%-20s %-12s %-28s %9d %12d\n",
						truncate(a.ID, 20), truncate(a.Provider, 12),
						truncate(valueOrDefault(a.NiceName, "-"), 28),
						a.MeetingCount, a.TranscriptCount)
				}
				return nil
			})
		},
	}
}

func newAuthorityCountsCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Show transcript counts for authorities with transcripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := deps.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			counts, err := rt.Search.TranscriptCounts(cmd.Context())
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), deps.outputFormat(rt.Config), counts, func(w io.Writer) error {
				ids := make([]string, 0, len(counts))
				for id := range counts {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					fmt.Fprintf(w, "%-20s %d\n", id, counts[id])
				}
				return nil
			})
		},
	}
}
