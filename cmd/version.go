package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/council-search/config"
	"github.com/otherjamesbrown/council-search/pkg/buildinfo"
)

// NewVersionCommand creates the version command. It does not need a config file.
func NewVersionCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildinfo.Get(buildinfo.ServiceName)

			format := config.OutputFormat(deps.Options.Output)
			if !format.IsValid() {
				format = config.OutputFormatText
			}
			return render(cmd.OutOrStdout(), format, info, func(w io.Writer) error {
				fmt.Fprintf(w, "council version %s\n", info.Version)
				fmt.Fprintf(w, "  commit:     %s\n", info.Commit)
				fmt.Fprintf(w, "  built:      %s\n", info.BuildTime)
				fmt.Fprintf(w, "  go:         %s\n", info.GoVersion)
				return nil
			})
		},
	}
}
