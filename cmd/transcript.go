package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewTranscriptCommand creates the transcript command.
func NewTranscriptCommand(deps *Deps) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "transcript <uid>",
		Short: "Print the full transcript of a meeting",
		Long: `Print the full transcript of a meeting as plain text, with a short
header naming the meeting, its authority and its date.

Examples:
  council transcript 612345
  council transcript 612345 -f full-council.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := deps.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			text, err := rt.Search.Transcript(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(text), 0644); err != nil {
					return fmt.Errorf("writing transcript: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outFile)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "file", "f", "", "Write to this file instead of stdout")
	return cmd
}
