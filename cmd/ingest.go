package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/ingest/batch"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand(deps *Deps) *cobra.Command {
	var (
		update      string
		authorities []string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch meetings and captions from providers",
		Long: `Fetch the meeting index of each authority from its provider, download
captions and index the transcripts.

Update modes:
  all       Process every meeting the provider lists
  new       Only meetings not stored yet
  missing   Only meetings without a transcript

Re-running a pass is safe: stored meetings, segments and offsets are never
duplicated.

Examples:
  council ingest
  council ingest --update new
  council ingest --update missing --authority eastsussex --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := batch.ParseMode(update)
			if err != nil {
				return err
			}

			rt, err := deps.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			results, runErr := rt.Processor(authorities).Run(cmd.Context(), mode)
			if results == nil {
				results = []*batch.AuthorityResult{}
			}

			if err := render(cmd.OutOrStdout(), deps.outputFormat(rt.Config), results, func(w io.Writer) error {
				return printIngestText(w, results)
			}); err != nil {
				return err
			}
			if retryable(results, runErr) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Some failures may clear on a later pass: council ingest --update missing")
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&update, "update", "u", string(batch.ModeAll), "Update mode: all, new, missing")
	cmd.Flags().StringSliceVarP(&authorities, "authority", "a", nil, "Only these authorities (repeatable)")
	return cmd
}

func printIngestText(w io.Writer, results []*batch.AuthorityResult) error {
	if len(results) == 0 {
		fmt.Fprintln(w, "No authorities to ingest.")
		return nil
	}

	for _, r := range results {
		if r.Skipped {
			fmt.Fprintf(w, "%s: %s\n", r.Authority, colored(colorYellow, "skipped (already running)"))
			continue
		}

		state := colored(colorGreen, "ok")
		if !r.Success() {
			state = colored(colorRed, fmt.Sprintf("%d failed", r.Failed))
		}
		fmt.Fprintf(w, "%s [%s] %s\n", r.Authority, r.Mode, state)
		fmt.Fprintf(w, "  listed %d, processed %d: %d indexed, %d metadata only\n",
			r.Listed, r.Total, r.Indexed, r.MetadataOnly)
		fmt.Fprintf(w, "  now %d meetings, %d transcripts (%s)\n",
			r.MeetingCount, r.TranscriptCount, r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s %s: %s\n", colored(colorRed, e.Code), e.UID, e.Error)
		}
	}
	return nil
}

// retryable reports whether any failure of the pass is worth another run.
func retryable(results []*batch.AuthorityResult, runErr error) bool {
	if runErr != nil && cserrors.IsRetryable(cserrors.CodeOf(runErr)) {
		return true
	}
	for _, r := range results {
		for _, e := range r.Errors {
			if e.Retryable {
				return true
			}
		}
	}
	return false
}
