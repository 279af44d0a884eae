package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/council-search/pkg/search"
	"github.com/otherjamesbrown/council-search/pkg/search/query"
)

const defaultSearchLimit = 20

// NewSearchCommand creates the search command.
func NewSearchCommand(deps *Deps) *cobra.Command {
	var (
		authorities []string
		startDate   string
		endDate     string
		sortBy      string
		limit       int
		offset      int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search meeting transcripts",
		Long: `Search the transcripts of every ingested meeting.

The query uses full-text syntax: bare words match their stems, "quoted
phrases" match in order, and AND/OR/NOT combine terms. Each result links to
the recording at the position where the first match is spoken.

Examples:
  council search "bus lane"
  council search planning --authority eastsussex --start 2023-01-01
  council search budget --sort date_desc --limit 5 --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sort, err := query.ParseSortOrder(sortBy)
			if err != nil {
				return err
			}

			rt, err := deps.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			resp, err := rt.Search.Search(cmd.Context(), query.Request{
				Query:       args[0],
				Authorities: authorities,
				StartDate:   startDate,
				EndDate:     endDate,
				Sort:        sort,
				Limit:       limit,
				Offset:      offset,
			})
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), deps.outputFormat(rt.Config), resp, func(w io.Writer) error {
				return printSearchText(w, resp, offset)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&authorities, "authority", "a", nil, "Restrict to these authorities (repeatable)")
	cmd.Flags().StringVar(&startDate, "start", "", "Earliest meeting datetime, e.g. 2023-05-01")
	cmd.Flags().StringVar(&endDate, "end", "", "Latest meeting datetime, compared as text: a bare YYYY-MM-DD excludes meetings on that day")
	cmd.Flags().StringVar(&sortBy, "sort", "relevance", "Sort order: relevance, date_asc, date_desc")
	cmd.Flags().IntVarP(&limit, "limit", "l", defaultSearchLimit, "Maximum results (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Results to skip")

	return cmd
}

func printSearchText(w io.Writer, resp *search.Response, offset int) error {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No matches.")
		return nil
	}

	for i, r := range resp.Results {
		fmt.Fprintf(w, "%d. %s\n", offset+i+1, r.Title)
		fmt.Fprintf(w, "   %s  %s  at %s\n", r.Authority, r.Datetime, r.StartTime)
		fmt.Fprintf(w, "   %s\n", truncate(r.Snippet, 200))
		fmt.Fprintf(w, "   %s\n\n", r.Link)
	}
	fmt.Fprintf(w, "Showing %d-%d of %d\n", offset+1, offset+len(resp.Results), resp.Total)
	return nil
}
