package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spec-kit/trac-client/pkg/trac"
)

func newSearchCommand(s *session) *cobra.Command {
	var (
		flagOwner     string
		flagStatus    string
		flagComponent string
		flagMilestone string
		flagFilters   []string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Query tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := make(map[string]string)
			if flagOwner != "" {
				filters["owner"] = flagOwner
			}
			if flagStatus != "" {
				filters["status"] = flagStatus
			}
			if flagComponent != "" {
				filters["component"] = flagComponent
			}
			if flagMilestone != "" {
				filters["milestone"] = flagMilestone
			}
			for _, pair := range flagFilters {
				name, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid --filter %q, expected name=value", pair)
				}
				filters[name] = value
			}

			search := trac.NewTicketSearch(s.conn)
			tickets, err := search.Query(cmd.Context(), filters)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tOWNER\tSUMMARY")
			for _, ticket := range tickets {
				fmt.Fprintf(tw, "#%d\t%s\t%s\t%s\n",
					ticket.ID(), ticket.Status(), ticket.Owner(), ticket.Summary())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&flagOwner, "owner", "", "Filter by owner")
	cmd.Flags().StringVar(&flagStatus, "status", "", "Filter by status; prefix with ! to negate")
	cmd.Flags().StringVar(&flagComponent, "component", "", "Filter by component")
	cmd.Flags().StringVar(&flagMilestone, "milestone", "", "Filter by milestone")
	cmd.Flags().StringArrayVar(&flagFilters, "filter", nil, "Additional name=value filter (repeatable)")
	return cmd
}
