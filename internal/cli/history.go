package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/trac-client/pkg/trac"
)

func newHistoryCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show a ticket's change log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTicketID(args[0])
			if err != nil {
				return err
			}
			ticket := trac.NewTicket(s.conn)
			if err := ticket.Load(cmd.Context(), id); err != nil {
				return err
			}
			history, err := ticket.History(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, entry := range history.Entries {
				when := "unknown time"
				if !entry.Date.IsZero() {
					when = entry.Date.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%s by %s\n", when, entry.Author)
				for _, change := range entry.Changes {
					if change.OldValue == "" {
						fmt.Fprintf(out, "  %s set to %q\n", change.Property, change.NewValue)
					} else {
						fmt.Fprintf(out, "  %s: %q -> %q\n", change.Property, change.OldValue, change.NewValue)
					}
				}
				if entry.Comment != "" {
					fmt.Fprintf(out, "  comment: %s\n", entry.Comment)
				}
			}
			return nil
		},
	}
}
