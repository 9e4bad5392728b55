package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/trac-client/pkg/trac"
)

func newAttachCommand(s *session) *cobra.Command {
	var flagDescription string
	cmd := &cobra.Command{
		Use:   "attach <id> <file>",
		Short: "Upload a file to a ticket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTicketID(args[0])
			if err != nil {
				return err
			}
			file, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer file.Close()

			ticket := trac.NewTicket(s.conn)
			if err := ticket.Load(cmd.Context(), id); err != nil {
				return err
			}
			attachment, err := ticket.Attach(cmd.Context(), filepath.Base(args[1]), file, flagDescription)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attached %s (%d bytes) to ticket #%d\n",
				attachment.Filename, attachment.Size, ticket.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&flagDescription, "description", "", "Attachment description")
	return cmd
}

func newAttachmentsCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "attachments <id>",
		Short: "List a ticket's attachments",
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
			attachments, err := ticket.Attachments(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILENAME\tSIZE\tAUTHOR\tUPLOADED\tDESCRIPTION")
			for _, attachment := range attachments {
				uploaded := ""
				if !attachment.Uploaded.IsZero() {
					uploaded = attachment.Uploaded.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
					attachment.Filename, attachment.Size, attachment.Author, uploaded, attachment.Description)
			}
			return tw.Flush()
		},
	}
}
