package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spec-kit/trac-client/pkg/trac"
)

// createFlagProps are the properties exposed as flags on trac create.
var createFlagProps = []string{
	"summary", "description", "type", "status", "priority", "severity",
	"owner", "reporter", "cc", "keywords", "component", "milestone", "version",
}

// updateFlagProps additionally allow resolution.
var updateFlagProps = append(append([]string{}, createFlagProps...), "resolution")

func newShowCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Display one ticket",
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
			printTicket(cmd.OutOrStdout(), ticket)
			return nil
		},
	}
}

func newCreateCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a ticket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			props := collectProps(cmd, createFlagProps)
			ticket := trac.NewTicket(s.conn)
			id, err := ticket.Create(cmd.Context(), props)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created ticket #%d\n", id)
			return nil
		},
	}
	registerPropFlags(cmd, createFlagProps)
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

func newUpdateCommand(s *session) *cobra.Command {
	var (
		flagComment      string
		flagNoAutoStatus bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update ticket properties, with default workflow transitions inferred",
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
			update := trac.TicketUpdate{
				Properties:   collectProps(cmd, updateFlagProps),
				Comment:      flagComment,
				NoAutoStatus: flagNoAutoStatus,
			}
			if err := ticket.Update(cmd.Context(), update); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated ticket #%d (status %s)\n", ticket.ID(), ticket.Status())
			return nil
		},
	}
	registerPropFlags(cmd, updateFlagProps)
	cmd.Flags().StringVar(&flagComment, "comment", "", "Comment to record with the change")
	cmd.Flags().BoolVar(&flagNoAutoStatus, "no-auto-status", false, "Do not infer a status from resolution or owner changes")
	return cmd
}

func newCommentCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <id> <text>...",
		Short: "Add a comment to a ticket",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTicketID(args[0])
			if err != nil {
				return err
			}
			ticket := trac.NewTicket(s.conn)
			if err := ticket.Load(cmd.Context(), id); err != nil {
				return err
			}
			if err := ticket.Comment(cmd.Context(), strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "commented on ticket #%d\n", ticket.ID())
			return nil
		},
	}
}

func parseTicketID(arg string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
	if err != nil {
		return 0, fmt.Errorf("invalid ticket id %q", arg)
	}
	return id, nil
}

func registerPropFlags(cmd *cobra.Command, props []string) {
	for _, name := range props {
		cmd.Flags().String(name, "", "Ticket "+name)
	}
}

// collectProps gathers only the property flags the caller actually set, so
// untouched properties are left to the tracker's defaults.
func collectProps(cmd *cobra.Command, props []string) map[string]string {
	collected := make(map[string]string)
	for _, name := range props {
		if cmd.Flags().Changed(name) {
			value, _ := cmd.Flags().GetString(name)
			collected[name] = value
		}
	}
	return collected
}

func printTicket(w io.Writer, ticket *trac.Ticket) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ticket:\t#%d\n", ticket.ID())
	for _, name := range trac.TicketProperties {
		if name == "id" {
			continue
		}
		value, _ := ticket.Property(name)
		fmt.Fprintf(tw, "%s:\t%s\n", name, value)
	}
	_ = tw.Flush()
}
