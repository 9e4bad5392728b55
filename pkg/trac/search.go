package trac

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/trac-client/pkg/util"
)

// TicketSearch runs the tracker's query module and materializes matching
// tickets. Results are populated from the CSV export with metadata loading
// skipped, so listing many tickets costs one request, not one per ticket.
type TicketSearch struct {
	conn    *Connection
	logger  *zap.Logger
	results []*Ticket
}

// NewTicketSearch binds a search to a connection.
func NewTicketSearch(conn *Connection) *TicketSearch {
	return &TicketSearch{
		conn:   conn,
		logger: conn.logger,
	}
}

// Query submits filter pairs to the query module, for example
// {"owner": "alice", "status": "!closed"}, and returns the matching tickets.
// The result set replaces any previous one wholesale.
func (s *TicketSearch) Query(ctx context.Context, filters map[string]string) ([]*Ticket, error) {
	if err := s.conn.EnsureLoggedIn(ctx); err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("format", "csv")
	values.Set("order", "id")
	for _, name := range TicketProperties {
		if name == "id" {
			continue
		}
		values.Add("col", name)
	}
	for name, value := range filters {
		values.Set(name, value)
	}

	body, err := s.conn.Fetch(ctx, "/query?"+values.Encode())
	if err != nil {
		return nil, err
	}
	records, err := parseCSVRecords(body)
	if err != nil {
		return nil, apperrors.NewParseError("query export", err)
	}

	tickets := make([]*Ticket, 0, len(records))
	for _, record := range records {
		ticket := NewTicket(s.conn)
		if err := ticket.LoadFromRecord(ctx, record, true); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	s.results = tickets
	s.logger.Debug("query executed", zap.Int("filters", len(filters)), zap.Int("results", len(tickets)))
	return tickets, nil
}

// Results returns the tickets from the most recent query.
func (s *TicketSearch) Results() []*Ticket {
	return s.results
}
