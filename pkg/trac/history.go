package trac

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/spec-kit/trac-client/pkg/util"
)

// PropertyChange records one property transition inside a history entry.
type PropertyChange struct {
	Property string
	OldValue string
	NewValue string
}

// HistoryEntry is one change block from the ticket page: who changed what,
// when, with which comment.
type HistoryEntry struct {
	Date    time.Time
	Author  string
	Comment string
	Changes []PropertyChange
}

// TicketHistory is the ordered change log of one ticket.
type TicketHistory struct {
	TicketID int
	Entries  []*HistoryEntry
}

// HistoryPageParser extracts the change log from the rendered ticket page.
type HistoryPageParser interface {
	Parse(ticketID int, page string) (*TicketHistory, error)
}

// History scrapes the ticket page's change log. The result is rebuilt on
// every call; entries appear in page order, oldest first.
func (t *Ticket) History(ctx context.Context) (*TicketHistory, error) {
	if !t.loaded {
		return nil, apperrors.NewValidationError("ticket must be loaded before reading history", nil)
	}
	if err := t.conn.EnsureLoggedIn(ctx); err != nil {
		return nil, err
	}
	body, err := t.conn.Fetch(ctx, fmt.Sprintf("/ticket/%d", t.ID()))
	if err != nil {
		return nil, err
	}
	return t.historyParser.Parse(t.ID(), body)
}

// regexHistoryParser splits the page at change block boundaries and
// pattern-extracts each block independently.
type regexHistoryParser struct{}

var (
	historyAuthorRe  = regexp.MustCompile(`ago by <em>([^<]*)</em>`)
	historyDateRe    = regexp.MustCompile(`title="(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:Z|[+-]\d{2}:\d{2}))`)
	historyChangedRe = regexp.MustCompile(`<strong>([a-z_]+)</strong>\s+changed from\s+<em>(.*?)</em>\s+to\s+<em>(.*?)</em>`)
	historySetRe     = regexp.MustCompile(`<strong>([a-z_]+)</strong>\s+set to\s+<em>(.*?)</em>`)
	historyCommentRe = regexp.MustCompile(`(?s)<div class="comment">(.*?)</div>`)
)

func (p *regexHistoryParser) Parse(ticketID int, body string) (*TicketHistory, error) {
	history := &TicketHistory{TicketID: ticketID}
	fragments := strings.Split(body, `<div class="change">`)
	if len(fragments) < 2 {
		return history, nil
	}

	for _, fragment := range fragments[1:] {
		entry := &HistoryEntry{}
		if m := historyAuthorRe.FindStringSubmatch(fragment); m != nil {
			entry.Author = html.UnescapeString(m[1])
		}
		if m := historyDateRe.FindStringSubmatch(fragment); m != nil {
			if date, err := time.Parse(time.RFC3339, m[1]); err == nil {
				entry.Date = date
			}
		}
		for _, m := range historyChangedRe.FindAllStringSubmatch(fragment, -1) {
			entry.Changes = append(entry.Changes, PropertyChange{
				Property: m[1],
				OldValue: html.UnescapeString(m[2]),
				NewValue: html.UnescapeString(m[3]),
			})
		}
		for _, m := range historySetRe.FindAllStringSubmatch(fragment, -1) {
			entry.Changes = append(entry.Changes, PropertyChange{
				Property: m[1],
				NewValue: html.UnescapeString(m[2]),
			})
		}
		if m := historyCommentRe.FindStringSubmatch(fragment); m != nil {
			entry.Comment = html.UnescapeString(stripTags(m[1]))
		}
		history.Entries = append(history.Entries, entry)
	}
	return history, nil
}
