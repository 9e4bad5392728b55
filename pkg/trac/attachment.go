package trac

import (
	"context"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/trac-client/pkg/util"
)

// Attachment is one uploaded file on a ticket, extracted from the rendered
// attachment index page.
type Attachment struct {
	TicketID    int
	Filename    string
	Description string
	URL         string
	Author      string
	Uploaded    time.Time
	Size        int64
}

// AttachmentPageParser turns the attachment index page into records. The
// default implementation scrapes with regular expressions; swap it to change
// strategy without touching the ticket logic.
type AttachmentPageParser interface {
	Parse(ticketID int, page string) ([]*Attachment, error)
}

// Attachments rebuilds the ticket's attachment list wholesale from the
// attachment index page. The previous list is replaced, never merged.
func (t *Ticket) Attachments(ctx context.Context) ([]*Attachment, error) {
	if !t.loaded {
		return nil, apperrors.NewValidationError("ticket must be loaded before listing attachments", nil)
	}
	if err := t.conn.EnsureLoggedIn(ctx); err != nil {
		return nil, err
	}
	body, err := t.conn.Fetch(ctx, fmt.Sprintf("/attachment/ticket/%d/", t.ID()))
	if err != nil {
		return nil, err
	}
	attachments, err := t.attachmentParser.Parse(t.ID(), body)
	if err != nil {
		return nil, err
	}
	t.attachments = attachments
	return attachments, nil
}

// Attach uploads content as a new attachment and returns its freshly scraped
// record. The tracker appends uploads to the end of the index page, so the
// last listed attachment is taken to be the new one.
func (t *Ticket) Attach(ctx context.Context, filename string, content io.Reader, description string) (*Attachment, error) {
	if !t.loaded {
		return nil, apperrors.NewValidationError("ticket must be loaded before attaching", nil)
	}
	if strings.TrimSpace(filename) == "" {
		return nil, apperrors.NewValidationError("attachment filename required", nil)
	}
	if err := t.conn.EnsureLoggedIn(ctx); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/attachment/ticket/%d/?action=new", t.ID())
	_, index, err := t.conn.DiscoverForm(ctx, path, attachFormPredicate)
	if err != nil {
		return nil, err
	}
	resp, err := t.conn.SubmitFormFile(ctx, index, map[string]string{"description": description}, "attachment", filename, content)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, apperrors.NewSubmissionRejected(resp.StatusCode, resp.Title)
	}
	t.logger.Info("attachment uploaded", zap.Int("id", t.ID()), zap.String("filename", filename))

	attachments, err := t.Attachments(ctx)
	if err != nil {
		return nil, err
	}
	if len(attachments) == 0 {
		return nil, apperrors.NewParseError("attachment index",
			fmt.Errorf("upload accepted but no attachments listed for ticket %d", t.ID()))
	}
	return attachments[len(attachments)-1], nil
}

func attachFormPredicate(form *Form) bool {
	return form.HasField("attachment")
}

// regexAttachmentParser splits the index page into per-attachment fragments
// at <dt> boundaries and pattern-extracts each field independently.
type regexAttachmentParser struct{}

var (
	attachmentFileRe   = regexp.MustCompile(`href="([^"]*?/attachment/ticket/\d+/([^"?]+))[^"]*"`)
	attachmentSizeRe   = regexp.MustCompile(`title="(\d+) bytes"`)
	attachmentAuthorRe = regexp.MustCompile(`added by <em>([^<]+)</em>`)
	attachmentDateRe   = regexp.MustCompile(`title="(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:Z|[+-]\d{2}:\d{2}))`)
	attachmentDescRe   = regexp.MustCompile(`(?s)<dd>\s*(.*?)\s*</dd>`)
)

func (p *regexAttachmentParser) Parse(ticketID int, body string) ([]*Attachment, error) {
	fragments := strings.Split(body, "<dt")
	if len(fragments) < 2 {
		return []*Attachment{}, nil
	}

	var attachments []*Attachment
	for _, fragment := range fragments[1:] {
		file := attachmentFileRe.FindStringSubmatch(fragment)
		if file == nil {
			continue
		}
		attachment := &Attachment{
			TicketID: ticketID,
			URL:      file[1],
			Filename: html.UnescapeString(file[2]),
		}
		if m := attachmentSizeRe.FindStringSubmatch(fragment); m != nil {
			size, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				return nil, apperrors.NewParseError("attachment index", err)
			}
			attachment.Size = size
		}
		if m := attachmentAuthorRe.FindStringSubmatch(fragment); m != nil {
			attachment.Author = html.UnescapeString(m[1])
		}
		if m := attachmentDateRe.FindStringSubmatch(fragment); m != nil {
			if uploaded, err := time.Parse(time.RFC3339, m[1]); err == nil {
				attachment.Uploaded = uploaded
			}
		}
		if m := attachmentDescRe.FindStringSubmatch(fragment); m != nil {
			attachment.Description = html.UnescapeString(stripTags(m[1]))
		}
		attachments = append(attachments, attachment)
	}
	return attachments, nil
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func stripTags(fragment string) string {
	return strings.TrimSpace(tagRe.ReplaceAllString(fragment, ""))
}
