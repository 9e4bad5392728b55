package trac

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/trac-client/pkg/util"
)

// TicketRecord is the flat property snapshot of one ticket. The id, time and
// changetime properties are server-assigned and never submitted by the client.
type TicketRecord struct {
	ID          string
	Summary     string
	Type        string
	Status      string
	Priority    string
	Severity    string
	Resolution  string
	Owner       string
	Reporter    string
	CC          string
	Description string
	Keywords    string
	Component   string
	Milestone   string
	Version     string
	Time        string
	Changetime  string
}

// Property maps a property name to its value; ok is false for unknown names.
func (r *TicketRecord) Property(name string) (value string, ok bool) {
	switch strings.ToLower(name) {
	case "id":
		return r.ID, true
	case "summary":
		return r.Summary, true
	case "type":
		return r.Type, true
	case "status":
		return r.Status, true
	case "priority":
		return r.Priority, true
	case "severity":
		return r.Severity, true
	case "resolution":
		return r.Resolution, true
	case "owner":
		return r.Owner, true
	case "reporter":
		return r.Reporter, true
	case "cc":
		return r.CC, true
	case "description":
		return r.Description, true
	case "keywords":
		return r.Keywords, true
	case "component":
		return r.Component, true
	case "milestone":
		return r.Milestone, true
	case "version":
		return r.Version, true
	case "time":
		return r.Time, true
	case "changetime":
		return r.Changetime, true
	}
	return "", false
}

func (r *TicketRecord) setProperty(name, value string) bool {
	switch strings.ToLower(name) {
	case "id":
		r.ID = value
	case "summary":
		r.Summary = value
	case "type":
		r.Type = value
	case "status":
		r.Status = value
	case "priority":
		r.Priority = value
	case "severity":
		r.Severity = value
	case "resolution":
		r.Resolution = value
	case "owner":
		r.Owner = value
	case "reporter":
		r.Reporter = value
	case "cc":
		r.CC = value
	case "description":
		r.Description = value
	case "keywords":
		r.Keywords = value
	case "component":
		r.Component = value
	case "milestone":
		r.Milestone = value
	case "version":
		r.Version = value
	case "time":
		r.Time = value
	case "changetime":
		r.Changetime = value
	default:
		return false
	}
	return true
}

// TicketProperties lists every known property name in canonical order.
var TicketProperties = []string{
	"id", "summary", "type", "status", "priority", "severity", "resolution",
	"owner", "reporter", "cc", "description", "keywords", "component",
	"milestone", "version", "time", "changetime",
}

// createProperties are the client-writable properties on ticket creation.
// Resolution only exists once a ticket can be resolved; id, time and
// changetime are server-assigned.
var createProperties = []string{
	"summary", "type", "status", "priority", "severity", "owner", "reporter",
	"cc", "description", "keywords", "component", "milestone", "version",
}

// updateProperties additionally allow resolution.
var updateProperties = append(append([]string{}, createProperties...), "resolution")

// Ticket is one issue record on the remote tracker. It owns its cached
// property metadata and attachment list; neither is shared between objects.
// A Ticket is not safe for concurrent use.
type Ticket struct {
	conn   *Connection
	logger *zap.Logger

	record TicketRecord
	loaded bool

	metadata    ticketMetadata
	attachments []*Attachment

	attachmentParser AttachmentPageParser
	historyParser    HistoryPageParser
}

// TicketOption configures a Ticket.
type TicketOption func(*Ticket)

// WithAttachmentParser swaps the attachment index page parser.
func WithAttachmentParser(parser AttachmentPageParser) TicketOption {
	return func(t *Ticket) {
		t.attachmentParser = parser
	}
}

// WithHistoryParser swaps the change history page parser.
func WithHistoryParser(parser HistoryPageParser) TicketOption {
	return func(t *Ticket) {
		t.historyParser = parser
	}
}

// NewTicket binds an empty ticket to a connection. Populate it with Load,
// LoadFromRecord or Create.
func NewTicket(conn *Connection, opts ...TicketOption) *Ticket {
	t := &Ticket{
		conn:             conn,
		logger:           conn.logger,
		attachmentParser: &regexAttachmentParser{},
		historyParser:    &regexHistoryParser{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID returns the numeric ticket id, zero when unloaded.
func (t *Ticket) ID() int {
	id, err := strconv.Atoi(t.record.ID)
	if err != nil {
		return 0
	}
	return id
}

// Loaded reports whether the ticket holds a server-backed snapshot.
func (t *Ticket) Loaded() bool { return t.loaded }

func (t *Ticket) Summary() string     { return t.record.Summary }
func (t *Ticket) Type() string        { return t.record.Type }
func (t *Ticket) Status() string      { return t.record.Status }
func (t *Ticket) Priority() string    { return t.record.Priority }
func (t *Ticket) Severity() string    { return t.record.Severity }
func (t *Ticket) Resolution() string  { return t.record.Resolution }
func (t *Ticket) Owner() string       { return t.record.Owner }
func (t *Ticket) Reporter() string    { return t.record.Reporter }
func (t *Ticket) CC() string          { return t.record.CC }
func (t *Ticket) Description() string { return t.record.Description }
func (t *Ticket) Keywords() string    { return t.record.Keywords }
func (t *Ticket) Component() string   { return t.record.Component }
func (t *Ticket) Milestone() string   { return t.record.Milestone }
func (t *Ticket) Version() string     { return t.record.Version }
func (t *Ticket) Created() string     { return t.record.Time }
func (t *Ticket) Changed() string     { return t.record.Changetime }

// Property exposes generic property-name-indexed access to the snapshot.
func (t *Ticket) Property(name string) (string, bool) {
	return t.record.Property(name)
}

// Record returns a copy of the current property snapshot.
func (t *Ticket) Record() TicketRecord {
	return t.record
}

// Load fetches the ticket with the given id via the tracker's CSV export and
// populates this object from it.
func (t *Ticket) Load(ctx context.Context, id int) error {
	if err := t.conn.EnsureLoggedIn(ctx); err != nil {
		return err
	}
	body, err := t.conn.Fetch(ctx, fmt.Sprintf("/ticket/%d?format=csv", id))
	if err != nil {
		return err
	}
	records, err := parseCSVRecords(body)
	if err != nil {
		return apperrors.NewParseError("ticket export", err)
	}
	if len(records) == 0 {
		return apperrors.NewParseError("ticket export", fmt.Errorf("no data rows for ticket %d", id))
	}
	return t.LoadFromRecord(ctx, records[0], false)
}

// LoadFromRecord populates the ticket from a pre-fetched property record. The
// record must carry an id; on failure no state is mutated. With skipMetadata
// the update-form metadata fetch is skipped, which search results use to
// avoid a page fetch per ticket.
func (t *Ticket) LoadFromRecord(ctx context.Context, record map[string]string, skipMetadata bool) error {
	id, ok := record["id"]
	if !ok || strings.TrimSpace(id) == "" {
		return apperrors.NewValidationError("ticket record has no id", nil)
	}
	if _, err := strconv.Atoi(strings.TrimSpace(id)); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("ticket record id %q is not numeric", id), nil)
	}
	if t.loaded && strings.TrimSpace(id) != t.record.ID {
		return apperrors.NewValidationError(
			fmt.Sprintf("ticket is bound to id %s, refusing record for id %s", t.record.ID, id), nil)
	}

	var snapshot TicketRecord
	for name, value := range record {
		snapshot.setProperty(name, value)
	}
	snapshot.ID = strings.TrimSpace(id)

	t.record = snapshot
	t.loaded = true

	if !skipMetadata {
		if err := t.loadUpdateMetadata(ctx); err != nil {
			return err
		}
	}
	return nil
}

var createdTitleRe = regexp.MustCompile(`^#(\d+)`)

// Create validates props against the tracker's advertised choices, submits
// the new-ticket form and, when the response title names a fresh ticket id,
// loads this object from it. Creation success is detected from the title
// pattern alone and stays provisional until the reload succeeds.
func (t *Ticket) Create(ctx context.Context, props map[string]string) (int, error) {
	if t.loaded {
		return 0, apperrors.NewValidationError("ticket is already loaded", nil)
	}
	if err := t.conn.EnsureLoggedIn(ctx); err != nil {
		return 0, err
	}
	rules, err := t.validationRules(ctx, ruleCreate, createProperties)
	if err != nil {
		return 0, err
	}
	if err := validateProperties(rules, props); err != nil {
		return 0, err
	}

	_, index, err := t.conn.DiscoverForm(ctx, "/newticket", newTicketFormPredicate)
	if err != nil {
		return 0, err
	}
	resp, err := t.conn.SubmitForm(ctx, index, propertyFields(props, ""))
	if err != nil {
		return 0, err
	}
	m := createdTitleRe.FindStringSubmatch(resp.Title)
	if m == nil {
		t.logger.Warn("ticket creation not confirmed", zap.String("title", resp.Title), zap.Int("status", resp.StatusCode))
		return 0, apperrors.NewSubmissionRejected(resp.StatusCode, resp.Title)
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, apperrors.NewParseError("new ticket response", err)
	}
	t.logger.Info("ticket created", zap.Int("id", id))
	if err := t.Load(ctx, id); err != nil {
		return 0, err
	}
	return id, nil
}

// TicketUpdate carries property changes plus the update-only pseudo inputs: a
// free-form comment and the switch disabling auto-status inference.
type TicketUpdate struct {
	Properties   map[string]string
	Comment      string
	NoAutoStatus bool
}

// Update validates and submits property changes through the ticket's update
// form, then reloads the snapshot from the server. Unless disabled, default
// status transitions are inferred from resolution and owner; an explicitly
// supplied status always wins. Success is a plain non-error response, unlike
// Create's title check.
func (t *Ticket) Update(ctx context.Context, update TicketUpdate) error {
	if !t.loaded {
		return apperrors.NewValidationError("ticket must be loaded before update", nil)
	}
	if err := t.conn.EnsureLoggedIn(ctx); err != nil {
		return err
	}
	rules, err := t.validationRules(ctx, ruleUpdate, updateProperties)
	if err != nil {
		return err
	}
	if err := validateProperties(rules, update.Properties); err != nil {
		return err
	}

	props := make(map[string]string, len(update.Properties))
	for name, value := range update.Properties {
		props[name] = value
	}
	if !update.NoAutoStatus {
		t.applyAutoStatus(props)
	}

	_, index, err := t.conn.DiscoverForm(ctx, fmt.Sprintf("/ticket/%d", t.ID()), ticketFormPredicate)
	if err != nil {
		return err
	}
	fields := propertyFields(props, update.Comment)
	resp, err := t.conn.SubmitForm(ctx, index, fields)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return apperrors.NewSubmissionRejected(resp.StatusCode, resp.Title)
	}
	return t.Load(ctx, t.ID())
}

// Comment posts a comment without touching any property.
func (t *Ticket) Comment(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return apperrors.NewValidationError("comment text required", nil)
	}
	return t.Update(ctx, TicketUpdate{Comment: text})
}

// applyAutoStatus fills in the default workflow transition when the caller
// did not pick a status: a resolution closes the ticket, handing it to the
// authenticated user accepts it, handing it to anyone else assigns it. This
// mirrors the tracker's stock workflow without consulting its actual
// workflow graph, so it is a heuristic.
func (t *Ticket) applyAutoStatus(props map[string]string) {
	if _, ok := props["status"]; ok {
		return
	}
	if props["resolution"] != "" {
		props["status"] = "closed"
		return
	}
	owner, ok := props["owner"]
	if !ok || owner == "" {
		return
	}
	if owner == t.conn.User() {
		props["status"] = "accepted"
	} else {
		props["status"] = "assigned"
	}
}

// propertyFields maps property names to their tracker form field names.
func propertyFields(props map[string]string, comment string) map[string]string {
	fields := make(map[string]string, len(props)+1)
	for name, value := range props {
		fields["field_"+name] = value
	}
	if comment != "" {
		fields["comment"] = comment
	}
	return fields
}

func newTicketFormPredicate(form *Form) bool {
	return form.HasField("field_summary") && !form.HasField("comment")
}

func ticketFormPredicate(form *Form) bool {
	return form.HasField("field_summary") && form.HasField("comment")
}

// parseCSVRecords decodes a tracker CSV export into one map per data row,
// keyed by the header row.
func parseCSVRecords(body string) ([]map[string]string, error) {
	body = strings.TrimPrefix(body, "\ufeff")
	reader := csv.NewReader(strings.NewReader(body))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.ToLower(header[i]))
	}

	var records []map[string]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		record := make(map[string]string, len(header))
		for i, value := range row {
			if i < len(header) {
				record[header[i]] = value
			}
		}
		records = append(records, record)
	}
	return records, nil
}
