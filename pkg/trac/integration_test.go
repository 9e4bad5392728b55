package trac

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/trac-client/internal/tracktest"
	apperrors "github.com/spec-kit/trac-client/pkg/util"
)

func startTracker(t *testing.T) *tracktest.Server {
	t.Helper()
	server, err := tracktest.New("alice", "secret")
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	return server
}

func connect(t *testing.T, server *tracktest.Server, user, password string) *Connection {
	t.Helper()
	conn, err := NewConnection(server.URL(), user, password)
	require.NoError(t, err)
	return conn
}

func TestEnsureLoggedIn(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()

	conn := connect(t, server, "alice", "secret")
	require.NoError(t, conn.EnsureLoggedIn(ctx))
	require.NoError(t, conn.EnsureLoggedIn(ctx), "idempotent")
}

func TestEnsureLoggedIn_BadPassword(t *testing.T) {
	server := startTracker(t)

	conn := connect(t, server, "alice", "wrong")
	err := conn.EnsureLoggedIn(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "UNAUTHORIZED"))
}

func TestTicketCreate(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	ticket := NewTicket(conn)
	id, err := ticket.Create(ctx, map[string]string{
		"summary":     "crash on startup",
		"description": "the daemon dies immediately",
		"type":        "defect",
		"priority":    "major",
		"component":   "component1",
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	assert.True(t, ticket.Loaded())
	assert.Equal(t, id, ticket.ID())
	assert.Equal(t, "crash on startup", ticket.Summary())
	assert.Equal(t, "new", ticket.Status())
	assert.Equal(t, "alice", ticket.Reporter(), "reporter assigned by the tracker")
	assert.NotEmpty(t, ticket.Created(), "time is server-assigned")
}

func TestTicketCreate_StateStableAcrossLaterRequests(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	ticket := NewTicket(conn)
	id, err := ticket.Create(ctx, map[string]string{
		"summary":     "short",
		"description": "brief",
	})
	require.NoError(t, err)

	// Later requests with larger payloads must not bleed into state the
	// tracker stored from earlier ones.
	_, err = ticket.Attach(ctx, "big.txt",
		strings.NewReader(strings.Repeat("the description of record number one\n", 40)),
		"the description that keeps on going well past every earlier field")
	require.NoError(t, err)
	require.NoError(t, ticket.Comment(ctx, "a comment long enough to reuse and overwrite request buffers"))

	props := server.TicketProps(id)
	assert.Equal(t, "alice", props["reporter"])
	assert.Equal(t, "short", props["summary"])
	assert.Equal(t, "brief", props["description"])

	changes := server.TicketChanges(id)
	require.NotEmpty(t, changes)
	assert.Equal(t, "alice", changes[0].Author)
}

func TestTicketCreate_RejectsBadEnumValue(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	ticket := NewTicket(conn)
	_, err := ticket.Create(ctx, map[string]string{
		"summary":  "bad priority",
		"priority": "urgent",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "VALIDATION_FAILED"))
	assert.False(t, ticket.Loaded())
}

func TestTicketCreate_CaseInsensitiveEnumValue(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	ticket := NewTicket(conn)
	_, err := ticket.Create(ctx, map[string]string{
		"summary": "case folding",
		"type":    "Defect",
	})
	require.NoError(t, err)
}

func TestTicketCreate_RejectsResolution(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	ticket := NewTicket(conn)
	_, err := ticket.Create(ctx, map[string]string{
		"summary":    "born closed",
		"resolution": "fixed",
	})
	require.Error(t, err, "resolution is not writable at creation")
}

func TestTicketLoad(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	id := server.Seed(map[string]string{"summary": "seeded", "owner": "bob", "priority": "minor"})

	ticket := NewTicket(conn)
	require.NoError(t, ticket.Load(ctx, id))
	assert.Equal(t, "seeded", ticket.Summary())
	assert.Equal(t, "bob", ticket.Owner())
	assert.Equal(t, []string{"fixed", "invalid", "wontfix", "duplicate", "worksforme"}, ticket.ValidResolutions(),
		"update metadata loads with the ticket")
}

func TestTicketUpdate_AutoStatusClosesOnResolution(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	id := server.Seed(map[string]string{"summary": "to be fixed", "status": "accepted"})
	ticket := NewTicket(conn)
	require.NoError(t, ticket.Load(ctx, id))

	require.NoError(t, ticket.Update(ctx, TicketUpdate{
		Properties: map[string]string{"resolution": "fixed"},
		Comment:    "done",
	}))

	assert.Equal(t, "closed", ticket.Status())
	assert.Equal(t, "fixed", ticket.Resolution())
	assert.Equal(t, "closed", server.TicketProps(id)["status"])

	changes := server.TicketChanges(id)
	require.NotEmpty(t, changes)
	assert.Equal(t, "done", changes[len(changes)-1].Comment)
}

func TestTicketUpdate_AutoStatusOwner(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	id := server.Seed(map[string]string{"summary": "assign me"})
	ticket := NewTicket(conn)
	require.NoError(t, ticket.Load(ctx, id))
	require.NoError(t, ticket.Update(ctx, TicketUpdate{Properties: map[string]string{"owner": "alice"}}))
	assert.Equal(t, "accepted", ticket.Status(), "self-assignment accepts")

	other := server.Seed(map[string]string{"summary": "hand off"})
	ticket2 := NewTicket(conn)
	require.NoError(t, ticket2.Load(ctx, other))
	require.NoError(t, ticket2.Update(ctx, TicketUpdate{Properties: map[string]string{"owner": "bob"}}))
	assert.Equal(t, "assigned", ticket2.Status())
}

func TestTicketUpdate_ExplicitStatusNotOverridden(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	id := server.Seed(map[string]string{"summary": "reopen fight", "status": "closed", "resolution": "fixed"})
	ticket := NewTicket(conn)
	require.NoError(t, ticket.Load(ctx, id))

	require.NoError(t, ticket.Update(ctx, TicketUpdate{
		Properties: map[string]string{"status": "reopened", "resolution": ""},
	}))
	assert.Equal(t, "reopened", ticket.Status())
}

func TestTicketUpdate_NoAutoStatus(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	id := server.Seed(map[string]string{"summary": "quiet resolution", "status": "accepted"})
	ticket := NewTicket(conn)
	require.NoError(t, ticket.Load(ctx, id))

	require.NoError(t, ticket.Update(ctx, TicketUpdate{
		Properties:   map[string]string{"resolution": "wontfix"},
		NoAutoStatus: true,
	}))
	assert.Equal(t, "accepted", ticket.Status(), "status untouched when inference is disabled")
}

func TestTicketComment(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	id := server.Seed(map[string]string{"summary": "talkative"})
	ticket := NewTicket(conn)
	require.NoError(t, ticket.Load(ctx, id))

	require.NoError(t, ticket.Comment(ctx, "just a note"))
	assert.Equal(t, "new", ticket.Status(), "comment alone changes nothing")

	changes := server.TicketChanges(id)
	require.Len(t, changes, 1)
	assert.Equal(t, "just a note", changes[0].Comment)
	assert.Equal(t, "alice", changes[0].Author)

	err := ticket.Comment(ctx, "   ")
	require.Error(t, err)
}

func TestTicketHistory(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	id := server.Seed(map[string]string{"summary": "storied"})
	ticket := NewTicket(conn)
	require.NoError(t, ticket.Load(ctx, id))

	require.NoError(t, ticket.Update(ctx, TicketUpdate{
		Properties: map[string]string{"owner": "bob"},
		Comment:    "over to bob",
	}))

	history, err := ticket.History(ctx)
	require.NoError(t, err)
	require.Len(t, history.Entries, 1)

	entry := history.Entries[0]
	assert.Equal(t, "alice", entry.Author)
	assert.Equal(t, "over to bob", entry.Comment)
	assert.Contains(t, entry.Changes, PropertyChange{Property: "owner", NewValue: "bob"})
	assert.Contains(t, entry.Changes, PropertyChange{Property: "status", OldValue: "new", NewValue: "assigned"})
}

func TestTicketAttachments(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	id := server.Seed(map[string]string{"summary": "with files"})
	ticket := NewTicket(conn)
	require.NoError(t, ticket.Load(ctx, id))

	attachments, err := ticket.Attachments(ctx)
	require.NoError(t, err)
	assert.Empty(t, attachments)

	uploaded, err := ticket.Attach(ctx, "notes.txt", strings.NewReader("hello tracker"), "meeting notes")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", uploaded.Filename)
	assert.Equal(t, int64(len("hello tracker")), uploaded.Size)
	assert.Equal(t, "alice", uploaded.Author)
	assert.Equal(t, "meeting notes", uploaded.Description)

	second, err := ticket.Attach(ctx, "patch.diff", strings.NewReader("--- a\n+++ b\n"), "proposed fix")
	require.NoError(t, err)
	assert.Equal(t, "patch.diff", second.Filename, "last listed attachment is the fresh upload")

	attachments, err = ticket.Attachments(ctx)
	require.NoError(t, err)
	require.Len(t, attachments, 2)
	assert.Equal(t, "notes.txt", attachments[0].Filename)
	assert.Equal(t, "patch.diff", attachments[1].Filename)
}

func TestTicketSearch(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	server.Seed(map[string]string{"summary": "mine", "owner": "alice", "status": "accepted"})
	server.Seed(map[string]string{"summary": "bobs", "owner": "bob", "status": "new"})
	server.Seed(map[string]string{"summary": "mine too", "owner": "alice", "status": "closed"})

	search := NewTicketSearch(conn)
	tickets, err := search.Query(ctx, map[string]string{"owner": "alice"})
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "mine", tickets[0].Summary())
	assert.Equal(t, "mine too", tickets[1].Summary())
	assert.True(t, tickets[0].Loaded())

	open, err := search.Query(ctx, map[string]string{"owner": "alice", "status": "!closed"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "accepted", open[0].Status())
	assert.Len(t, search.Results(), 1, "result set replaced wholesale")
}

func TestCreateMetadata(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	ticket := NewTicket(conn)
	require.NoError(t, ticket.loadCreateMetadata(ctx))

	assert.Equal(t, []string{"defect", "enhancement", "task"}, ticket.ValidTypes())
	assert.Equal(t, []string{"blocker", "critical", "major", "minor", "trivial"}, ticket.ValidPriorities())
	assert.Equal(t, []string{"component1", "component2"}, ticket.ValidComponents())
	assert.Equal(t, []string{"milestone1", "milestone2", "milestone3", "milestone4"}, ticket.ValidMilestones())
	assert.Empty(t, ticket.ValidSeverities(), "tracker advertises no severities")
	assert.NotContains(t, ticket.ValidTypes(), "", "blank placeholder option is dropped")

	require.NoError(t, ticket.loadCreateMetadata(ctx), "second load is a no-op")
}

func TestConnectionMetrics(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()

	metrics := NewMetrics()
	conn, err := NewConnection(server.URL(), "alice", "secret", WithMetrics(metrics))
	require.NoError(t, err)

	id := server.Seed(map[string]string{"summary": "counted"})
	ticket := NewTicket(conn)
	require.NoError(t, ticket.Load(ctx, id))

	requests := metrics.Requests()
	assert.NotEmpty(t, requests)
	assert.Empty(t, metrics.Errors())
}

func TestDiscoverForm_NotFound(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")
	require.NoError(t, conn.EnsureLoggedIn(ctx))

	_, _, err := conn.DiscoverForm(ctx, "/login", func(f *Form) bool { return f.HasField("no_such_field") })
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "FORM_NOT_FOUND"))
}

func TestFetch_MissingTicket(t *testing.T) {
	server := startTracker(t)
	ctx := context.Background()
	conn := connect(t, server, "alice", "secret")

	ticket := NewTicket(conn)
	err := ticket.Load(ctx, 999)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "REMOTE_ERROR"))
}
