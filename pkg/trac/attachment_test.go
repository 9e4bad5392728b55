package trac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const attachmentIndexHTML = `<html><head><title>Attachments for Ticket #5</title></head><body>
<div id="content" class="attachments"><h1>Attachments</h1><dl class="attachments">
<dt><a href="/attachment/ticket/5/notes.txt" title="View attachment">notes.txt</a>
(<span title="1024 bytes">1.0 KB</span>) - added by <em>alice</em>
<a class="timeline" href="/timeline" title="2026-08-30T10:00:00Z in Timeline">moments</a> ago.</dt>
<dd>meeting notes</dd>
<dt><a href="/attachment/ticket/5/patch.diff" title="View attachment">patch.diff</a>
(<span title="2048 bytes">2.0 KB</span>) - added by <em>bob</em>
<a class="timeline" href="/timeline" title="2026-08-30T11:30:00Z in Timeline">moments</a> ago.</dt>
<dd>proposed fix</dd>
<dt><a href="/attachment/ticket/5/screenshot.png" title="View attachment">screenshot.png</a>
(<span title="99000 bytes">96.7 KB</span>) - added by <em>carol</em>
<a class="timeline" href="/timeline" title="2026-08-30T12:15:00Z in Timeline">moments</a> ago.</dt>
<dd></dd>
</dl></div></body></html>`

func TestRegexAttachmentParser_SplitsFragments(t *testing.T) {
	parser := &regexAttachmentParser{}

	attachments, err := parser.Parse(5, attachmentIndexHTML)
	require.NoError(t, err)
	require.Len(t, attachments, 3)

	first := attachments[0]
	assert.Equal(t, 5, first.TicketID)
	assert.Equal(t, "notes.txt", first.Filename)
	assert.Equal(t, "/attachment/ticket/5/notes.txt", first.URL)
	assert.Equal(t, int64(1024), first.Size)
	assert.Equal(t, "alice", first.Author)
	assert.Equal(t, "meeting notes", first.Description)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), first.Uploaded)

	second := attachments[1]
	assert.Equal(t, "patch.diff", second.Filename)
	assert.Equal(t, int64(2048), second.Size)
	assert.Equal(t, "bob", second.Author)
	assert.Equal(t, "proposed fix", second.Description)

	third := attachments[2]
	assert.Equal(t, "screenshot.png", third.Filename)
	assert.Equal(t, int64(99000), third.Size)
	assert.Equal(t, "carol", third.Author)
	assert.Empty(t, third.Description)
}

func TestRegexAttachmentParser_EmptyPage(t *testing.T) {
	parser := &regexAttachmentParser{}

	attachments, err := parser.Parse(9, `<html><body><dl class="attachments"></dl></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, attachments)
}
