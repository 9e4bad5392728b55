package tracktest

import (
	"encoding/csv"
	"fmt"
	"html"
	"strings"
	"time"
)

func errorPage(message string) string {
	return fmt.Sprintf(`<html><head><title>Error - tracktest</title></head>
<body><div id="content" class="error"><p>%s</p></div></body></html>`, html.EscapeString(message))
}

func loggedInPage(user string) string {
	return fmt.Sprintf(`<html><head><title>Login - tracktest</title></head>
<body><div id="metanav">logged in as %s <a href="/logout">Logout</a></div></body></html>`, html.EscapeString(user))
}

func loginFormPage(token string) string {
	return fmt.Sprintf(`<html><head><title>Login - tracktest</title></head>
<body><div id="content">
<form id="acctmgr_loginform" method="post" action="/login">
<input type="hidden" name="__FORM_TOKEN" value="%s" />
<label>Username: <input type="text" name="user" value="" /></label>
<label>Password: <input type="password" name="password" value="" /></label>
<input type="submit" name="submit" value="Login" />
</form>
</div></body></html>`, token)
}

// renderSelect renders a select with a leading empty choice, marking current
// as selected; a current value missing from the options is appended so the
// form round-trips it unchanged.
func renderSelect(name string, options []string, current string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<select id="%s" name="%s">`, name, name)
	selectedSeen := current == ""
	if current == "" {
		sb.WriteString(`<option value="" selected="selected"></option>`)
	} else {
		sb.WriteString(`<option value=""></option>`)
	}
	for _, option := range options {
		escaped := html.EscapeString(option)
		if option == current {
			selectedSeen = true
			fmt.Fprintf(&sb, `<option value="%s" selected="selected">%s</option>`, escaped, escaped)
		} else {
			fmt.Fprintf(&sb, `<option value="%s">%s</option>`, escaped, escaped)
		}
	}
	if !selectedSeen {
		escaped := html.EscapeString(current)
		fmt.Fprintf(&sb, `<option value="%s" selected="selected">%s</option>`, escaped, escaped)
	}
	sb.WriteString(`</select>`)
	return sb.String()
}

func newTicketPage(s *Server, token string) string {
	var sb strings.Builder
	sb.WriteString(`<html><head><title>New Ticket - tracktest</title></head><body><div id="content" class="ticket">`)
	sb.WriteString(`<form id="propertyform" method="post" action="/newticket">`)
	fmt.Fprintf(&sb, `<input type="hidden" name="__FORM_TOKEN" value="%s" />`, token)
	sb.WriteString(`<input type="text" id="field_summary" name="field_summary" value="" />`)
	sb.WriteString(`<textarea id="field_description" name="field_description"></textarea>`)
	sb.WriteString(`<input type="text" id="field_owner" name="field_owner" value="" />`)
	sb.WriteString(`<input type="text" id="field_cc" name="field_cc" value="" />`)
	sb.WriteString(`<input type="text" id="field_keywords" name="field_keywords" value="" />`)
	sb.WriteString(`<input type="text" id="field_version" name="field_version" value="" />`)
	sb.WriteString(renderSelect("field_type", s.Types, ""))
	sb.WriteString(renderSelect("field_priority", s.Priorities, ""))
	sb.WriteString(renderSelect("field_component", s.Components, ""))
	sb.WriteString(renderSelect("field_milestone", s.Milestones, ""))
	if len(s.Severities) > 0 {
		sb.WriteString(renderSelect("field_severity", s.Severities, ""))
	}
	sb.WriteString(`<input type="submit" name="submit" value="Create ticket" />`)
	sb.WriteString(`</form></div></body></html>`)
	return sb.String()
}

func ticketCreatedPage(id int, summary string) string {
	return fmt.Sprintf(`<html><head><title>#%d (%s) - tracktest</title></head>
<body><div id="content" class="ticket"><h1>#%d (%s)</h1></div></body></html>`,
		id, html.EscapeString(summary), id, html.EscapeString(summary))
}

func ticketPage(s *Server, fixture *ticketFixture) string {
	props := fixture.props
	var sb strings.Builder
	fmt.Fprintf(&sb, `<html><head><title>#%s (%s) - tracktest</title></head><body><div id="content" class="ticket">`,
		props["id"], html.EscapeString(props["summary"]))
	fmt.Fprintf(&sb, `<h1>#%s (%s)</h1>`, props["id"], html.EscapeString(props["summary"]))

	for _, change := range fixture.changes {
		sb.WriteString(`<div class="change">`)
		fmt.Fprintf(&sb, `<h3 class="change">Changed <a href="/timeline" title="%s in Timeline">moments</a> ago by <em>%s</em></h3>`,
			change.Time.Format(time.RFC3339), html.EscapeString(change.Author))
		if len(change.Changes) > 0 {
			sb.WriteString(`<ul class="changes">`)
			for _, pc := range change.Changes {
				if pc.Old == "" {
					fmt.Fprintf(&sb, `<li><strong>%s</strong> set to <em>%s</em></li>`,
						pc.Property, html.EscapeString(pc.New))
				} else {
					fmt.Fprintf(&sb, `<li><strong>%s</strong> changed from <em>%s</em> to <em>%s</em></li>`,
						pc.Property, html.EscapeString(pc.Old), html.EscapeString(pc.New))
				}
			}
			sb.WriteString(`</ul>`)
		}
		if change.Comment != "" {
			fmt.Fprintf(&sb, `<div class="comment"><p>%s</p></div>`, html.EscapeString(change.Comment))
		}
		sb.WriteString(`</div>`)
	}

	fmt.Fprintf(&sb, `<form id="propertyform" method="post" action="/ticket/%s">`, props["id"])
	fmt.Fprintf(&sb, `<input type="hidden" name="__FORM_TOKEN" value="%s" />`, "token-"+props["id"])
	fmt.Fprintf(&sb, `<input type="text" id="field_summary" name="field_summary" value="%s" />`, html.EscapeString(props["summary"]))
	fmt.Fprintf(&sb, `<input type="text" id="field_owner" name="field_owner" value="%s" />`, html.EscapeString(props["owner"]))
	fmt.Fprintf(&sb, `<input type="text" id="field_cc" name="field_cc" value="%s" />`, html.EscapeString(props["cc"]))
	fmt.Fprintf(&sb, `<input type="text" id="field_keywords" name="field_keywords" value="%s" />`, html.EscapeString(props["keywords"]))
	fmt.Fprintf(&sb, `<input type="text" id="field_version" name="field_version" value="%s" />`, html.EscapeString(props["version"]))
	fmt.Fprintf(&sb, `<input type="text" id="field_status" name="field_status" value="%s" />`, html.EscapeString(props["status"]))
	fmt.Fprintf(&sb, `<input type="text" id="field_reporter" name="field_reporter" value="%s" />`, html.EscapeString(props["reporter"]))
	fmt.Fprintf(&sb, `<textarea id="field_description" name="field_description">%s</textarea>`, html.EscapeString(props["description"]))
	sb.WriteString(renderSelect("field_type", s.Types, props["type"]))
	sb.WriteString(renderSelect("field_priority", s.Priorities, props["priority"]))
	sb.WriteString(renderSelect("field_component", s.Components, props["component"]))
	sb.WriteString(renderSelect("field_milestone", s.Milestones, props["milestone"]))
	if len(s.Severities) > 0 {
		sb.WriteString(renderSelect("field_severity", s.Severities, props["severity"]))
	}
	sb.WriteString(renderSelect("field_resolution", s.Resolutions, props["resolution"]))
	sb.WriteString(`<textarea id="comment" name="comment"></textarea>`)
	sb.WriteString(`<input type="submit" name="submit" value="Submit changes" />`)
	sb.WriteString(`</form></div></body></html>`)
	return sb.String()
}

func ticketCSV(fixture *ticketFixture) string {
	return csvExport([]*ticketFixture{fixture})
}

func queryCSV(fixtures []*ticketFixture) string {
	return csvExport(fixtures)
}

func csvExport(fixtures []*ticketFixture) string {
	var sb strings.Builder
	writer := csv.NewWriter(&sb)
	_ = writer.Write(ticketProperties)
	for _, fixture := range fixtures {
		row := make([]string, len(ticketProperties))
		for i, name := range ticketProperties {
			row[i] = fixture.props[name]
		}
		_ = writer.Write(row)
	}
	writer.Flush()
	return sb.String()
}

func attachFormPage(id int, token string) string {
	return fmt.Sprintf(`<html><head><title>Add Attachment to Ticket #%d - tracktest</title></head>
<body><div id="content">
<form id="attachment" method="post" enctype="multipart/form-data" action="/attachment/ticket/%d/">
<input type="hidden" name="__FORM_TOKEN" value="%s" />
<input type="file" name="attachment" />
<input type="text" name="description" value="" />
<input type="submit" name="submit" value="Add attachment" />
</form>
</div></body></html>`, id, id, token)
}

func attachmentIndexPage(id int, fixture *ticketFixture) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<html><head><title>Attachments for Ticket #%d - tracktest</title></head><body>`, id)
	sb.WriteString(`<div id="content" class="attachments"><h1>Attachments</h1><dl class="attachments">`)
	for _, att := range fixture.attachments {
		fmt.Fprintf(&sb, `<dt><a href="/attachment/ticket/%d/%s" title="View attachment">%s</a>
(<span title="%d bytes">%d bytes</span>) - added by <em>%s</em>
<a class="timeline" href="/timeline" title="%s in Timeline">moments</a> ago.</dt>
`,
			id, html.EscapeString(att.Filename), html.EscapeString(att.Filename),
			len(att.Body), len(att.Body), html.EscapeString(att.Author),
			att.Uploaded.Format(time.RFC3339))
		fmt.Fprintf(&sb, "<dd>%s</dd>\n", html.EscapeString(att.Description))
	}
	sb.WriteString(`</dl></div></body></html>`)
	return sb.String()
}
