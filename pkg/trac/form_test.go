package trac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPageHTML = `<html><head><title>Login</title></head><body>
<form id="acctmgr_loginform" method="post" action="/login">
<input type="hidden" name="__FORM_TOKEN" value="abc123" />
<input type="text" name="user" value="" />
<input type="password" name="password" value="" />
<input type="submit" name="submit" value="Login" />
</form>
</body></html>`

func TestParseForms_LoginForm(t *testing.T) {
	forms := parseForms(loginPageHTML)
	require.Len(t, forms, 1)

	form := forms[0]
	assert.Equal(t, "acctmgr_loginform", form.ID)
	assert.Equal(t, "POST", form.Method)
	assert.Equal(t, "/login", form.Action)
	assert.True(t, form.HasField("user"))
	assert.True(t, form.HasField("password"))

	token, ok := form.Field("__FORM_TOKEN")
	require.True(t, ok)
	assert.Equal(t, "hidden", token.Type)
	assert.Equal(t, "abc123", token.Value)
}

func TestParseForms_SelectOptionsAndDefaults(t *testing.T) {
	page := `<form method="post" action="/newticket">
<select id="field_type" name="field_type">
<option value=""></option>
<option value="defect">defect</option>
<option value="task" selected="selected">task</option>
</select>
<select id="field_priority" name="field_priority">
<option>major</option>
<option>minor</option>
</select>
<textarea name="field_description">prefilled</textarea>
<input type="checkbox" name="notify" value="yes" />
</form>`

	forms := parseForms(page)
	require.Len(t, forms, 1)
	form := forms[0]

	assert.Equal(t, []string{"", "defect", "task"}, form.SelectOptions("field_type"))
	assert.Equal(t, []string{"major", "minor"}, form.SelectOptions("field_priority"))
	assert.Nil(t, form.SelectOptions("field_missing"))

	typeField, ok := form.Field("field_type")
	require.True(t, ok)
	assert.Equal(t, "task", typeField.Value, "selected option wins")

	priorityField, ok := form.Field("field_priority")
	require.True(t, ok)
	assert.Equal(t, "major", priorityField.Value, "first option when nothing is selected")

	values := form.Values(map[string]string{"field_type": "defect"})
	assert.Equal(t, "defect", values.Get("field_type"))
	assert.Equal(t, "prefilled", values.Get("field_description"))
	assert.False(t, values.Has("notify"), "unchecked checkboxes are not submitted")
}

func TestValues_ButtonsNotSubmitted(t *testing.T) {
	page := `<form method="post" action="/ticket/7">
<input type="text" name="field_summary" value="current summary" />
<input type="submit" name="submit" value="Submit changes" />
<input type="submit" name="preview" value="Preview" />
<input type="button" name="cancel" value="Cancel" />
</form>`

	forms := parseForms(page)
	require.Len(t, forms, 1)

	values := forms[0].Values(nil)
	assert.Equal(t, "current summary", values.Get("field_summary"))
	assert.False(t, values.Has("submit"), "only an activated button is sent, and nothing activates one")
	assert.False(t, values.Has("preview"), "sending every button would trigger the preview action")
	assert.False(t, values.Has("cancel"))
}

func TestParseForms_MultipleFormsInOrder(t *testing.T) {
	page := `<form id="first" action="/a"></form><form id="second" action="/b"></form>`
	forms := parseForms(page)
	require.Len(t, forms, 2)
	assert.Equal(t, "first", forms[0].ID)
	assert.Equal(t, "second", forms[1].ID)
}
