package trac

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Form models one HTML form found on a fetched page.
type Form struct {
	Name    string
	ID      string
	Action  string
	Method  string
	EncType string
	Fields  []FormField
}

// FormField is a single named control inside a form. For selects, Options
// holds the option values in document order.
type FormField struct {
	Name    string
	Type    string
	Value   string
	Options []string
}

// FormPredicate decides whether a discovered form is the one a caller wants.
type FormPredicate func(*Form) bool

// Field returns the first field with the given name.
func (f *Form) Field(name string) (*FormField, bool) {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i], true
		}
	}
	return nil, false
}

// HasField reports whether the form carries a field with the given name.
func (f *Form) HasField(name string) bool {
	_, ok := f.Field(name)
	return ok
}

// SelectOptions returns the option values of a select field, or nil when the
// field is absent or not a select.
func (f *Form) SelectOptions(name string) []string {
	field, ok := f.Field(name)
	if !ok || field.Type != "select" {
		return nil
	}
	return field.Options
}

// Values builds the submission payload: field defaults overlaid with the
// caller's overrides. File inputs are excluded; multipart submission handles
// them separately. Button inputs are excluded too: a browser sends only the
// activated button, and sending every one would trigger whichever action the
// tracker checks first (a form with Submit and Preview buttons would
// preview instead of committing).
func (f *Form) Values(overrides map[string]string) url.Values {
	values := url.Values{}
	for _, field := range f.Fields {
		switch field.Type {
		case "file", "submit", "button", "image", "reset":
			continue
		}
		if field.Name == "" {
			continue
		}
		if field.Type == "checkbox" || field.Type == "radio" {
			// only checked controls carry a default; parseForms enforces that
			if field.Value == "" {
				continue
			}
		}
		values.Set(field.Name, field.Value)
	}
	for name, value := range overrides {
		values.Set(name, value)
	}
	return values
}

// parseForms extracts every form on a page, in document order.
func parseForms(body string) []*Form {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}
	var forms []*Form
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			forms = append(forms, parseForm(n))
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return forms
}

func parseForm(node *html.Node) *Form {
	form := &Form{
		Name:    attr(node, "name"),
		ID:      attr(node, "id"),
		Action:  attr(node, "action"),
		Method:  strings.ToUpper(attr(node, "method")),
		EncType: attr(node, "enctype"),
	}
	if form.Method == "" {
		form.Method = "GET"
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input":
				form.Fields = append(form.Fields, parseInput(n))
			case "textarea":
				form.Fields = append(form.Fields, FormField{
					Name:  attr(n, "name"),
					Type:  "textarea",
					Value: textContent(n),
				})
			case "select":
				form.Fields = append(form.Fields, parseSelect(n))
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walk(child)
	}
	return form
}

func parseInput(node *html.Node) FormField {
	field := FormField{
		Name:  attr(node, "name"),
		Type:  strings.ToLower(attr(node, "type")),
		Value: attr(node, "value"),
	}
	if field.Type == "" {
		field.Type = "text"
	}
	if field.Type == "checkbox" || field.Type == "radio" {
		if !hasAttr(node, "checked") {
			field.Value = ""
		} else if field.Value == "" {
			field.Value = "on"
		}
	}
	return field
}

func parseSelect(node *html.Node) FormField {
	field := FormField{
		Name: attr(node, "name"),
		Type: "select",
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "option" {
			value := attr(n, "value")
			if !hasAttr(n, "value") {
				value = strings.TrimSpace(textContent(n))
			}
			field.Options = append(field.Options, value)
			if hasAttr(n, "selected") {
				field.Value = value
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walk(child)
	}
	if field.Value == "" && len(field.Options) > 0 {
		field.Value = field.Options[0]
	}
	return field
}

func attr(node *html.Node, name string) string {
	for _, a := range node.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasAttr(node *html.Node, name string) bool {
	for _, a := range node.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

func textContent(node *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return sb.String()
}
