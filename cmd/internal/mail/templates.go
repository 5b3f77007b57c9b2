package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

const (
	TemplatePasswordReset = "password_reset"
	TemplateWelcome       = "welcome"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates holds one parsed template per template id. Each file defines a
// "subject" and a "body" block.
type Templates struct {
	byID map[string]*template.Template
}

// LoadTemplates parses the embedded templates.
func LoadTemplates() (*Templates, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	t := &Templates{byID: make(map[string]*template.Template, len(entries))}
	for _, e := range entries {
		id := strings.TrimSuffix(e.Name(), ".html")
		tpl, err := template.ParseFS(templateFS, "templates/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("mail: template %s: %w", id, err)
		}
		if tpl.Lookup("subject") == nil || tpl.Lookup("body") == nil {
			return nil, fmt.Errorf("mail: template %s: missing subject or body block", id)
		}
		t.byID[id] = tpl
	}
	return t, nil
}

// Rendered is a message ready for a transport.
type Rendered struct {
	Subject string
	HTML    []byte
}

// Render executes templateID with data.
func (t *Templates) Render(templateID string, data any) (Rendered, error) {
	tpl, ok := t.byID[templateID]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}

	var subject, body bytes.Buffer
	if err := tpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return Rendered{}, fmt.Errorf("mail: render %s subject: %w", templateID, err)
	}
	if err := tpl.ExecuteTemplate(&body, "body", data); err != nil {
		return Rendered{}, fmt.Errorf("mail: render %s body: %w", templateID, err)
	}
	return Rendered{
		Subject: strings.TrimSpace(subject.String()),
		HTML:    body.Bytes(),
	}, nil
}
