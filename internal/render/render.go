// Package render defines the template renderer contract. The engine
// treats rendering as opaque: template plus vars in, subject and HTML
// out. Render failures are terminal for the recipient, never for the
// run.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Rendered is the renderer output for one recipient.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

type Renderer interface {
	Render(ctx context.Context, templateID uuid.UUID, vars json.RawMessage) (*Rendered, error)
}

// Error marks a per-recipient rendering failure: missing variables or
// invalid markup.
type Error struct {
	TemplateID uuid.UUID
	Reason     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("render failed for template %s: %s", e.TemplateID, e.Reason)
}

// SubstitutionRenderer replaces {name} placeholders with recipient vars.
// Templates are registered up front; a reference to an unknown template
// or a placeholder without a matching var is a render error.
type SubstitutionRenderer struct {
	templates map[uuid.UUID]Template
}

type Template struct {
	Subject string
	HTML    string
}

func NewSubstitutionRenderer() *SubstitutionRenderer {
	return &SubstitutionRenderer{templates: make(map[uuid.UUID]Template)}
}

func (r *SubstitutionRenderer) Register(id uuid.UUID, tpl Template) {
	r.templates[id] = tpl
}

func (r *SubstitutionRenderer) Render(_ context.Context, templateID uuid.UUID, vars json.RawMessage) (*Rendered, error) {
	tpl, ok := r.templates[templateID]
	if !ok {
		return nil, &Error{TemplateID: templateID, Reason: "template not found"}
	}

	values := map[string]interface{}{}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &values); err != nil {
			return nil, &Error{TemplateID: templateID, Reason: "vars are not valid JSON"}
		}
	}

	subject, err := substitute(tpl.Subject, values)
	if err != nil {
		return nil, &Error{TemplateID: templateID, Reason: err.Error()}
	}
	html, err := substitute(tpl.HTML, values)
	if err != nil {
		return nil, &Error{TemplateID: templateID, Reason: err.Error()}
	}

	return &Rendered{Subject: subject, HTML: html}, nil
}

func substitute(tpl string, values map[string]interface{}) (string, error) {
	var out strings.Builder
	for {
		start := strings.IndexByte(tpl, '{')
		if start < 0 {
			out.WriteString(tpl)
			return out.String(), nil
		}
		end := strings.IndexByte(tpl[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("unclosed placeholder near %q", tpl[start:])
		}
		name := tpl[start+1 : start+end]
		value, ok := values[name]
		if !ok {
			return "", fmt.Errorf("missing variable %q", name)
		}
		out.WriteString(tpl[:start])
		out.WriteString(fmt.Sprintf("%v", value))
		tpl = tpl[start+end+1:]
	}
}
