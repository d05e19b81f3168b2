package templates

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// Renderer compiles and executes banner markup templates. Markup arrives from
// the config delivery service, so the function map excludes every helper that
// could reach the process environment or filesystem.
type Renderer struct {
	funcs template.FuncMap
}

// Template represents a compiled template ready for execution. Templates are
// safe for concurrent use.
type Template struct {
	name     string
	renderer *Renderer
	tmpl     *template.Template
}

// NewRenderer constructs a renderer with the restricted sprig function map.
func NewRenderer() *Renderer {
	funcs := sprig.TxtFuncMap()
	restricted := []string{
		"env",
		"expandenv",
		"readDir",
		"mustReadDir",
		"readFile",
		"mustReadFile",
		"glob",
	}
	for _, name := range restricted {
		delete(funcs, name)
	}
	return &Renderer{funcs: funcs}
}

// CompileInline parses an inline template source. Empty or whitespace-only
// sources return nil without error to simplify optional configuration fields.
func (r *Renderer) CompileInline(name, source string) (*Template, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, nil
	}
	if name == "" {
		name = "inline"
	}
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("templates: compile %q: %w", name, err)
	}
	return &Template{name: name, renderer: r, tmpl: tmpl}, nil
}

// Render executes the compiled template with the supplied data returning the
// rendered string. Errors are propagated for callers to surface or log.
func (t *Template) Render(data any) (string, error) {
	if t == nil {
		return "", errors.New("templates: nil template")
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute %q: %w", t.name, err)
	}
	return buf.String(), nil
}

// Name exposes the logical template name which callers may embed in logs.
func (t *Template) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}
