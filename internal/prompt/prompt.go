// Package prompt compiles and renders the per-role templates a variant
// binds to a function (SPEC_FULL.md §5 component B, spec.md §4.B).
//
// A template is a pure function from a structured input value to a
// rendered string: Compile parses it once at config-load time (so a syntax
// error is fatal to startup, per spec.md §4.A step 4) and Render never
// mutates its input or any package state.
package prompt

import (
	"bytes"
	"fmt"
	"text/template"
)

// Template wraps a compiled text/template. The zero value is not usable;
// construct with Compile.
type Template struct {
	src string
	tpl *template.Template
}

// Compile parses src as a Go text/template. name is used only in error
// messages (the function/variant/role path the template came from).
func Compile(name, src string) (*Template, error) {
	tpl, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("prompt template %s: %w", name, err)
	}
	return &Template{src: src, tpl: tpl}, nil
}

// Source returns the original template text, for logging/debugging.
func (t *Template) Source() string { return t.src }

// Render executes the template against data, which must already have
// passed schema validation for this role (the caller's responsibility —
// Render itself performs no validation, consistent with the design's "pure
// function" framing).
func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return buf.String(), nil
}
