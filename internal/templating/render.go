// Package templating renders the {{ ds }} style placeholders used by task
// commands and SQL.
package templating

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

var (
	placeholder = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)
	identPath   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// NeedsRendering reports whether text holds at least one placeholder.
func NeedsRendering(text string) bool {
	return strings.Contains(text, "{{")
}

// Render substitutes every {{ name }} or {{ name.field }} placeholder with the
// matching entry of vars. Anything other than a plain variable path, such as
// filters or calls, is rejected, as are unknown variables.
func Render(text string, vars map[string]any) (string, error) {
	if !NeedsRendering(text) {
		return text, nil
	}
	goTemplate, err := translate(text)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New("task").Option("missingkey=error").Parse(goTemplate)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

// Placeholders lists the variable paths referenced by text in order of appearance.
func Placeholders(text string) []string {
	var out []string
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

// translate turns {{ dag.dag_id }} into the text/template form {{ .dag.dag_id }}
// and escapes any literal text that text/template would otherwise interpret.
func translate(text string) (string, error) {
	var sb strings.Builder
	last := 0
	for _, loc := range placeholder.FindAllStringSubmatchIndex(text, -1) {
		sb.WriteString(escapeLiteral(text[last:loc[0]]))
		path := text[loc[2]:loc[3]]
		if !identPath.MatchString(path) {
			return "", fmt.Errorf("unsupported template expression %q", path)
		}
		sb.WriteString("{{ ." + path + " }}")
		last = loc[1]
	}
	sb.WriteString(escapeLiteral(text[last:]))
	return sb.String(), nil
}

func escapeLiteral(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return strings.ReplaceAll(s, "{{", `{{"{{"}}`)
}
