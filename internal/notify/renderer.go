package notify

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer renders reviewer notifications from templates.
type Renderer struct {
	templates map[MessageKind]*template.Template
}

// NewRenderer creates a renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":          titleCase,
		"upper":          strings.ToUpper,
		"formatTime":     formatTime,
		"formatDuration": formatDuration,
		"truncate":       truncate,
	}

	kinds := []MessageKind{
		KindSubmitted, KindReminder, KindEditing, KindEditCancelled,
		KindEdited, KindApproved, KindRejected, KindExpired,
	}

	r := &Renderer{templates: make(map[MessageKind]*template.Template, len(kinds))}
	for _, kind := range kinds {
		filename := fmt.Sprintf("templates/%s.tmpl", kind)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(string(kind)).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", kind, err)
		}
		r.templates[kind] = tmpl
	}

	return r, nil
}

// Render renders a notification body for the payload's kind.
func (r *Renderer) Render(payload Payload) (string, error) {
	tmpl, ok := r.templates[payload.Kind]
	if !ok {
		return "", fmt.Errorf("template not found: %s", payload.Kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		return "", fmt.Errorf("execute template %s: %w", payload.Kind, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

// formatTime accepts both time.Time and *time.Time so templates can
// format optional timestamps directly.
func formatTime(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format("2006-01-02 15:04 UTC")
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04 UTC")
	default:
		return ""
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
