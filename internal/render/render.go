// Package render writes the browsable HTML archive of a converted export.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/kalambet/chatreader/internal/chat"
)

// IndexFile is the name of the page Render writes.
const IndexFile = "index.html"

var page = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Messages}}<article class="message {{.Role}}" id="m-{{.ID}}">
<header><span class="role">{{.Role}}</span> <time datetime="{{.Time}}">{{.Time}}</time></header>
<div class="text">{{.Body}}</div>
{{if .Concepts}}<ul class="concepts">{{range .Concepts}}<li class="concept">{{.}}</li>{{end}}</ul>
{{end}}</article>
{{end}}</body>
</html>
`))

type pageData struct {
	Title    string
	Messages []messageView
}

type messageView struct {
	ID       string
	Role     string
	Time     string
	Body     template.HTML
	Concepts []string
}

// Renderer converts message text from Markdown and lays messages out in
// input order.
type Renderer struct {
	md goldmark.Markdown
}

// New creates a Renderer. Raw HTML in message text is escaped, not passed through.
func New() *Renderer {
	return &Renderer{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

// Render writes dir/index.html and returns its path.
func (r *Renderer) Render(dir, title string, msgs []chat.Message) (string, error) {
	data := pageData{Title: title, Messages: make([]messageView, 0, len(msgs))}
	for _, m := range msgs {
		var body bytes.Buffer
		if err := r.md.Convert([]byte(m.Text), &body); err != nil {
			return "", fmt.Errorf("rendering message %s: %w", m.ID, err)
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		data.Messages = append(data.Messages, messageView{
			ID:   m.ID,
			Role: role,
			Time: time.Unix(m.Timestamp, 0).UTC().Format(time.RFC3339),
			// goldmark escapes raw HTML unless html.WithUnsafe is set.
			Body:     template.HTML(body.String()),
			Concepts: m.Concepts,
		})
	}

	var out bytes.Buffer
	if err := page.Execute(&out, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(dir, IndexFile)
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
