// Package export renders a thread and its notes as Markdown or HTML.
package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/starford/threadnote/internal/models"
)

// Frontmatter is the YAML header of an exported thread.
type Frontmatter struct {
	ID          string    `yaml:"id"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description"`
	Tags        []string  `yaml:"tags"`
	Created     time.Time `yaml:"created"`
	Updated     time.Time `yaml:"updated"`
	NoteCount   int       `yaml:"note_count"`
}

// Markdown renders the thread as a Markdown document with YAML frontmatter.
// Notes appear in the given order; prompt notes become quoted follow-up
// questions.
func Markdown(t *models.Thread, notes []models.Note) ([]byte, error) {
	fm, err := yaml.Marshal(Frontmatter{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Tags:        t.Tags,
		Created:     t.CreatedAt.UTC(),
		Updated:     t.UpdatedAt.UTC(),
		NoteCount:   t.NoteCount,
	})
	if err != nil {
		return nil, fmt.Errorf("export: encode frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")
	b.WriteString(body(t, notes))
	return b.Bytes(), nil
}

var page = template.Must(template.New("thread").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<article>
{{.Body}}</article>
</body>
</html>
`))

// HTML renders the thread as a standalone HTML page. Raw HTML inside notes
// is not passed through.
func HTML(t *models.Thread, notes []models.Note) ([]byte, error) {
	var rendered bytes.Buffer
	if err := goldmark.Convert([]byte(body(t, notes)), &rendered); err != nil {
		return nil, fmt.Errorf("export: render markdown: %w", err)
	}

	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{
		Title: t.Title,
		Body:  template.HTML(rendered.String()), //nolint:gosec // goldmark escapes raw HTML by default
	})
	if err != nil {
		return nil, fmt.Errorf("export: render page: %w", err)
	}
	return out.Bytes(), nil
}

func body(t *models.Thread, notes []models.Note) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", t.Description)
	}
	if len(t.Tags) > 0 {
		tags := make([]string, len(t.Tags))
		for i, tag := range t.Tags {
			tags[i] = "`" + tag + "`"
		}
		fmt.Fprintf(&b, "Tags: %s\n\n", strings.Join(tags, " "))
	}

	for _, n := range notes {
		if n.IsPrompt {
			b.WriteString("> **Follow-up questions**\n>\n")
			for _, q := range strings.Split(n.Content, "\n") {
				if q = strings.TrimSpace(q); q != "" {
					fmt.Fprintf(&b, "> - %s\n", q)
				}
			}
			b.WriteString("\n")
			continue
		}

		label := "Note"
		if n.Type == models.NoteTypeAudio {
			label = "Voice note"
		}
		fmt.Fprintf(&b, "## %s · %s\n\n", label, n.CreatedAt.UTC().Format("2006-01-02 15:04"))
		fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(n.Content))
	}
	return b.String()
}

// Document is a parsed export.
type Document struct {
	Frontmatter Frontmatter
	Body        string
}

// Parse splits an exported Markdown document into frontmatter and body. A
// document without frontmatter parses with an empty Frontmatter.
func Parse(data []byte) (*Document, error) {
	block, rest, ok := splitFrontmatter(data)
	if !ok {
		return &Document{Body: string(data)}, nil
	}
	doc := &Document{Body: rest}
	if err := yaml.Unmarshal(block, &doc.Frontmatter); err != nil {
		return nil, fmt.Errorf("export: decode frontmatter: %w", err)
	}
	return doc, nil
}

// splitFrontmatter separates the YAML block between leading --- delimiters
// from the body.
func splitFrontmatter(data []byte) ([]byte, string, bool) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, "", false
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, "", false
	}
	after := rest[idx+1+len(delim):]
	return rest[:idx], strings.TrimLeft(string(after), "\n\r"), true
}
