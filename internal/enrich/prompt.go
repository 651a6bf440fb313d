// Package enrich derives thread metadata (title, description, tags and
// follow-up questions) from a thread's notes using a generative model.
package enrich

import (
	"fmt"
	"strings"

	"github.com/starford/threadnote/internal/models"
)

// Limits requested from the model and enforced on its answer.
const (
	MaxTitleLen       = 50
	MaxDescriptionLen = 150
	MinTags           = 3
	MaxTags           = 5
	QuestionCount     = 3
)

const promptHeader = `You help users organize their thoughts in a note-taking app. Read the notes of one thread and produce:

1. A concise thread title (at most %d characters)
2. A short description of one or two lines (at most %d characters)
3. Between %d and %d contextual tags
4. Exactly %d exploratory follow-up questions about the most recent note

Answer with a single JSON object and nothing else, shaped like:

{
"title": "Thread Title",
"description": "Thread description",
"tags": ["tag1", "tag2", "tag3"],
"questions": ["Question 1?", "Question 2?", "Question 3?"]
}

Notes in chronological order:
`

// BuildPrompt renders the enrichment request for the content notes of a
// thread. Notes must be in creation order; prompt notes are skipped.
func BuildPrompt(notes []models.Note) string {
	var b strings.Builder
	fmt.Fprintf(&b, promptHeader, MaxTitleLen, MaxDescriptionLen, MinTags, MaxTags, QuestionCount)

	n := 0
	for _, note := range notes {
		if note.IsPrompt {
			continue
		}
		n++
		if n > 1 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s\n", n, strings.TrimSpace(note.Content))
	}

	fmt.Fprintf(&b, "\nBase the title, description and tags on all notes. Base the questions on the most recent note (note %d).\n", n)
	return b.String()
}
