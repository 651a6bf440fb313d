package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/threadnote/internal/models"
)

// ErrInvalidResponse is returned when the model output cannot be turned into
// usable metadata.
var ErrInvalidResponse = errors.New("enrich: invalid model response")

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z]*\\s*(.*?)```")

type rawMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Questions   []string `json:"questions"`
}

// ParseMetadata decodes the model's raw text into normalized metadata.
//
// Code fences and prose around the JSON object are stripped. Over-long
// strings are truncated and surplus tags/questions dropped; missing fields,
// too few tags or too few questions are rejected.
func ParseMetadata(raw string) (*models.ThreadMetadata, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrInvalidResponse)
	}

	var r rawMetadata
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	meta := &models.ThreadMetadata{
		Title:       truncate(r.Title, MaxTitleLen),
		Description: truncate(r.Description, MaxDescriptionLen),
		Tags:        capList(cleanList(r.Tags, true), MaxTags),
		Questions:   capList(cleanList(r.Questions, false), QuestionCount),
	}
	if err := validateMetadata(meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return meta, nil
}

func validateMetadata(m *models.ThreadMetadata) error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Title, validation.Required, validation.RuneLength(1, MaxTitleLen)),
		validation.Field(&m.Description, validation.Required, validation.RuneLength(1, MaxDescriptionLen)),
		validation.Field(&m.Tags, validation.Required, validation.Length(MinTags, MaxTags)),
		validation.Field(&m.Questions, validation.Required, validation.Length(QuestionCount, QuestionCount)),
	)
}

func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}

// cleanList trims entries and drops empty ones; dedupe drops repeated
// entries case-insensitively, keeping the first occurrence.
func cleanList(items []string, dedupe bool) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if dedupe {
			key := strings.ToLower(item)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, item)
	}
	return out
}

func capList(items []string, max int) []string {
	if len(items) > max {
		return items[:max]
	}
	return items
}
