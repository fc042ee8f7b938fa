package minutes

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TranscriptPlaceholder marks where the transcript is inserted, verbatim, in
// a template's user message.
const TranscriptPlaceholder = "{{transcript}}"

type Template struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	System      string   `yaml:"system"`
	User        string   `yaml:"user"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

const (
	TemplateExecutive = "executive"
	TemplateDecisions = "decisions"
)

const executiveUserPrompt = `You are an expert assistant skilled at creating meeting minutes. Analyze the following transcript and provide a structured summary in Markdown with three sections: 'Executive Summary', 'Key Discussion Points', and 'Action Items'. For action items, assign the task to the correct person.

Here is the transcript:
---
{{transcript}}
---
`

const decisionsSystemPrompt = `You are a professional meeting secretary. You write accurate, factual meeting minutes in Markdown. Never add names, dates or decisions that are not in the transcript.`

const decisionsUserPrompt = `Create meeting minutes from the transcript below using exactly these Markdown sections, in this order:

## Key Discussion Points
## Decisions Made
## Action Items
## Summary

For every action item name the responsible person and any deadline that was mentioned. If a section has no content, write "None recorded."

Transcript:
---
{{transcript}}
---`

func BuiltinTemplates() map[string]Template {
	temperature := 0.3
	return map[string]Template{
		TemplateExecutive: {
			Name:        TemplateExecutive,
			Description: "Executive Summary, Key Discussion Points, Action Items",
			User:        executiveUserPrompt,
			MaxTokens:   2048,
		},
		TemplateDecisions: {
			Name:        TemplateDecisions,
			Description: "Key Discussion Points, Decisions Made, Action Items, Summary",
			System:      decisionsSystemPrompt,
			User:        decisionsUserPrompt,
			MaxTokens:   1500,
			Temperature: &temperature,
		},
	}
}

func (t Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("template name is required")
	}
	if !strings.Contains(t.User, TranscriptPlaceholder) {
		return fmt.Errorf("template %q: user prompt must contain %s", t.Name, TranscriptPlaceholder)
	}
	if t.MaxTokens < 0 {
		return fmt.Errorf("template %q: max_tokens must be >= 0", t.Name)
	}
	if t.Temperature != nil && (*t.Temperature < 0 || *t.Temperature > 2) {
		return fmt.Errorf("template %q: temperature must be within [0, 2]", t.Name)
	}
	return nil
}

// Messages returns the optional system message followed by exactly one user
// message that embeds the transcript verbatim.
func (t Template) Messages(transcript string) []Message {
	msgs := make([]Message, 0, 2)
	if system := strings.TrimSpace(t.System); system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, Message{Role: "user", Content: strings.Replace(t.User, TranscriptPlaceholder, transcript, 1)})
	return msgs
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadTemplates returns the built-in templates overlaid with those in the YAML
// file at path. An empty path yields the built-ins.
func LoadTemplates(path string) (map[string]Template, error) {
	templates := BuiltinTemplates()
	if strings.TrimSpace(path) == "" {
		return templates, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	for _, t := range file.Templates {
		t.Name = strings.TrimSpace(t.Name)
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("templates %s: %w", path, err)
		}
		templates[t.Name] = t
	}
	return templates, nil
}

func TemplateNames(templates map[string]Template) []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
