// Package prompts builds the chat messages for question generation
// and batch evaluation from embedded templates.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"sync"
	"text/template"

	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/llm"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

// GenerateData feeds the generation prompt.
type GenerateData struct {
	NumQuestions int
	ChapterText  string
}

// EvaluateData feeds the batched evaluation prompt. QuestionsJSON is
// the serialized question list including options and declared correct
// answers.
type EvaluateData struct {
	ChapterText   string
	QuestionsJSON string
}

func load() error {
	loadOnce.Do(func() {
		templates = make(map[string]*template.Template)
		for _, name := range []string{"generate_system", "generate_user", "evaluate_system", "evaluate_user"} {
			content, err := templateFS.ReadFile("templates/" + name + ".txt")
			if err != nil {
				loadErr = fmt.Errorf("read prompt template %s: %w", name, err)
				return
			}
			tmpl, err := template.New(name).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			templates[name] = tmpl
		}
	})
	return loadErr
}

func render(name string, data any) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := templates[name].Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// Generate builds the two-message generation request: the orthography
// system instruction plus the schema instruction with the chapter
// text appended verbatim.
func Generate(data GenerateData) ([]llm.Message, error) {
	system, err := render("generate_system", data)
	if err != nil {
		return nil, err
	}
	user, err := render("generate_user", data)
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}, nil
}

// Evaluate builds the batched evaluation request: the hierarchical
// grading scale as the system instruction, and the chapter text plus
// the full serialized question list as the user message.
func Evaluate(data EvaluateData) ([]llm.Message, error) {
	system, err := render("evaluate_system", data)
	if err != nil {
		return nil, err
	}
	user, err := render("evaluate_user", data)
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}, nil
}
