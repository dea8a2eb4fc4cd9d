// Package generator produces multiple-choice question batches from
// source chapters via the completion gateway.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/llm"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/llm/prompts"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/model"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/parse"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/store"
)

var intTokenRe = regexp.MustCompile(`\d+`)

// DesiredCount derives the question count from chapter length: the
// largest integer token in the text is taken as the last verse number
// and one question is asked per three verses, at least one. Text with
// no digits yields one.
func DesiredCount(chapterText string) int {
	last := 0
	for _, tok := range intTokenRe.FindAllString(chapterText, -1) {
		n, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		if n > last {
			last = n
		}
	}
	if last/3 < 1 {
		return 1
	}
	return last / 3
}

type Generator struct {
	completer llm.Completer
	store     *store.Store

	maxAttempts int
	retryDelay  time.Duration
}

func New(completer llm.Completer, st *store.Store, maxAttempts int, retryDelay time.Duration) *Generator {
	return &Generator{
		completer:   completer,
		store:       st,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// Run generates and persists one question batch for a single chapter
// file, overwriting any previous batch for this (chapter, model)
// pair. Gateway exhaustion is fatal: no questions can exist without a
// model reply.
func (g *Generator) Run(ctx context.Context, modelID, chapterPath string) error {
	text, err := os.ReadFile(chapterPath)
	if err != nil {
		return fmt.Errorf("read chapter %s: %w", chapterPath, err)
	}
	chapter := stem(chapterPath)

	questions, err := g.generate(ctx, modelID, string(text), chapter)
	if err != nil {
		return err
	}

	if err := g.store.WriteQuestions(modelID, chapter, questions); err != nil {
		// The batch is regenerable by re-running this chapter, so a
		// failed write does not abort the run.
		slog.Error("could not persist question batch", "chapter", chapter, "error", err)
		return nil
	}
	slog.Info("question batch saved", "chapter", chapter, "model", modelID, "count", len(questions))
	return nil
}

// RunAll generates batches for every .txt chapter under sourcesDir,
// skipping chapters whose batch already exists on disk.
func (g *Generator) RunAll(ctx context.Context, modelID, sourcesDir string) error {
	chapters, err := filepath.Glob(filepath.Join(sourcesDir, "*.txt"))
	if err != nil {
		return err
	}
	if len(chapters) == 0 {
		return fmt.Errorf("no chapter files in %s", sourcesDir)
	}
	sort.Strings(chapters)
	slog.Info("starting generation", "model", modelID, "chapters", len(chapters))

	for _, chapterPath := range chapters {
		chapter := stem(chapterPath)
		if g.store.QuestionsExist(modelID, chapter) {
			slog.Info("question batch already exists, skipping", "chapter", chapter)
			continue
		}
		if err := g.Run(ctx, modelID, chapterPath); err != nil {
			return err
		}
	}
	return nil
}

// generate asks the model for questions and shapes the surviving
// candidates into a batch with dense sequential IDs.
func (g *Generator) generate(ctx context.Context, modelID, chapterText, chapter string) ([]model.Question, error) {
	count := DesiredCount(chapterText)
	slog.Info("generating questions", "model", modelID, "chapter", chapter, "desired", count)

	messages, err := prompts.Generate(prompts.GenerateData{
		NumQuestions: count,
		ChapterText:  chapterText,
	})
	if err != nil {
		return nil, err
	}

	raw, err := llm.CompleteWithRetry(ctx, g.completer, modelID, messages, true, g.maxAttempts, g.retryDelay)
	if err != nil {
		return nil, fmt.Errorf("generation for chapter %s: %w", chapter, err)
	}

	candidates := parse.Questions(raw, parse.FormatJSON)

	questions := make([]model.Question, 0, len(candidates))
	seq := 1
	for _, c := range candidates {
		q := model.Question{
			Question: c.Question,
			Options:  c.Options,
			Correct:  strings.ToLower(c.Correct),
			Model:    modelID,
			Chapter:  chapter,
		}
		if !q.Valid() {
			slog.Warn("dropping invalid question", "chapter", chapter, "model", modelID)
			continue
		}
		if q.Correct == "" {
			slog.Warn("question has no declared correct answer", "chapter", chapter, "model", modelID)
		}
		q.ID = fmt.Sprintf("%s_%03d", chapter, seq)
		seq++
		questions = append(questions, q)
	}
	return questions, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
