// Package evaluator grades persisted question batches with other
// models. One request carries a whole chapter's batch; a model never
// grades its own questions; existing artifacts are never recomputed.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/llm"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/llm/prompts"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/model"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/parse"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/store"
)

type Evaluator struct {
	completer llm.Completer
	store     *store.Store
}

func New(completer llm.Completer, st *store.Store) *Evaluator {
	return &Evaluator{completer: completer, store: st}
}

// Run grades one question batch against its source chapter and
// persists the evaluation envelope. Precondition failures (missing
// paths, chapter mismatch, self-grading, existing artifact) skip the
// batch with a diagnostic and a nil error so multi-chapter runs
// continue past them. A gateway call that yields no usable result is
// an error: the caller treats it as fatal.
func (e *Evaluator) Run(ctx context.Context, questionsPath, evaluatorID, sourcePath string) error {
	for _, p := range []string{questionsPath, sourcePath} {
		if _, err := os.Stat(p); err != nil {
			slog.Error("evaluation input missing, skipping batch", "path", p)
			return nil
		}
	}

	questions, err := e.store.ReadQuestions(questionsPath)
	if err != nil || len(questions) == 0 {
		slog.Error("cannot load question batch, skipping", "path", questionsPath, "error", err)
		return nil
	}

	chapter := strings.TrimSpace(questions[0].Chapter)
	sourceChapter := stem(sourcePath)
	if chapter != sourceChapter {
		slog.Error("batch chapter does not match source chapter, skipping",
			"batch_chapter", chapter, "source_chapter", sourceChapter)
		return nil
	}

	evaluatedID := questions[0].Model
	if evaluatedID == evaluatorID {
		slog.Info("model would grade its own questions, skipping", "model", evaluatorID, "chapter", chapter)
		return nil
	}

	if e.store.EvaluationExists(evaluatorID, evaluatedID, chapter) {
		slog.Info("evaluation already exists, skipping", "chapter", chapter,
			"evaluator", evaluatorID, "evaluated", evaluatedID)
		return nil
	}

	sourceText, err := os.ReadFile(sourcePath)
	if err != nil {
		slog.Error("cannot read source chapter, skipping", "path", sourcePath, "error", err)
		return nil
	}

	results, err := e.grade(ctx, evaluatorID, questions, string(sourceText))
	if err != nil {
		return fmt.Errorf("evaluate chapter %s with %s: %w", chapter, evaluatorID, err)
	}

	batch := model.EvaluationBatch{
		Metadata: model.EvaluationMetadata{
			EvaluatorModel: evaluatorID,
			Source:         sourceChapter,
		},
		Results: results,
	}
	if err := e.store.WriteEvaluation(evaluatorID, evaluatedID, chapter, batch); err != nil {
		// A lost artifact is regenerable: the missing file makes the
		// next run retry this triple.
		slog.Error("could not persist evaluation batch", "chapter", chapter, "error", err)
		return nil
	}
	slog.Info("evaluation batch saved", "chapter", chapter, "evaluator", evaluatorID,
		"evaluated", evaluatedID, "graded", len(results))
	return nil
}

// grade sends the batched evaluation request and decodes the reply
// strictly: an undecodable reply fails the whole call, there is no
// per-question salvage at the batch level.
func (e *Evaluator) grade(ctx context.Context, evaluatorID string, questions []model.Question, sourceText string) ([]model.EvaluationEntry, error) {
	serialized, err := json.MarshalIndent(questions, "", "  ")
	if err != nil {
		return nil, err
	}
	messages, err := prompts.Evaluate(prompts.EvaluateData{
		ChapterText:   sourceText,
		QuestionsJSON: string(serialized),
	})
	if err != nil {
		return nil, err
	}

	raw, err := e.completer.Complete(ctx, evaluatorID, messages, true)
	if err != nil {
		return nil, err
	}

	results, err := decodeResults(raw)
	if err != nil {
		// Single-question batches sometimes come back as one verdict
		// object instead of a one-element list. Salvage that shape; a
		// multi-question batch stays strict.
		if len(questions) == 1 {
			if r := parse.Evaluation(raw); r.Grade != nil {
				slog.Warn("reply was a single verdict, not a list", "id", questions[0].ID)
				results = []model.EvaluationEntry{{ID: questions[0].ID, Grade: r.Grade, Comment: r.Comment}}
				err = nil
			}
		}
		if err != nil {
			return nil, err
		}
	}

	for i := range results {
		if results[i].Grade != nil && !model.GradeInRange(*results[i].Grade) {
			slog.Warn("grade outside 0-5 scale, recording as ungraded",
				"id", results[i].ID, "grade", *results[i].Grade)
			results[i].Grade = nil
		}
	}
	return results, nil
}

// decodeResults accepts the reply either as a bare JSON array or
// wrapped in an object under "results" (JSON response mode forces an
// object with some providers).
func decodeResults(raw string) ([]model.EvaluationEntry, error) {
	cleaned := parse.StripFence(raw)

	var results []model.EvaluationEntry
	if err := json.Unmarshal([]byte(cleaned), &results); err == nil {
		return results, nil
	}

	var wrapped struct {
		Results []model.EvaluationEntry `json:"results"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err != nil || wrapped.Results == nil {
		return nil, fmt.Errorf("reply is not a valid evaluation JSON array")
	}
	return wrapped.Results, nil
}

// RunAll grades every chapter batch of evaluatedID's questions with
// evaluatorID, looking up each source chapter by name under
// sourcesDir. Any chapter whose required gateway call yields no
// usable result halts the run.
func (e *Evaluator) RunAll(ctx context.Context, evaluatorID, evaluatedID, sourcesDir string) error {
	if evaluatorID == evaluatedID {
		slog.Info("evaluator and evaluated model are the same, nothing to do", "model", evaluatorID)
		return nil
	}

	questionsDir := e.store.QuestionsDir(evaluatedID)
	batches, err := filepath.Glob(filepath.Join(questionsDir, "questions_*.json"))
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return fmt.Errorf("no question batches in %s", questionsDir)
	}
	sort.Strings(batches)
	slog.Info("starting evaluation", "evaluator", evaluatorID, "evaluated", evaluatedID, "batches", len(batches))

	for _, questionsPath := range batches {
		chapter := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(questionsPath), "questions_"), ".json")
		sourcePath := filepath.Join(sourcesDir, chapter+".txt")
		if err := e.Run(ctx, questionsPath, evaluatorID, sourcePath); err != nil {
			return err
		}
	}
	return nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
