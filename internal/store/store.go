// Package store persists question and evaluation artifacts as JSON
// files under a results root and tracks them in a sqlite manifest so
// nothing downstream has to parse directory names.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/model"
)

// Reserved directories holding hand-made fixtures; never picked up by
// discovery or reindexing.
const (
	testingQuestionsDir   = "testing_questions"
	testingEvaluationsDir = "testing_evaluations"
)

// vertinaSeparator joins evaluator and evaluated model names in an
// evaluation directory name. Model names are sanitized so the token
// cannot appear inside them.
const vertinaSeparator = "_vertina_"

type Store struct {
	root string
	db   *manifestDB
}

// New opens a store rooted at dir. The manifest database lives at
// dbPath; pass ":memory:" for throwaway stores in tests.
func New(dir, dbPath string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results root: %w", err)
	}
	db, err := openManifest(dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{root: dir, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.close()
}

// Root returns the results root directory.
func (s *Store) Root() string {
	return s.root
}

// sanitizeModel makes a model identifier safe for use as a path
// segment and keeps the vertina separator unambiguous.
func sanitizeModel(id string) string {
	r := strings.NewReplacer("/", "-", " ", "-", "_vertina_", "-vertina-")
	return r.Replace(id)
}

// QuestionsDir returns the directory holding one model's question
// batches.
func (s *Store) QuestionsDir(modelID string) string {
	return filepath.Join(s.root, "questions", sanitizeModel(modelID))
}

// QuestionsPath returns the artifact path for one (model, chapter)
// question batch.
func (s *Store) QuestionsPath(modelID, chapter string) string {
	return filepath.Join(s.QuestionsDir(modelID), "questions_"+chapter+".json")
}

// EvaluationsDir returns the directory for one evaluator->evaluated
// pair.
func (s *Store) EvaluationsDir(evaluatorID, evaluatedID string) string {
	name := sanitizeModel(evaluatorID) + vertinaSeparator + sanitizeModel(evaluatedID)
	return filepath.Join(s.root, "evaluations", name)
}

// EvaluationPath returns the artifact path for one evaluation batch.
func (s *Store) EvaluationPath(evaluatorID, evaluatedID, chapter string) string {
	return filepath.Join(s.EvaluationsDir(evaluatorID, evaluatedID), chapter+"_evaluations.json")
}

// PerfectPath returns the output path for a chapter's perfect-grade
// question bank.
func (s *Store) PerfectPath(modelID, chapter string) string {
	return filepath.Join(s.root, "perfect_questions", sanitizeModel(modelID), chapter+"_perfect_questions.json")
}

// writeJSON writes v as indented UTF-8 JSON with HTML escaping off so
// diacritics survive untouched.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

// WriteQuestions persists a question batch, overwriting any previous
// artifact for the same (model, chapter) pair, and records it in the
// manifest.
func (s *Store) WriteQuestions(modelID, chapter string, questions []model.Question) error {
	path := s.QuestionsPath(modelID, chapter)
	if err := writeJSON(path, questions); err != nil {
		return err
	}
	return s.db.record(Artifact{
		Kind:    KindQuestions,
		Model:   modelID,
		Chapter: chapter,
		Path:    path,
	})
}

// ReadQuestions loads a question batch. Both the JSON-array layout
// and the older one-object-per-line layout are accepted.
func (s *Store) ReadQuestions(path string) ([]model.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions %s: %w", path, err)
	}
	content := strings.TrimSpace(string(data))

	var questions []model.Question
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &questions); err != nil {
			return nil, fmt.Errorf("decode questions %s: %w", path, err)
		}
		return questions, nil
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var q model.Question
		if err := json.Unmarshal([]byte(line), &q); err != nil {
			return nil, fmt.Errorf("decode questions line in %s: %w", path, err)
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// QuestionsExist reports whether the artifact for (model, chapter) is
// already on disk.
func (s *Store) QuestionsExist(modelID, chapter string) bool {
	_, err := os.Stat(s.QuestionsPath(modelID, chapter))
	return err == nil
}

// WriteEvaluation persists an evaluation batch and records it in the
// manifest.
func (s *Store) WriteEvaluation(evaluatorID, evaluatedID, chapter string, batch model.EvaluationBatch) error {
	path := s.EvaluationPath(evaluatorID, evaluatedID, chapter)
	if err := writeJSON(path, batch); err != nil {
		return err
	}
	return s.db.record(Artifact{
		Kind:      KindEvaluations,
		Evaluator: evaluatorID,
		Evaluated: evaluatedID,
		Chapter:   chapter,
		Path:      path,
	})
}

// ReadEvaluation loads an evaluation batch envelope.
func (s *Store) ReadEvaluation(path string) (model.EvaluationBatch, error) {
	var batch model.EvaluationBatch
	data, err := os.ReadFile(path)
	if err != nil {
		return batch, fmt.Errorf("read evaluation %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return batch, fmt.Errorf("decode evaluation %s: %w", path, err)
	}
	return batch, nil
}

// EvaluationExists reports whether the (chapter, evaluator, evaluated)
// artifact is already on disk. This is the idempotence check: an
// existing artifact means the triple is skipped entirely.
func (s *Store) EvaluationExists(evaluatorID, evaluatedID, chapter string) bool {
	_, err := os.Stat(s.EvaluationPath(evaluatorID, evaluatedID, chapter))
	return err == nil
}

// WritePerfect persists the perfect-consensus question bank for one
// (model, chapter).
func (s *Store) WritePerfect(modelID, chapter string, questions []model.Question) error {
	path := s.PerfectPath(modelID, chapter)
	if err := writeJSON(path, questions); err != nil {
		return err
	}
	return s.db.record(Artifact{
		Kind:    KindPerfect,
		Model:   modelID,
		Chapter: chapter,
		Path:    path,
	})
}

// Reindex rebuilds the manifest from an existing results tree. This is
// the only place the on-disk naming convention is parsed back; batches
// written before the manifest existed become queryable again.
func (s *Store) Reindex() error {
	if err := s.db.clear(); err != nil {
		return err
	}

	// Sanitized directory names cannot be mapped back to full model
	// identifiers on their own; the question files record the full id.
	sanitizedToFull := make(map[string]string)

	questionsRoot := filepath.Join(s.root, "questions")
	modelDirs, err := os.ReadDir(questionsRoot)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scan %s: %w", questionsRoot, err)
	}
	for _, d := range modelDirs {
		if !d.IsDir() || d.Name() == testingQuestionsDir {
			continue
		}
		files, err := filepath.Glob(filepath.Join(questionsRoot, d.Name(), "questions_*.json"))
		if err != nil {
			return err
		}
		sort.Strings(files)
		for _, path := range files {
			questions, err := s.ReadQuestions(path)
			if err != nil || len(questions) == 0 {
				slog.Warn("reindex: skipping unreadable question batch", "path", path, "error", err)
				continue
			}
			modelID := questions[0].Model
			sanitizedToFull[d.Name()] = modelID
			chapter := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "questions_"), ".json")
			if err := s.db.record(Artifact{Kind: KindQuestions, Model: modelID, Chapter: chapter, Path: path}); err != nil {
				return err
			}
		}
	}

	evaluationsRoot := filepath.Join(s.root, "evaluations")
	evalDirs, err := os.ReadDir(evaluationsRoot)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scan %s: %w", evaluationsRoot, err)
	}
	for _, d := range evalDirs {
		if !d.IsDir() || d.Name() == testingEvaluationsDir {
			continue
		}
		evaluatorToken, evaluatedToken, ok := strings.Cut(d.Name(), vertinaSeparator)
		if !ok {
			slog.Warn("reindex: evaluation directory does not follow the vertina convention", "dir", d.Name())
			continue
		}
		files, err := filepath.Glob(filepath.Join(evaluationsRoot, d.Name(), "*_evaluations.json"))
		if err != nil {
			return err
		}
		sort.Strings(files)
		for _, path := range files {
			batch, err := s.ReadEvaluation(path)
			if err != nil {
				slog.Warn("reindex: skipping unreadable evaluation batch", "path", path, "error", err)
				continue
			}
			evaluator := batch.Metadata.EvaluatorModel
			if evaluator == "" {
				evaluator = resolveModel(evaluatorToken, sanitizedToFull)
			}
			evaluated := resolveModel(evaluatedToken, sanitizedToFull)
			chapter := strings.TrimSuffix(filepath.Base(path), "_evaluations.json")
			if err := s.db.record(Artifact{Kind: KindEvaluations, Evaluator: evaluator, Evaluated: evaluated, Chapter: chapter, Path: path}); err != nil {
				return err
			}
		}
	}

	return nil
}

func resolveModel(token string, sanitizedToFull map[string]string) string {
	if full, ok := sanitizedToFull[token]; ok {
		return full
	}
	return token
}

// FixQuestionIDs renumbers every batch in dir so IDs are dense,
// 1-based and per-chapter sequential. Returns the number of IDs
// rewritten. Maintenance tooling for batches whose IDs drifted after
// manual edits.
func (s *Store) FixQuestionIDs(dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "questions_*.json"))
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("no questions_*.json files in %s", dir)
	}
	sort.Strings(files)

	total := 0
	for _, path := range files {
		questions, err := s.ReadQuestions(path)
		if err != nil {
			return total, err
		}
		for i := range questions {
			newID := fmt.Sprintf("%s_%03d", questions[i].Chapter, i+1)
			if questions[i].ID != newID {
				slog.Info("fixing question id", "old", questions[i].ID, "new", newID)
			}
			questions[i].ID = newID
			total++
		}
		if err := writeJSON(path, questions); err != nil {
			return total, err
		}
	}
	return total, nil
}
