package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testQuestion(id, chapter, modelID string) model.Question {
	return model.Question{
		ID:       id,
		Question: "Ką Jėzus pasakė Nikodemui?",
		Options: map[string]string{
			"a": "Gimti iš naujo", "b": "Eiti į šventyklą",
			"c": "Laikytis įstatymo", "d": "Pasninkauti",
		},
		Correct: "a",
		Model:   modelID,
		Chapter: chapter,
	}
}

func TestQuestionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	questions := []model.Question{
		testQuestion("Jn_3_001", "Jn_3", "mistral/medium"),
		testQuestion("Jn_3_002", "Jn_3", "mistral/medium"),
	}

	if err := s.WriteQuestions("mistral/medium", "Jn_3", questions); err != nil {
		t.Fatalf("WriteQuestions: %v", err)
	}
	if !s.QuestionsExist("mistral/medium", "Jn_3") {
		t.Fatal("artifact should exist after write")
	}

	got, err := s.ReadQuestions(s.QuestionsPath("mistral/medium", "Jn_3"))
	if err != nil {
		t.Fatalf("ReadQuestions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got))
	}
	if got[0].Question != questions[0].Question {
		t.Errorf("question text mismatch: %q", got[0].Question)
	}

	// Diacritics must survive on disk unescaped.
	data, err := os.ReadFile(s.QuestionsPath("mistral/medium", "Jn_3"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "Ką Jėzus pasakė Nikodemui?") {
		t.Error("diacritics were escaped in the artifact")
	}
}

func TestReadQuestionsLineDelimited(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "questions_Jn_1.json")
	content := `{"id": "Jn_1_001", "question": "K1?", "options": {"a": "1", "b": "2", "c": "3", "d": "4"}, "correct": "a", "model": "m/x", "chapter": "Jn_1"}
{"id": "Jn_1_002", "question": "K2?", "options": {"a": "1", "b": "2", "c": "3", "d": "4"}, "correct": "b", "model": "m/x", "chapter": "Jn_1"}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := s.ReadQuestions(path)
	if err != nil {
		t.Fatalf("ReadQuestions: %v", err)
	}
	if len(got) != 2 || got[1].ID != "Jn_1_002" {
		t.Errorf("unexpected questions: %+v", got)
	}
}

func TestEvaluationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	grade := 5
	comment := "Nepriekaištinga."
	batch := model.EvaluationBatch{
		Metadata: model.EvaluationMetadata{EvaluatorModel: "gemini/flash", Source: "Jn_3"},
		Results:  []model.EvaluationEntry{{ID: "Jn_3_001", Grade: &grade, Comment: &comment}},
	}

	if err := s.WriteEvaluation("gemini/flash", "mistral/medium", "Jn_3", batch); err != nil {
		t.Fatalf("WriteEvaluation: %v", err)
	}
	if !s.EvaluationExists("gemini/flash", "mistral/medium", "Jn_3") {
		t.Fatal("artifact should exist after write")
	}

	got, err := s.ReadEvaluation(s.EvaluationPath("gemini/flash", "mistral/medium", "Jn_3"))
	if err != nil {
		t.Fatalf("ReadEvaluation: %v", err)
	}
	if got.Metadata.EvaluatorModel != "gemini/flash" || got.Metadata.Source != "Jn_3" {
		t.Errorf("metadata mismatch: %+v", got.Metadata)
	}
	if len(got.Results) != 1 || got.Results[0].Grade == nil || *got.Results[0].Grade != 5 {
		t.Errorf("results mismatch: %+v", got.Results)
	}
}

func TestEvaluationsDirNaming(t *testing.T) {
	s := newTestStore(t)
	dir := s.EvaluationsDir("gemini/gemini-2.5-flash", "mistral/mistral-medium-2508")
	name := filepath.Base(dir)
	if name != "gemini-gemini-2.5-flash_vertina_mistral-mistral-medium-2508" {
		t.Errorf("unexpected directory name: %q", name)
	}
	// The separator token must stay unambiguous even for hostile names.
	if got := sanitizeModel("evil_vertina_name"); strings.Contains(got, "_vertina_") {
		t.Errorf("sanitized name still contains separator: %q", got)
	}
}

func TestManifestQueries(t *testing.T) {
	s := newTestStore(t)
	for _, m := range []string{"mistral/medium", "gemini/flash"} {
		if err := s.WriteQuestions(m, "Jn_3", []model.Question{testQuestion("Jn_3_001", "Jn_3", m)}); err != nil {
			t.Fatalf("WriteQuestions: %v", err)
		}
	}
	grade := 4
	batch := model.EvaluationBatch{
		Metadata: model.EvaluationMetadata{EvaluatorModel: "gemini/flash", Source: "Jn_3"},
		Results:  []model.EvaluationEntry{{ID: "Jn_3_001", Grade: &grade}},
	}
	if err := s.WriteEvaluation("gemini/flash", "mistral/medium", "Jn_3", batch); err != nil {
		t.Fatalf("WriteEvaluation: %v", err)
	}

	models, err := s.Models()
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 2 || models[0] != "gemini/flash" || models[1] != "mistral/medium" {
		t.Errorf("unexpected models: %v", models)
	}

	evals, err := s.EvaluationArtifacts()
	if err != nil {
		t.Fatalf("EvaluationArtifacts: %v", err)
	}
	if len(evals) != 1 {
		t.Fatalf("expected 1 evaluation artifact, got %d", len(evals))
	}
	a := evals[0]
	if a.Evaluator != "gemini/flash" || a.Evaluated != "mistral/medium" || a.Chapter != "Jn_3" {
		t.Errorf("unexpected artifact: %+v", a)
	}

	// Rewriting the same triple must not create a second row.
	if err := s.WriteEvaluation("gemini/flash", "mistral/medium", "Jn_3", batch); err != nil {
		t.Fatalf("WriteEvaluation again: %v", err)
	}
	evals, _ = s.EvaluationArtifacts()
	if len(evals) != 1 {
		t.Errorf("upsert should keep one row per triple, got %d", len(evals))
	}
}

func TestReindex(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, ":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.WriteQuestions("mistral/medium", "Jn_3", []model.Question{testQuestion("Jn_3_001", "Jn_3", "mistral/medium")}); err != nil {
		t.Fatalf("WriteQuestions: %v", err)
	}
	grade := 5
	batch := model.EvaluationBatch{
		Metadata: model.EvaluationMetadata{EvaluatorModel: "gemini/flash", Source: "Jn_3"},
		Results:  []model.EvaluationEntry{{ID: "Jn_3_001", Grade: &grade}},
	}
	if err := s.WriteEvaluation("gemini/flash", "mistral/medium", "Jn_3", batch); err != nil {
		t.Fatalf("WriteEvaluation: %v", err)
	}

	// Reserved fixture directories must stay invisible.
	fixtureDir := filepath.Join(root, "questions", testingQuestionsDir)
	if err := os.MkdirAll(fixtureDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(fixtureDir, "questions_X_1.json"), []byte("[]"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// A fresh manifest over the same tree sees nothing until reindexed.
	fresh, err := New(root, ":memory:")
	if err != nil {
		t.Fatalf("New fresh: %v", err)
	}
	t.Cleanup(func() { fresh.Close() })

	models, _ := fresh.Models()
	if len(models) != 0 {
		t.Fatalf("fresh manifest should be empty, got %v", models)
	}

	if err := fresh.Reindex(); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	models, err = fresh.Models()
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	// The full model id is recovered from the artifact, not the
	// sanitized directory name.
	if len(models) != 1 || models[0] != "mistral/medium" {
		t.Errorf("unexpected models after reindex: %v", models)
	}

	evals, err := fresh.EvaluationArtifacts()
	if err != nil {
		t.Fatalf("EvaluationArtifacts: %v", err)
	}
	if len(evals) != 1 {
		t.Fatalf("expected 1 evaluation artifact, got %d", len(evals))
	}
	if evals[0].Evaluator != "gemini/flash" || evals[0].Evaluated != "mistral/medium" {
		t.Errorf("unexpected evaluation artifact: %+v", evals[0])
	}
}

func TestFixQuestionIDs(t *testing.T) {
	s := newTestStore(t)
	questions := []model.Question{
		testQuestion("Jn_3_002", "Jn_3", "m/x"),
		testQuestion("Jn_3_005", "Jn_3", "m/x"),
		testQuestion("Jn_3_009", "Jn_3", "m/x"),
	}
	if err := s.WriteQuestions("m/x", "Jn_3", questions); err != nil {
		t.Fatalf("WriteQuestions: %v", err)
	}

	total, err := s.FixQuestionIDs(s.QuestionsDir("m/x"))
	if err != nil {
		t.Fatalf("FixQuestionIDs: %v", err)
	}
	if total != 3 {
		t.Errorf("expected 3 renumbered ids, got %d", total)
	}

	got, err := s.ReadQuestions(s.QuestionsPath("m/x", "Jn_3"))
	if err != nil {
		t.Fatalf("ReadQuestions: %v", err)
	}
	want := []string{"Jn_3_001", "Jn_3_002", "Jn_3_003"}
	for i, w := range want {
		if got[i].ID != w {
			t.Errorf("id[%d] = %q, want %q", i, got[i].ID, w)
		}
	}
}

func TestFixQuestionIDsNoFiles(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.FixQuestionIDs(t.TempDir()); err == nil {
		t.Error("expected error for directory without question files")
	}
}
