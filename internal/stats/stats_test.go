package stats

import (
	"bytes"
	"strings"
	"testing"

	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/model"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir(), ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func question(id, chapter, modelID string) model.Question {
	return model.Question{
		ID:       id,
		Question: "Klausimas " + id,
		Options:  map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"},
		Correct:  "a",
		Model:    modelID,
		Chapter:  chapter,
	}
}

func entry(id string, grade *int) model.EvaluationEntry {
	return model.EvaluationEntry{ID: id, Grade: grade}
}

func intp(v int) *int { return &v }

// seedThreeModels builds the common fixture: three models, model A
// with three questions in Jn_1, graded by B and C.
//
//	q1: 5 from B, 5 from C  -> perfect
//	q2: 5 from B, 4 from C  -> dissent
//	q3: 5 from B only       -> missing evaluator
func seedThreeModels(t *testing.T, st *store.Store) {
	t.Helper()

	a, b, c := "m/a", "m/b", "m/c"
	if err := st.WriteQuestions(a, "Jn_1", []model.Question{
		question("Jn_1_001", "Jn_1", a),
		question("Jn_1_002", "Jn_1", a),
		question("Jn_1_003", "Jn_1", a),
	}); err != nil {
		t.Fatalf("WriteQuestions: %v", err)
	}
	for _, m := range []string{b, c} {
		if err := st.WriteQuestions(m, "Jn_1", []model.Question{question("Jn_1_001", "Jn_1", m)}); err != nil {
			t.Fatalf("WriteQuestions: %v", err)
		}
	}

	fromB := model.EvaluationBatch{
		Metadata: model.EvaluationMetadata{EvaluatorModel: b, Source: "Jn_1"},
		Results: []model.EvaluationEntry{
			entry("Jn_1_001", intp(5)),
			entry("Jn_1_002", intp(5)),
			entry("Jn_1_003", intp(5)),
		},
	}
	if err := st.WriteEvaluation(b, a, "Jn_1", fromB); err != nil {
		t.Fatalf("WriteEvaluation: %v", err)
	}

	fromC := model.EvaluationBatch{
		Metadata: model.EvaluationMetadata{EvaluatorModel: c, Source: "Jn_1"},
		Results: []model.EvaluationEntry{
			entry("Jn_1_001", intp(5)),
			entry("Jn_1_002", intp(4)),
		},
	}
	if err := st.WriteEvaluation(c, a, "Jn_1", fromC); err != nil {
		t.Fatalf("WriteEvaluation: %v", err)
	}
}

func TestComputeCounts(t *testing.T) {
	st := newTestStore(t)
	seedThreeModels(t, st)

	s, err := Compute(st)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if len(s.Models) != 3 {
		t.Errorf("expected 3 models, got %v", s.Models)
	}
	if s.TotalQuestions != 5 {
		t.Errorf("TotalQuestions = %d, want 5", s.TotalQuestions)
	}
	if s.TotalGrades != 5 {
		t.Errorf("TotalGrades = %d, want 5", s.TotalGrades)
	}

	hist := s.ByEvaluated["m/a"]
	if hist == nil {
		t.Fatal("missing histogram for m/a")
	}
	if hist.Counts[5] != 4 || hist.Counts[4] != 1 {
		t.Errorf("histogram = %v", hist.Counts)
	}
	if hist.Total() != 5 {
		t.Errorf("Total() = %d, want 5", hist.Total())
	}
	if got := hist.Grade5Percent(); got != 80 {
		t.Errorf("Grade5Percent() = %.1f, want 80.0", got)
	}

	pair := s.ByPair[Pair{Evaluator: "m/c", Evaluated: "m/a"}]
	if pair == nil || pair.Counts[4] != 1 || pair.Counts[5] != 1 {
		t.Errorf("unexpected pair histogram: %+v", pair)
	}
}

func TestPerfectConsensus(t *testing.T) {
	st := newTestStore(t)
	seedThreeModels(t, st)

	s, err := Compute(st)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	perfect := s.Perfect["m/a"]["Jn_1"]
	if len(perfect) != 1 || perfect[0] != "Jn_1_001" {
		t.Errorf("perfect set = %v, want [Jn_1_001]", perfect)
	}
}

func TestNullGradesCountedSeparately(t *testing.T) {
	st := newTestStore(t)

	a, b := "m/a", "m/b"
	for _, m := range []string{a, b} {
		if err := st.WriteQuestions(m, "Jn_1", []model.Question{question("Jn_1_001", "Jn_1", m)}); err != nil {
			t.Fatalf("WriteQuestions: %v", err)
		}
	}
	batch := model.EvaluationBatch{
		Metadata: model.EvaluationMetadata{EvaluatorModel: b, Source: "Jn_1"},
		Results:  []model.EvaluationEntry{entry("Jn_1_001", nil)},
	}
	if err := st.WriteEvaluation(b, a, "Jn_1", batch); err != nil {
		t.Fatalf("WriteEvaluation: %v", err)
	}

	s, err := Compute(st)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	hist := s.ByEvaluated[a]
	if hist.Null != 1 || hist.Total() != 0 {
		t.Errorf("null grade not counted separately: %+v", hist)
	}
	if hist.Grade5Percent() != 0 {
		t.Errorf("Grade5Percent with no graded entries should be 0")
	}
	// An ungraded entry can never be part of a perfect set.
	if len(s.Perfect[a]["Jn_1"]) != 0 {
		t.Errorf("null grade must not produce perfect consensus: %v", s.Perfect[a])
	}
}

func TestSingleEvaluatorIsNotConsensus(t *testing.T) {
	st := newTestStore(t)
	// Three known models, but only one of the two assigned evaluators
	// graded: grade 5 alone must not count as consensus.
	a, b, c := "m/a", "m/b", "m/c"
	for _, m := range []string{a, b, c} {
		if err := st.WriteQuestions(m, "Jn_1", []model.Question{question("Jn_1_001", "Jn_1", m)}); err != nil {
			t.Fatalf("WriteQuestions: %v", err)
		}
	}
	batch := model.EvaluationBatch{
		Metadata: model.EvaluationMetadata{EvaluatorModel: b, Source: "Jn_1"},
		Results:  []model.EvaluationEntry{entry("Jn_1_001", intp(5))},
	}
	if err := st.WriteEvaluation(b, a, "Jn_1", batch); err != nil {
		t.Fatalf("WriteEvaluation: %v", err)
	}

	s, err := Compute(st)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(s.Perfect[a]["Jn_1"]) != 0 {
		t.Errorf("one evaluator of two must not yield consensus: %v", s.Perfect[a])
	}
}

func TestFilterPerfect(t *testing.T) {
	st := newTestStore(t)
	seedThreeModels(t, st)

	s, err := Compute(st)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	total, err := FilterPerfect(st, s)
	if err != nil {
		t.Fatalf("FilterPerfect: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 perfect question written, got %d", total)
	}

	bank, err := st.ReadQuestions(st.PerfectPath("m/a", "Jn_1"))
	if err != nil {
		t.Fatalf("ReadQuestions: %v", err)
	}
	if len(bank) != 1 || bank[0].ID != "Jn_1_001" {
		t.Errorf("unexpected bank contents: %+v", bank)
	}
	// Full records, not just IDs.
	if bank[0].Question == "" || len(bank[0].Options) != 4 {
		t.Errorf("perfect bank must hold complete question records: %+v", bank[0])
	}
}

func TestWriteSummary(t *testing.T) {
	st := newTestStore(t)
	seedThreeModels(t, st)

	s, err := Compute(st)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	var buf bytes.Buffer
	s.WriteSummary(&buf)
	out := buf.String()

	for _, want := range []string{
		"Models: 3",
		"Total questions: 5",
		"Total grades: 5",
		"m/a: 80.0% received grade 5",
		"Perfect-consensus questions: 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
