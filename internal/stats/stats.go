// Package stats derives aggregate statistics from persisted question
// and evaluation batches. Nothing here is authoritative state: every
// number is recomputed on demand from the artifacts.
package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/model"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/store"
)

// Pair identifies one evaluator->evaluated direction.
type Pair struct {
	Evaluator string
	Evaluated string
}

// Histogram counts grades on the 0-5 scale plus ungradable entries.
type Histogram struct {
	Counts [model.MaxGrade + 1]int
	Null   int
}

func (h *Histogram) add(grade *int) {
	if grade == nil || !model.GradeInRange(*grade) {
		h.Null++
		return
	}
	h.Counts[*grade]++
}

// Total returns the number of graded entries (nulls excluded).
func (h *Histogram) Total() int {
	total := 0
	for _, c := range h.Counts {
		total += c
	}
	return total
}

// Grade5Percent returns the share of graded entries that scored 5.
func (h *Histogram) Grade5Percent() float64 {
	total := h.Total()
	if total == 0 {
		return 0
	}
	return float64(h.Counts[model.MaxGrade]) / float64(total) * 100
}

// Stats is the full cross-tabulation over all persisted artifacts.
type Stats struct {
	Models         []string
	TotalQuestions int
	TotalGrades    int
	ByEvaluated    map[string]*Histogram
	ByPair         map[Pair]*Histogram

	// Perfect holds, per evaluated model and chapter, the IDs of
	// questions graded 5 by every assigned evaluator.
	Perfect map[string]map[string][]string
}

// Compute scans the store and builds the aggregate statistics,
// including the perfect-consensus sets.
func Compute(st *store.Store) (*Stats, error) {
	models, err := st.Models()
	if err != nil {
		return nil, err
	}

	s := &Stats{
		Models:      models,
		ByEvaluated: make(map[string]*Histogram),
		ByPair:      make(map[Pair]*Histogram),
		Perfect:     make(map[string]map[string][]string),
	}

	questionArtifacts, err := st.QuestionArtifacts()
	if err != nil {
		return nil, err
	}
	for _, a := range questionArtifacts {
		questions, err := st.ReadQuestions(a.Path)
		if err != nil {
			slog.Warn("stats: skipping unreadable question batch", "path", a.Path, "error", err)
			continue
		}
		s.TotalQuestions += len(questions)
	}

	// grades[evaluated][chapter][questionID][evaluator] -> grade
	grades := make(map[string]map[string]map[string]map[string]*int)

	evaluationArtifacts, err := st.EvaluationArtifacts()
	if err != nil {
		return nil, err
	}
	for _, a := range evaluationArtifacts {
		batch, err := st.ReadEvaluation(a.Path)
		if err != nil {
			slog.Warn("stats: skipping unreadable evaluation batch", "path", a.Path, "error", err)
			continue
		}
		for _, entry := range batch.Results {
			hist := s.ByEvaluated[a.Evaluated]
			if hist == nil {
				hist = &Histogram{}
				s.ByEvaluated[a.Evaluated] = hist
			}
			hist.add(entry.Grade)

			pair := Pair{Evaluator: a.Evaluator, Evaluated: a.Evaluated}
			pairHist := s.ByPair[pair]
			if pairHist == nil {
				pairHist = &Histogram{}
				s.ByPair[pair] = pairHist
			}
			pairHist.add(entry.Grade)
			s.TotalGrades++

			if entry.ID == "" {
				continue
			}
			byChapter := grades[a.Evaluated]
			if byChapter == nil {
				byChapter = make(map[string]map[string]map[string]*int)
				grades[a.Evaluated] = byChapter
			}
			byQuestion := byChapter[a.Chapter]
			if byQuestion == nil {
				byQuestion = make(map[string]map[string]*int)
				byChapter[a.Chapter] = byQuestion
			}
			byEvaluator := byQuestion[entry.ID]
			if byEvaluator == nil {
				byEvaluator = make(map[string]*int)
				byQuestion[entry.ID] = byEvaluator
			}
			byEvaluator[a.Evaluator] = entry.Grade
		}
	}

	s.computePerfect(grades)
	return s, nil
}

// computePerfect applies the consensus rule: a question is perfect
// iff every assigned evaluator (all known models except the author)
// graded it and every grade is exactly 5. One missing or dissenting
// evaluator disqualifies the question.
func (s *Stats) computePerfect(grades map[string]map[string]map[string]map[string]*int) {
	for _, evaluated := range s.Models {
		var assigned []string
		for _, m := range s.Models {
			if m != evaluated {
				assigned = append(assigned, m)
			}
		}
		if len(assigned) == 0 {
			continue
		}

		for chapter, byQuestion := range grades[evaluated] {
			for id, byEvaluator := range byQuestion {
				perfect := true
				for _, evaluator := range assigned {
					g, ok := byEvaluator[evaluator]
					if !ok || g == nil || *g != model.MaxGrade {
						perfect = false
						break
					}
				}
				if !perfect {
					continue
				}
				if s.Perfect[evaluated] == nil {
					s.Perfect[evaluated] = make(map[string][]string)
				}
				s.Perfect[evaluated][chapter] = append(s.Perfect[evaluated][chapter], id)
			}
		}
		for chapter := range s.Perfect[evaluated] {
			sort.Strings(s.Perfect[evaluated][chapter])
		}
	}
}

// WriteSummary renders the human-readable report.
func (s *Stats) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "Models: %d\n", len(s.Models))
	fmt.Fprintf(w, "Total questions: %d\n", s.TotalQuestions)
	fmt.Fprintf(w, "Total grades: %d\n\n", s.TotalGrades)

	evaluated := make([]string, 0, len(s.ByEvaluated))
	for m := range s.ByEvaluated {
		evaluated = append(evaluated, m)
	}
	sort.Strings(evaluated)

	for _, m := range evaluated {
		hist := s.ByEvaluated[m]
		fmt.Fprintf(w, "%s: %.1f%% received grade 5 (%d graded, %d ungradable)\n",
			m, hist.Grade5Percent(), hist.Total(), hist.Null)
	}

	pairs := make([]Pair, 0, len(s.ByPair))
	for p := range s.ByPair {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Evaluated != pairs[j].Evaluated {
			return pairs[i].Evaluated < pairs[j].Evaluated
		}
		return pairs[i].Evaluator < pairs[j].Evaluator
	})

	if len(pairs) > 0 {
		fmt.Fprintln(w)
	}
	for _, p := range pairs {
		hist := s.ByPair[p]
		fmt.Fprintf(w, "  %s evaluated by %s: grades", p.Evaluated, p.Evaluator)
		for g, c := range hist.Counts {
			fmt.Fprintf(w, " %d:%d", g, c)
		}
		if hist.Null > 0 {
			fmt.Fprintf(w, " null:%d", hist.Null)
		}
		fmt.Fprintln(w)
	}

	total := 0
	for _, byChapter := range s.Perfect {
		for _, ids := range byChapter {
			total += len(ids)
		}
	}
	fmt.Fprintf(w, "\nPerfect-consensus questions: %d\n", total)
}

// FilterPerfect writes the full question records of every
// perfect-consensus question to the per-(model, chapter) question
// bank. Returns the number of questions written.
func FilterPerfect(st *store.Store, s *Stats) (int, error) {
	questionArtifacts, err := st.QuestionArtifacts()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, a := range questionArtifacts {
		ids := s.Perfect[a.Model][a.Chapter]
		if len(ids) == 0 {
			continue
		}
		idSet := make(map[string]bool, len(ids))
		for _, id := range ids {
			idSet[id] = true
		}

		questions, err := st.ReadQuestions(a.Path)
		if err != nil {
			return total, err
		}
		var perfect []model.Question
		for _, q := range questions {
			if idSet[q.ID] {
				perfect = append(perfect, q)
			}
		}
		if len(perfect) == 0 {
			continue
		}
		if err := st.WritePerfect(a.Model, a.Chapter, perfect); err != nil {
			return total, err
		}
		slog.Info("perfect questions saved", "model", a.Model, "chapter", a.Chapter, "count", len(perfect))
		total += len(perfect)
	}
	return total, nil
}
