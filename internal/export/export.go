// Package export flattens questions and their evaluations into one
// tabular CSV: a row per (question, evaluation) pair, with
// question-only rows for questions nobody graded.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/model"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/store"
)

var header = []string{
	"question_id", "chapter", "model", "question", "correct", "options",
	"evaluator", "grade", "comment",
}

// gradeRecord is one evaluator's verdict on one question.
type gradeRecord struct {
	evaluator string
	grade     *int
	comment   *string
}

// questionKey identifies a question across models. IDs repeat per
// chapter between models ({chapter}_{NNN} restarts at 001 for every
// generating model), so the ID alone is ambiguous.
type questionKey struct {
	model string
	id    string
}

// CSV writes the full cross-tabulated export to w.
func CSV(st *store.Store, w io.Writer) error {
	evaluations, err := collectEvaluations(st)
	if err != nil {
		return err
	}

	questionArtifacts, err := st.QuestionArtifacts()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}

	rows := 0
	for _, a := range questionArtifacts {
		questions, err := st.ReadQuestions(a.Path)
		if err != nil {
			slog.Warn("export: skipping unreadable question batch", "path", a.Path, "error", err)
			continue
		}
		for _, q := range questions {
			records := evaluations[questionKey{model: q.Model, id: q.ID}]
			if len(records) == 0 {
				if err := cw.Write(row(q, nil)); err != nil {
					return err
				}
				rows++
				continue
			}
			for i := range records {
				if err := cw.Write(row(q, &records[i])); err != nil {
					return err
				}
				rows++
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	slog.Info("export complete", "rows", rows)
	return nil
}

func collectEvaluations(st *store.Store) (map[questionKey][]gradeRecord, error) {
	artifacts, err := st.EvaluationArtifacts()
	if err != nil {
		return nil, err
	}

	out := make(map[questionKey][]gradeRecord)
	for _, a := range artifacts {
		batch, err := st.ReadEvaluation(a.Path)
		if err != nil {
			slog.Warn("export: skipping unreadable evaluation batch", "path", a.Path, "error", err)
			continue
		}
		for _, entry := range batch.Results {
			if entry.ID == "" {
				continue
			}
			key := questionKey{model: a.Evaluated, id: entry.ID}
			out[key] = append(out[key], gradeRecord{
				evaluator: a.Evaluator,
				grade:     entry.Grade,
				comment:   entry.Comment,
			})
		}
	}
	for key := range out {
		sort.Slice(out[key], func(i, j int) bool { return out[key][i].evaluator < out[key][j].evaluator })
	}
	return out, nil
}

func row(q model.Question, r *gradeRecord) []string {
	cols := []string{
		q.ID, q.Chapter, q.Model, q.Question, q.Correct, serializeOptions(q.Options),
	}
	if r == nil {
		return append(cols, "", "", "")
	}
	grade := ""
	if r.grade != nil {
		grade = strconv.Itoa(*r.grade)
	}
	comment := ""
	if r.comment != nil {
		comment = *r.comment
	}
	return append(cols, r.evaluator, grade, comment)
}

func serializeOptions(options map[string]string) string {
	var sb strings.Builder
	for _, k := range model.OptionKeys {
		v, ok := options[k]
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(k + ": " + v)
	}
	return sb.String()
}
