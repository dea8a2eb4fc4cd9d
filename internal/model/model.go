package model

import "strings"

// OptionKeys are the four answer choice keys every question must carry.
var OptionKeys = []string{"a", "b", "c", "d"}

// Question is one generated multiple-choice item.
// IDs follow {chapter}_{NNN} and are assigned in emission order at
// generation time, never taken from the model's reply.
type Question struct {
	ID       string            `json:"id"`
	Question string            `json:"question"`
	Options  map[string]string `json:"options"`
	Correct  string            `json:"correct"`
	Model    string            `json:"model"`
	Chapter  string            `json:"chapter"`
}

// HasCompleteOptions reports whether all four choice keys are present
// and non-empty.
func (q Question) HasCompleteOptions() bool {
	for _, k := range OptionKeys {
		if strings.TrimSpace(q.Options[k]) == "" {
			return false
		}
	}
	return true
}

// Valid reports whether the question may be persisted: non-empty text
// and a complete option set. A missing correct answer does not
// invalidate a question (it is flagged by the generator instead).
func (q Question) Valid() bool {
	return strings.TrimSpace(q.Question) != "" && q.HasCompleteOptions()
}

// EvaluationEntry is one grading record for one question by one
// evaluator model. Grade is nil when the question was ungradable.
type EvaluationEntry struct {
	ID      string  `json:"id"`
	Grade   *int    `json:"grade"`
	Comment *string `json:"comment"`
}

// EvaluationMetadata tags an evaluation batch with its evaluator and
// the chapter it was graded against.
type EvaluationMetadata struct {
	EvaluatorModel string `json:"evaluator_model"`
	Source         string `json:"source"`
}

// EvaluationBatch is the persisted envelope for one chapter's grades
// from one evaluator.
type EvaluationBatch struct {
	Metadata EvaluationMetadata `json:"metadata"`
	Results  []EvaluationEntry  `json:"results"`
}

// MinGrade and MaxGrade bound the hierarchical grading scale.
const (
	MinGrade = 0
	MaxGrade = 5
)

// GradeInRange reports whether g is on the 0-5 scale.
func GradeInRange(g int) bool {
	return g >= MinGrade && g <= MaxGrade
}
