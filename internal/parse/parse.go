// Package parse turns raw model replies into structured question and
// grading records. Parsing failure is never fatal: malformed input
// yields an empty result so the caller can log and move on.
package parse

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Format selects which reply protocol to decode.
type Format string

const (
	// FormatJSON is the canonical protocol: one JSON object with a
	// "questions" list.
	FormatJSON Format = "json"
	// FormatLegacy is the old line-oriented protocol, kept only for
	// reading transcripts produced before the JSON protocol existed.
	FormatLegacy Format = "legacy"
)

// Candidate is one raw question as extracted from a reply, before
// validation and ID assignment.
type Candidate struct {
	Question string
	Options  map[string]string
	Correct  string
}

var (
	fenceRe         = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*|\\s*```\\s*$")
	legacyQuestion  = regexp.MustCompile(`(?im)^\s*(?:\d+[.)]\s*)?klausimas[:.]?\s*(.+)$`)
	legacyOption    = regexp.MustCompile(`(?im)^\s*([a-d])\)\s*(.+)$`)
	legacyCorrect   = regexp.MustCompile(`(?im)^.*teisingas atsakymas[:]?\s*\(?([a-d])\)?\s*$`)
	isolatedDigitRe = regexp.MustCompile(`\b([0-5])\b`)
)

// StripFence removes a leading/trailing markdown code fence. Applying
// it to unfenced text is a no-op, so the operation is idempotent.
func StripFence(raw string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(raw, ""))
}

// Questions extracts question candidates from a raw reply using the
// given protocol. It returns only the items that carry all required
// fields for the protocol; the rest are dropped individually so one
// malformed item never sinks the batch.
func Questions(raw string, format Format) []Candidate {
	if strings.TrimSpace(raw) == "" {
		slog.Error("parser: empty reply")
		return nil
	}
	switch format {
	case FormatLegacy:
		return legacyQuestions(raw)
	default:
		return jsonQuestions(raw)
	}
}

// jsonQuestion mirrors the schema the generation prompt demands. The
// pointer fields distinguish a missing key from an empty value.
type jsonQuestion struct {
	QuestionText  *string           `json:"question_text"`
	Options       map[string]string `json:"options"`
	CorrectAnswer *string           `json:"correct_answer"`
}

func jsonQuestions(raw string) []Candidate {
	var payload struct {
		Questions []jsonQuestion `json:"questions"`
	}
	cleaned := StripFence(raw)
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		slog.Error("parser: reply is not the expected JSON structure", "error", err)
		return nil
	}
	if payload.Questions == nil {
		slog.Error("parser: reply has no questions list")
		return nil
	}

	out := make([]Candidate, 0, len(payload.Questions))
	for i, item := range payload.Questions {
		if item.QuestionText == nil || item.Options == nil || item.CorrectAnswer == nil {
			slog.Warn("parser: dropping item with missing required key", "index", i)
			continue
		}
		out = append(out, Candidate{
			Question: *item.QuestionText,
			Options:  item.Options,
			Correct:  strings.ToLower(strings.TrimSpace(*item.CorrectAnswer)),
		})
	}
	return out
}

// legacyQuestions decodes the line-oriented protocol: a question label
// line, "letter) text" option lines, and a correct-answer line. Any
// missing piece leaves the corresponding field empty.
func legacyQuestions(raw string) []Candidate {
	var c Candidate

	if m := legacyQuestion.FindStringSubmatch(raw); m != nil {
		c.Question = strings.TrimSpace(m[1])
	}
	if ms := legacyOption.FindAllStringSubmatch(raw, -1); ms != nil {
		c.Options = make(map[string]string, len(ms))
		for _, m := range ms {
			c.Options[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
		}
	}
	if m := legacyCorrect.FindStringSubmatch(raw); m != nil {
		c.Correct = strings.ToLower(m[1])
	}

	if c.Question == "" && c.Options == nil && c.Correct == "" {
		return nil
	}
	return []Candidate{c}
}

// GradeResult is a structured verdict extracted from an evaluator's
// reply. Grade is nil when nothing usable could be recovered.
type GradeResult struct {
	Grade   *int
	Comment *string
}

// Evaluation recovers a grade and comment from a possibly malformed
// reply. Three strategies are tried in order: whole-text JSON decode,
// decoding the first balanced-looking {...} substring, and finally
// scanning for an isolated digit on the 0-5 scale. The first success
// wins; total failure returns a null grade rather than an error.
func Evaluation(raw string) GradeResult {
	if strings.TrimSpace(raw) == "" {
		return GradeResult{}
	}
	cleaned := StripFence(raw)

	if r, ok := decodeGradeObject([]byte(cleaned)); ok {
		return r
	}
	if obj, ok := braceSubstring(cleaned); ok {
		if r, ok := decodeGradeObject([]byte(obj)); ok {
			return r
		}
	}
	if m := isolatedDigitRe.FindStringSubmatch(cleaned); m != nil {
		g, err := strconv.Atoi(m[1])
		if err == nil {
			return GradeResult{Grade: &g}
		}
	}
	slog.Error("parser: could not extract a grade from reply")
	return GradeResult{}
}

func decodeGradeObject(data []byte) (GradeResult, bool) {
	var verdict struct {
		Grade   *int    `json:"grade"`
		Comment *string `json:"comment"`
	}
	if err := json.Unmarshal(data, &verdict); err != nil || verdict.Grade == nil {
		return GradeResult{}, false
	}
	return GradeResult{Grade: verdict.Grade, Comment: verdict.Comment}, true
}

// braceSubstring returns the greedy span from the first '{' to the
// last '}', the best-effort location of an embedded JSON object.
func braceSubstring(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
