package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Artifact kinds tracked by the manifest.
const (
	KindQuestions   = "questions"
	KindEvaluations = "evaluations"
	KindPerfect     = "perfect"
)

// Artifact is one manifest row: the relational record behind an
// on-disk batch file.
type Artifact struct {
	ID        string
	Kind      string
	Model     string
	Evaluator string
	Evaluated string
	Chapter   string
	Path      string
}

type manifestDB struct {
	db *sql.DB
}

func openManifest(dbPath string) (*manifestDB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping manifest: %w", err)
	}
	m := &manifestDB{db: db}
	if err := m.migrate(); err != nil {
		return nil, fmt.Errorf("migrate manifest: %w", err)
	}
	return m, nil
}

func (m *manifestDB) close() error {
	return m.db.Close()
}

func (m *manifestDB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		evaluator TEXT NOT NULL DEFAULT '',
		evaluated TEXT NOT NULL DEFAULT '',
		chapter TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (kind, model, evaluator, evaluated, chapter)
	);
	`
	_, err := m.db.Exec(schema)
	return err
}

func (m *manifestDB) record(a Artifact) error {
	_, err := m.db.Exec(
		`INSERT INTO artifacts (id, kind, model, evaluator, evaluated, chapter, path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(kind, model, evaluator, evaluated, chapter)
		 DO UPDATE SET path = ?, created_at = ?`,
		uuid.NewString(), a.Kind, a.Model, a.Evaluator, a.Evaluated, a.Chapter, a.Path, time.Now(),
		a.Path, time.Now(),
	)
	return err
}

func (m *manifestDB) clear() error {
	_, err := m.db.Exec(`DELETE FROM artifacts`)
	return err
}

// Models returns the distinct generating models known to the manifest,
// sorted alphabetically.
func (s *Store) Models() ([]string, error) {
	rows, err := s.db.db.Query(
		`SELECT DISTINCT model FROM artifacts WHERE kind = ? ORDER BY model`, KindQuestions,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var models []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// QuestionArtifacts returns every recorded question batch.
func (s *Store) QuestionArtifacts() ([]Artifact, error) {
	return s.artifacts(KindQuestions)
}

// EvaluationArtifacts returns every recorded evaluation batch.
func (s *Store) EvaluationArtifacts() ([]Artifact, error) {
	return s.artifacts(KindEvaluations)
}

func (s *Store) artifacts(kind string) ([]Artifact, error) {
	rows, err := s.db.db.Query(
		`SELECT id, kind, model, evaluator, evaluated, chapter, path
		 FROM artifacts WHERE kind = ? ORDER BY model, evaluator, evaluated, chapter`, kind,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.Kind, &a.Model, &a.Evaluator, &a.Evaluated, &a.Chapter, &a.Path); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
