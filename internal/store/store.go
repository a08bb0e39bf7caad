// Package store persists quiz sessions and the evaluation registry in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dchstudio/exiquiz/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: serializes writers and keeps :memory: databases from
	// splitting across pooled connections.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quiz_sessions (
		token TEXT PRIMARY KEY,
		image_index INTEGER NOT NULL DEFAULT -1,
		current_image TEXT NOT NULL DEFAULT '',
		current_question TEXT NOT NULL DEFAULT '',
		current_question_id TEXT NOT NULL DEFAULT '',
		current_description TEXT NOT NULL DEFAULT '',
		last_evaluation TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		question_id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT '',
		total INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		evaluated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// TryMarkEvaluated atomically claims the question identifier for grading.
// It returns true exactly once per identifier: the primary-key insert is the
// test-and-set, so two concurrent submissions cannot both pass.
func (s *Store) TryMarkEvaluated(questionID string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO evaluations (question_id, evaluated_at) VALUES (?, ?)
		 ON CONFLICT(question_id) DO NOTHING`,
		questionID, time.Now(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordEvaluation stores the grading outcome on an already claimed
// identifier.
func (s *Store) RecordEvaluation(rec model.EvaluationRecord) error {
	_, err := s.db.Exec(
		`UPDATE evaluations SET status = ?, total = ?, feedback = ? WHERE question_id = ?`,
		rec.Status, rec.Total, rec.Feedback, rec.QuestionID,
	)
	return err
}

// GetEvaluation returns the registry entry for a question identifier, or nil.
func (s *Store) GetEvaluation(questionID string) (*model.EvaluationRecord, error) {
	var rec model.EvaluationRecord
	err := s.db.QueryRow(
		`SELECT question_id, status, total, feedback, evaluated_at FROM evaluations WHERE question_id = ?`,
		questionID,
	).Scan(&rec.QuestionID, &rec.Status, &rec.Total, &rec.Feedback, &rec.EvaluatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListEvaluations returns all registry entries, newest first.
func (s *Store) ListEvaluations() ([]model.EvaluationRecord, error) {
	rows, err := s.db.Query(
		`SELECT question_id, status, total, feedback, evaluated_at FROM evaluations ORDER BY evaluated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []model.EvaluationRecord
	for rows.Next() {
		var rec model.EvaluationRecord
		if err := rows.Scan(&rec.QuestionID, &rec.Status, &rec.Total, &rec.Feedback, &rec.EvaluatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
