package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/dchstudio/exiquiz/internal/model"
)

const sessionTTL = 24 * time.Hour

// CreateSession mints a new quiz session with a fresh cookie token.
func (s *Store) CreateSession() (*model.QuizSession, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sess := &model.QuizSession{
		Token:      token,
		ImageIndex: -1,
		CreatedAt:  now,
		ExpiresAt:  now.Add(sessionTTL),
	}
	_, err = s.db.Exec(
		`INSERT INTO quiz_sessions (token, image_index, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.Token, sess.ImageIndex, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession returns the session for the given token, or nil if not
// found or expired.
func (s *Store) GetSession(token string) (*model.QuizSession, error) {
	var sess model.QuizSession
	err := s.db.QueryRow(
		`SELECT token, image_index, current_image, current_question, current_question_id,
		        current_description, last_evaluation, created_at, expires_at
		 FROM quiz_sessions WHERE token = ?`, token,
	).Scan(&sess.Token, &sess.ImageIndex, &sess.CurrentImage, &sess.CurrentQuestion,
		&sess.CurrentQuestionID, &sess.CurrentDescription, &sess.LastEvaluation,
		&sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteSession(token)
		return nil, nil
	}
	return &sess, nil
}

// SaveSession persists the mutable session fields.
func (s *Store) SaveSession(sess *model.QuizSession) error {
	_, err := s.db.Exec(
		`UPDATE quiz_sessions
		 SET image_index = ?, current_image = ?, current_question = ?, current_question_id = ?,
		     current_description = ?, last_evaluation = ?
		 WHERE token = ?`,
		sess.ImageIndex, sess.CurrentImage, sess.CurrentQuestion, sess.CurrentQuestionID,
		sess.CurrentDescription, sess.LastEvaluation, sess.Token,
	)
	return err
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM quiz_sessions WHERE token = ?`, token)
	return err
}

// CleanupExpiredSessions removes all expired sessions.
func (s *Store) CleanupExpiredSessions() error {
	_, err := s.db.Exec(`DELETE FROM quiz_sessions WHERE expires_at < ?`, time.Now())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
