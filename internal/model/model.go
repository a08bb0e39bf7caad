package model

import "time"

// Difficulty represents the requested question difficulty level.
type Difficulty string

const (
	DifficultyEasy      Difficulty = "easy"
	DifficultyMedium    Difficulty = "medium"
	DifficultyDifficult Difficulty = "difficult"
)

// ParseDifficulty maps a query parameter to a difficulty, defaulting to medium.
func ParseDifficulty(s string) Difficulty {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyMedium, DifficultyDifficult:
		return Difficulty(s)
	default:
		return DifficultyMedium
	}
}

// AnswerStatus is the outcome of an answer evaluation as surfaced to clients.
type AnswerStatus string

const (
	// StatusAnswered means the graded total reached the pass threshold.
	StatusAnswered AnswerStatus = "answered"
	// StatusUnanswered means the graded total fell below the pass threshold.
	StatusUnanswered AnswerStatus = "unanswered"
	// StatusAlreadyEvaluated means the question identifier was already consumed.
	StatusAlreadyEvaluated AnswerStatus = "already evaluated"
	// StatusError means grading failed or the rubric did not validate.
	StatusError AnswerStatus = "Error"
)

// QuizSession holds the per-user quiz state. One row per browser session,
// identified by an opaque cookie token.
type QuizSession struct {
	Token              string
	ImageIndex         int
	CurrentImage       string
	CurrentQuestion    string
	CurrentQuestionID  string
	CurrentDescription string
	LastEvaluation     string
	CreatedAt          time.Time
	ExpiresAt          time.Time
}

// EvaluationRecord is one entry of the evaluation registry. A row exists as
// soon as grading for the question identifier has been dispatched once; the
// outcome fields are filled in afterwards.
type EvaluationRecord struct {
	QuestionID  string       `json:"question_id"`
	Status      AnswerStatus `json:"status"`
	Total       int          `json:"total"`
	Feedback    string       `json:"feedback"`
	EvaluatedAt time.Time    `json:"evaluated_at"`
}

// QuizConfig holds runtime parameters set via CLI flags.
type QuizConfig struct {
	ImageDir      string
	SecureCookies bool // Set Secure flag on cookies (disable for local dev)
}
