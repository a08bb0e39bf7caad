// Package quiz sequences image selection, question generation, and answer
// grading into the quiz lifecycle. Per question identifier the lifecycle is
// Created -> Evaluated, and Evaluated is terminal.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dchstudio/exiquiz/internal/gallery"
	"github.com/dchstudio/exiquiz/internal/i18n"
	"github.com/dchstudio/exiquiz/internal/llm"
	"github.com/dchstudio/exiquiz/internal/model"
	"github.com/dchstudio/exiquiz/internal/rubric"
)

// ErrNoActiveImage is returned when a session-bound operation runs before
// any image was loaded into the session.
var ErrNoActiveImage = errors.New("no active image in session")

// Describer returns an image's embedded description, or "" when none can
// be read.
type Describer interface {
	Describe(ctx context.Context, path string) string
}

// Registry is the process-wide at-most-once evaluation guard. TryMarkEvaluated
// must be an atomic test-and-set: it returns true exactly once per identifier.
type Registry interface {
	TryMarkEvaluated(questionID string) (bool, error)
	RecordEvaluation(rec model.EvaluationRecord) error
}

// Question is a freshly generated quiz question.
type Question struct {
	Image string
	Text  string
	ID    string
}

// Evaluation is the outcome of an answer submission.
type Evaluation struct {
	Feedback string
	Status   model.AnswerStatus
}

// Service orchestrates the quiz lifecycle. It mutates the session passed
// into each call; persisting the session afterwards is the caller's job.
type Service struct {
	gallery  *gallery.Gallery
	describe Describer
	llm      llm.Client
	registry Registry
}

// New creates a quiz service.
func New(g *gallery.Gallery, d Describer, c llm.Client, r Registry) *Service {
	return &Service{gallery: g, describe: d, llm: c, registry: r}
}

// NextQuestion advances the session to the next image in the rotation and
// generates a question for it. Session fields are only updated when
// generation succeeds; any prior evaluation is cleared.
func (s *Service) NextQuestion(ctx context.Context, sess *model.QuizSession, difficulty model.Difficulty) (*Question, error) {
	name, index, err := s.gallery.Next(sess.ImageIndex)
	if err != nil {
		return nil, fmt.Errorf("select image: %w", err)
	}

	description := s.description(ctx, name)
	text, err := s.llm.GenerateQuestion(ctx, description, difficulty)
	if err != nil {
		return nil, err
	}

	q := &Question{Image: name, Text: text, ID: uuid.NewString()}

	sess.ImageIndex = index
	sess.CurrentImage = name
	sess.CurrentQuestion = q.Text
	sess.CurrentQuestionID = q.ID
	sess.CurrentDescription = description
	sess.LastEvaluation = ""

	return q, nil
}

// Regenerate produces a new question for the session's current image. When
// the model repeats the previous question verbatim, generation is retried
// exactly once; a duplicate on the second attempt is accepted. A fresh
// question identifier is minted either way.
func (s *Service) Regenerate(ctx context.Context, sess *model.QuizSession, difficulty model.Difficulty) (*Question, error) {
	if sess.CurrentImage == "" {
		return nil, ErrNoActiveImage
	}

	description := sess.CurrentDescription
	if description == "" {
		description = s.description(ctx, sess.CurrentImage)
	}

	text, err := s.llm.GenerateQuestion(ctx, description, difficulty)
	if err != nil {
		return nil, err
	}
	if text == sess.CurrentQuestion {
		retry, err := s.llm.GenerateQuestion(ctx, description, difficulty)
		if err == nil {
			text = retry
		} else {
			slog.Warn("question regeneration retry failed, keeping duplicate", "error", err)
		}
	}

	q := &Question{Image: sess.CurrentImage, Text: text, ID: uuid.NewString()}

	sess.CurrentQuestion = q.Text
	sess.CurrentQuestionID = q.ID
	sess.CurrentDescription = description

	return q, nil
}

// Evaluate grades a submitted answer. The registry is claimed before the
// grading call is dispatched, so a question identifier is graded at most
// once even under concurrent submissions; a failed grading attempt still
// consumes the identifier.
func (s *Service) Evaluate(ctx context.Context, sess *model.QuizSession, questionID, question, answer string) (*Evaluation, error) {
	claimed, err := s.registry.TryMarkEvaluated(questionID)
	if err != nil {
		return nil, fmt.Errorf("claim question %s: %w", questionID, err)
	}
	if !claimed {
		return &Evaluation{
			Feedback: i18n.T(ctx, "already_evaluated"),
			Status:   model.StatusAlreadyEvaluated,
		}, nil
	}

	raw, err := s.llm.GradeAnswer(ctx, question, answer, sess.CurrentDescription)
	if err != nil {
		slog.Error("grading call failed", "question_id", questionID, "error", err)
		return s.fail(ctx, questionID, gradingMessageID(err)), nil
	}

	result, err := rubric.Evaluate(ctx, raw)
	if err != nil {
		slog.Error("rubric validation failed", "question_id", questionID, "error", err)
		return s.fail(ctx, questionID, rubricMessageID(err)), nil
	}

	sess.LastEvaluation = result.Feedback
	if err := s.registry.RecordEvaluation(model.EvaluationRecord{
		QuestionID: questionID,
		Status:     result.Status,
		Total:      result.Total,
		Feedback:   result.Feedback,
	}); err != nil {
		slog.Warn("recording evaluation failed", "question_id", questionID, "error", err)
	}

	return &Evaluation{Feedback: result.Feedback, Status: result.Status}, nil
}

func (s *Service) fail(ctx context.Context, questionID, msgID string) *Evaluation {
	feedback := i18n.T(ctx, msgID)
	if err := s.registry.RecordEvaluation(model.EvaluationRecord{
		QuestionID: questionID,
		Status:     model.StatusError,
		Feedback:   feedback,
	}); err != nil {
		slog.Warn("recording evaluation failed", "question_id", questionID, "error", err)
	}
	return &Evaluation{Feedback: feedback, Status: model.StatusError}
}

// description reads the image's caption, falling back to a placeholder
// naming the file when extraction yields nothing.
func (s *Service) description(ctx context.Context, name string) string {
	path, err := s.gallery.Path(name)
	if err != nil {
		slog.Debug("resolving image path failed", "image", name, "error", err)
		return "Image: " + name
	}
	if d := s.describe.Describe(ctx, path); d != "" {
		return d
	}
	return "Image: " + name
}

func gradingMessageID(err error) string {
	var callErr *llm.CallError
	if errors.As(err, &callErr) && callErr.Timeout {
		return "grading_timeout"
	}
	return "grading_failed"
}

func rubricMessageID(err error) string {
	switch {
	case errors.Is(err, rubric.ErrIncomplete):
		return "incomplete_rubric"
	case errors.Is(err, rubric.ErrInconsistent):
		return "inconsistent_total"
	default:
		return "malformed_rubric"
	}
}
