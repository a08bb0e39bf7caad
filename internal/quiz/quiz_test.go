package quiz

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dchstudio/exiquiz/internal/gallery"
	"github.com/dchstudio/exiquiz/internal/i18n"
	"github.com/dchstudio/exiquiz/internal/llm"
	"github.com/dchstudio/exiquiz/internal/model"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

const validRubric = `{
	"Accuracy of content": {"points": 8, "justification": "correct"},
	"Quality of argumentation": {"points": 7, "justification": "clear"},
	"Contextual reference": {"points": 6, "justification": "on topic"},
	"Originality": {"points": 5, "justification": "own words"},
	"Total score": 26
}`

type fakeLLM struct {
	questions  []string // successive GenerateQuestion responses
	genErr     error
	genCalls   int
	lastDesc   string
	gradeResp  string
	gradeErr   error
	gradeCalls int
}

func (f *fakeLLM) GenerateQuestion(_ context.Context, description string, _ model.Difficulty) (string, error) {
	f.genCalls++
	f.lastDesc = description
	if f.genErr != nil {
		return "", f.genErr
	}
	i := f.genCalls - 1
	if i >= len(f.questions) {
		i = len(f.questions) - 1
	}
	return f.questions[i], nil
}

func (f *fakeLLM) GradeAnswer(_ context.Context, _, _, _ string) (string, error) {
	f.gradeCalls++
	if f.gradeErr != nil {
		return "", f.gradeErr
	}
	return f.gradeResp, nil
}

type fakeDescriber struct {
	desc string
}

func (f *fakeDescriber) Describe(_ context.Context, _ string) string {
	return f.desc
}

type fakeRegistry struct {
	mu      sync.Mutex
	claimed map[string]bool
	records map[string]model.EvaluationRecord
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		claimed: make(map[string]bool),
		records: make(map[string]model.EvaluationRecord),
	}
}

func (f *fakeRegistry) TryMarkEvaluated(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func (f *fakeRegistry) RecordEvaluation(rec model.EvaluationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.QuestionID] = rec
	return nil
}

func newTestGallery(t *testing.T, names ...string) *gallery.Gallery {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
	g, err := gallery.New(dir)
	if err != nil {
		t.Fatalf("gallery.New: %v", err)
	}
	return g
}

func TestNextQuestionRotatesAndResetsSession(t *testing.T) {
	g := newTestGallery(t, "a.jpg", "b.jpg")
	llmFake := &fakeLLM{questions: []string{"What do you see?"}}
	svc := New(g, &fakeDescriber{desc: "a lighthouse"}, llmFake, newFakeRegistry())

	sess := &model.QuizSession{ImageIndex: -1, LastEvaluation: "stale feedback"}

	q, err := svc.NextQuestion(context.Background(), sess, model.DifficultyMedium)
	if err != nil {
		t.Fatalf("NextQuestion: %v", err)
	}
	if q.Image != "a.jpg" {
		t.Errorf("expected first image a.jpg, got %q", q.Image)
	}
	if q.Text != "What do you see?" {
		t.Errorf("unexpected question %q", q.Text)
	}
	if q.ID == "" {
		t.Error("expected a question identifier")
	}
	if sess.CurrentImage != "a.jpg" || sess.CurrentQuestionID != q.ID {
		t.Errorf("session not updated: %+v", sess)
	}
	if sess.CurrentDescription != "a lighthouse" {
		t.Errorf("expected cached description, got %q", sess.CurrentDescription)
	}
	if sess.LastEvaluation != "" {
		t.Error("expected prior evaluation cleared")
	}

	// Second call advances, third wraps.
	q2, err := svc.NextQuestion(context.Background(), sess, model.DifficultyMedium)
	if err != nil {
		t.Fatalf("NextQuestion 2: %v", err)
	}
	if q2.Image != "b.jpg" {
		t.Errorf("expected b.jpg, got %q", q2.Image)
	}
	if q2.ID == q.ID {
		t.Error("question identifier must change with every question")
	}
	q3, err := svc.NextQuestion(context.Background(), sess, model.DifficultyMedium)
	if err != nil {
		t.Fatalf("NextQuestion 3: %v", err)
	}
	if q3.Image != "a.jpg" {
		t.Errorf("expected rotation to wrap to a.jpg, got %q", q3.Image)
	}
}

func TestNextQuestionPlaceholderDescription(t *testing.T) {
	g := newTestGallery(t, "a.jpg")
	llmFake := &fakeLLM{questions: []string{"Q"}}
	svc := New(g, &fakeDescriber{desc: ""}, llmFake, newFakeRegistry())

	sess := &model.QuizSession{ImageIndex: -1}
	if _, err := svc.NextQuestion(context.Background(), sess, model.DifficultyEasy); err != nil {
		t.Fatalf("NextQuestion: %v", err)
	}
	if llmFake.lastDesc != "Image: a.jpg" {
		t.Errorf("expected placeholder description, got %q", llmFake.lastDesc)
	}
}

func TestNextQuestionGenerationFailureLeavesSession(t *testing.T) {
	g := newTestGallery(t, "a.jpg")
	llmFake := &fakeLLM{genErr: errors.New("model down")}
	svc := New(g, &fakeDescriber{desc: "d"}, llmFake, newFakeRegistry())

	sess := &model.QuizSession{ImageIndex: -1}
	if _, err := svc.NextQuestion(context.Background(), sess, model.DifficultyMedium); err == nil {
		t.Fatal("expected error")
	}
	if sess.CurrentImage != "" || sess.ImageIndex != -1 {
		t.Errorf("session must not advance on generation failure: %+v", sess)
	}
}

func TestNextQuestionEmptyGallery(t *testing.T) {
	g := newTestGallery(t)
	svc := New(g, &fakeDescriber{}, &fakeLLM{questions: []string{"Q"}}, newFakeRegistry())

	sess := &model.QuizSession{ImageIndex: -1}
	if _, err := svc.NextQuestion(context.Background(), sess, model.DifficultyMedium); !errors.Is(err, gallery.ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestRegenerateRequiresActiveImage(t *testing.T) {
	g := newTestGallery(t, "a.jpg")
	svc := New(g, &fakeDescriber{}, &fakeLLM{questions: []string{"Q"}}, newFakeRegistry())

	sess := &model.QuizSession{ImageIndex: -1}
	if _, err := svc.Regenerate(context.Background(), sess, model.DifficultyMedium); !errors.Is(err, ErrNoActiveImage) {
		t.Errorf("expected ErrNoActiveImage, got %v", err)
	}
}

func TestRegenerateRetriesDuplicateOnce(t *testing.T) {
	g := newTestGallery(t, "a.jpg")

	t.Run("retry produces a new question", func(t *testing.T) {
		llmFake := &fakeLLM{questions: []string{"same question", "different question"}}
		svc := New(g, &fakeDescriber{desc: "d"}, llmFake, newFakeRegistry())
		sess := &model.QuizSession{
			CurrentImage:       "a.jpg",
			CurrentQuestion:    "same question",
			CurrentQuestionID:  "old-id",
			CurrentDescription: "d",
		}

		q, err := svc.Regenerate(context.Background(), sess, model.DifficultyMedium)
		if err != nil {
			t.Fatalf("Regenerate: %v", err)
		}
		if q.Text != "different question" {
			t.Errorf("expected retry result, got %q", q.Text)
		}
		if llmFake.genCalls != 2 {
			t.Errorf("expected exactly 2 generation calls, got %d", llmFake.genCalls)
		}
	})

	t.Run("duplicate accepted after one retry", func(t *testing.T) {
		llmFake := &fakeLLM{questions: []string{"same question"}}
		svc := New(g, &fakeDescriber{desc: "d"}, llmFake, newFakeRegistry())
		sess := &model.QuizSession{
			CurrentImage:       "a.jpg",
			CurrentQuestion:    "same question",
			CurrentQuestionID:  "old-id",
			CurrentDescription: "d",
		}

		q, err := svc.Regenerate(context.Background(), sess, model.DifficultyMedium)
		if err != nil {
			t.Fatalf("Regenerate: %v", err)
		}
		if q.Text != "same question" {
			t.Errorf("expected duplicate accepted, got %q", q.Text)
		}
		if llmFake.genCalls != 2 {
			t.Errorf("expected exactly 2 generation calls, got %d", llmFake.genCalls)
		}
		if q.ID == "old-id" || q.ID == "" {
			t.Errorf("expected fresh identifier, got %q", q.ID)
		}
	})
}

func TestEvaluateSuccess(t *testing.T) {
	g := newTestGallery(t, "a.jpg")
	llmFake := &fakeLLM{gradeResp: validRubric}
	reg := newFakeRegistry()
	svc := New(g, &fakeDescriber{}, llmFake, reg)

	sess := &model.QuizSession{CurrentDescription: "a lighthouse"}
	ev, err := svc.Evaluate(context.Background(), sess, "qid-1", "What?", "It warns ships.")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Status != model.StatusAnswered {
		t.Errorf("expected answered, got %q", ev.Status)
	}
	if sess.LastEvaluation != ev.Feedback {
		t.Error("expected feedback stored on session")
	}
	rec, ok := reg.records["qid-1"]
	if !ok {
		t.Fatal("expected recorded outcome")
	}
	if rec.Status != model.StatusAnswered || rec.Total != 26 {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	g := newTestGallery(t, "a.jpg")
	llmFake := &fakeLLM{gradeResp: validRubric}
	svc := New(g, &fakeDescriber{}, llmFake, newFakeRegistry())

	sess := &model.QuizSession{CurrentDescription: "d"}
	if _, err := svc.Evaluate(context.Background(), sess, "qid-1", "Q", "A"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	ev, err := svc.Evaluate(context.Background(), sess, "qid-1", "Q", "A")
	if err != nil {
		t.Fatalf("Evaluate again: %v", err)
	}
	if ev.Status != model.StatusAlreadyEvaluated {
		t.Errorf("expected already evaluated, got %q", ev.Status)
	}
	if ev.Feedback != "This question has already been evaluated." {
		t.Errorf("unexpected message %q", ev.Feedback)
	}
	if llmFake.gradeCalls != 1 {
		t.Errorf("grader must not run twice, got %d calls", llmFake.gradeCalls)
	}
}

func TestEvaluateGraderFailureConsumesQuestion(t *testing.T) {
	g := newTestGallery(t, "a.jpg")
	llmFake := &fakeLLM{gradeErr: errors.New("model down")}
	svc := New(g, &fakeDescriber{}, llmFake, newFakeRegistry())

	sess := &model.QuizSession{CurrentDescription: "d"}
	ev, err := svc.Evaluate(context.Background(), sess, "qid-1", "Q", "A")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Status != model.StatusError {
		t.Errorf("expected Error status, got %q", ev.Status)
	}
	if ev.Feedback != "Error in rating request." {
		t.Errorf("unexpected message %q", ev.Feedback)
	}

	// A failed grading attempt still consumes the identifier.
	ev, err = svc.Evaluate(context.Background(), sess, "qid-1", "Q", "A")
	if err != nil {
		t.Fatalf("Evaluate again: %v", err)
	}
	if ev.Status != model.StatusAlreadyEvaluated {
		t.Errorf("expected already evaluated, got %q", ev.Status)
	}
	if llmFake.gradeCalls != 1 {
		t.Errorf("expected 1 grade call, got %d", llmFake.gradeCalls)
	}
}

func TestEvaluateInvalidRubric(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantMsg  string
	}{
		{"malformed", "not json at all", "Error parsing the rating. Make sure that the model returns valid JSON."},
		{"incomplete", `{"Total score": 20}`, "Not all required categories were evaluated."},
		{"inconsistent", `{
			"Accuracy of content": {"points": 5, "justification": "j"},
			"Quality of argumentation": {"points": 5, "justification": "j"},
			"Contextual reference": {"points": 5, "justification": "j"},
			"Originality": {"points": 5, "justification": "j"},
			"Total score": 23
		}`, "The total score does not match the sum of the categories."},
	}

	g := newTestGallery(t, "a.jpg")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(g, &fakeDescriber{}, &fakeLLM{gradeResp: tt.response}, newFakeRegistry())
			sess := &model.QuizSession{CurrentDescription: "d"}

			ev, err := svc.Evaluate(context.Background(), sess, "qid-"+tt.name, "Q", "A")
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if ev.Status != model.StatusError {
				t.Errorf("expected Error status, got %q", ev.Status)
			}
			if ev.Feedback != tt.wantMsg {
				t.Errorf("expected %q, got %q", tt.wantMsg, ev.Feedback)
			}
			if sess.LastEvaluation != "" {
				t.Error("failed evaluation must not be stored on the session")
			}
		})
	}
}

func TestEvaluateTimeoutMessage(t *testing.T) {
	g := newTestGallery(t, "a.jpg")
	llmFake := &fakeLLM{gradeErr: &llm.CallError{Op: "grade", Timeout: true, Wrapped: context.DeadlineExceeded}}
	svc := New(g, &fakeDescriber{}, llmFake, newFakeRegistry())

	sess := &model.QuizSession{CurrentDescription: "d"}
	ev, err := svc.Evaluate(context.Background(), sess, "qid-1", "Q", "A")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Status != model.StatusError {
		t.Errorf("expected Error status, got %q", ev.Status)
	}
	if ev.Feedback != "Timeout during evaluation request." {
		t.Errorf("unexpected message %q", ev.Feedback)
	}
}
