// Package handler exposes the quiz over HTTP: the embedded single-page UI,
// the question/answer JSON endpoints, and the image files themselves.
package handler

import (
	"embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dchstudio/exiquiz/internal/gallery"
	"github.com/dchstudio/exiquiz/internal/i18n"
	"github.com/dchstudio/exiquiz/internal/llm"
	"github.com/dchstudio/exiquiz/internal/model"
	"github.com/dchstudio/exiquiz/internal/quiz"
	"github.com/dchstudio/exiquiz/internal/store"
)

//go:embed assets
var assets embed.FS

const sessionCookie = "quiz_session"

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	quiz    *quiz.Service
	gallery *gallery.Gallery
	config  model.QuizConfig
}

// New creates a new Handler.
func New(s *store.Store, q *quiz.Service, g *gallery.Gallery, cfg model.QuizConfig) *Handler {
	return &Handler{store: s, quiz: q, gallery: g, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleAsset("assets/index.html", "text/html; charset=utf-8"))
	r.Get("/styles.css", h.handleAsset("assets/styles.css", "text/css; charset=utf-8"))
	r.Get("/script.js", h.handleAsset("assets/script.js", "application/javascript; charset=utf-8"))
	r.Get("/get-question", h.handleGetQuestion)
	r.Get("/generate-new-question", h.handleGenerateNewQuestion)
	r.Post("/evaluate-answer", h.handleEvaluateAnswer)
	r.Post("/submit-answer", h.handleSubmitAnswer)
	r.Get("/images/{filename}", h.handleImage)
}

func (h *Handler) handleAsset(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := assets.ReadFile(name)
		if err != nil {
			http.Error(w, "asset not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Write(data)
	}
}

// session returns the request's quiz session, creating one (and setting the
// cookie) when the request carries no valid token.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*model.QuizSession, error) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		sess, err := h.store.GetSession(c.Value)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
	}

	sess, err := h.store.CreateSession()
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(w, r)
	if err != nil {
		h.serverError(w, r, "load session", err)
		return
	}

	difficulty := model.ParseDifficulty(r.URL.Query().Get("difficulty"))
	q, err := h.quiz.NextQuestion(r.Context(), sess, difficulty)
	if err != nil {
		if errors.Is(err, gallery.ErrEmpty) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no images available"})
			return
		}
		slog.Error("question generation failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": generationMessage(r, err)})
		return
	}

	if err := h.store.SaveSession(sess); err != nil {
		h.serverError(w, r, "save session", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"image_url":   "/images/" + q.Image,
		"question":    q.Text,
		"question_id": q.ID,
	})
}

func (h *Handler) handleGenerateNewQuestion(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(w, r)
	if err != nil {
		h.serverError(w, r, "load session", err)
		return
	}

	difficulty := model.ParseDifficulty(r.URL.Query().Get("difficulty"))
	q, err := h.quiz.Regenerate(r.Context(), sess, difficulty)
	if err != nil {
		if errors.Is(err, quiz.ErrNoActiveImage) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": i18n.T(r.Context(), "no_active_image")})
			return
		}
		slog.Error("question regeneration failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": generationMessage(r, err)})
		return
	}

	if err := h.store.SaveSession(sess); err != nil {
		h.serverError(w, r, "save session", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"question":    q.Text,
		"question_id": q.ID,
	})
}

type answerRequest struct {
	QuestionID string `json:"question_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
}

func (h *Handler) handleEvaluateAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.QuestionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question_id is required"})
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.serverError(w, r, "load session", err)
		return
	}

	h.evaluate(w, r, sess, req)
}

// handleSubmitAnswer evaluates an answer against the session's current
// question, so the client only has to send the answer text.
func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.serverError(w, r, "load session", err)
		return
	}
	if sess.CurrentQuestionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": i18n.T(r.Context(), "no_active_image")})
		return
	}

	req.QuestionID = sess.CurrentQuestionID
	req.Question = sess.CurrentQuestion
	h.evaluate(w, r, sess, req)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request, sess *model.QuizSession, req answerRequest) {
	ev, err := h.quiz.Evaluate(r.Context(), sess, req.QuestionID, req.Question, req.Answer)
	if err != nil {
		h.serverError(w, r, "evaluate answer", err)
		return
	}

	if err := h.store.SaveSession(sess); err != nil {
		h.serverError(w, r, "save session", err)
		return
	}

	status := http.StatusOK
	if ev.Status == model.StatusError {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{
		"evaluation": ev.Feedback,
		"status":     string(ev.Status),
	})
}

func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	path, err := h.gallery.Path(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	slog.Error(op+" failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func generationMessage(r *http.Request, err error) string {
	var callErr *llm.CallError
	if errors.As(err, &callErr) && callErr.Timeout {
		return i18n.T(r.Context(), "generation_timeout")
	}
	return i18n.T(r.Context(), "generation_failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
