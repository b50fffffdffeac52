// Package handler exposes the services as a JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/pruefungstipp/internal/apperr"
	"github.com/pavelanni/pruefungstipp/internal/i18n"
	"github.com/pavelanni/pruefungstipp/internal/model"
	"github.com/pavelanni/pruefungstipp/internal/service"
	"github.com/pavelanni/pruefungstipp/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store       *store.Store
	users       *service.UserService
	exams       *service.ExamService
	predictions *service.PredictionService
	classes     *service.ClassService
}

// New creates a new Handler.
func New(s *store.Store, users *service.UserService, exams *service.ExamService,
	predictions *service.PredictionService, classes *service.ClassService) *Handler {
	return &Handler{store: s, users: users, exams: exams, predictions: predictions, classes: classes}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/login", h.handleLogin)
			r.Get("/", h.handleListUsers)
			r.Post("/", h.handleCreateUser)
			r.Get("/email/{email}", h.handleGetUserByEmail)
			r.Get("/{id}", h.handleGetUser)
			r.Put("/{id}", h.handleUpdateUser)
			r.Delete("/{id}", h.handleDeleteUser)
		})
		r.Route("/exams", func(r chi.Router) {
			r.Get("/", h.handleListExams)
			r.Post("/", h.handleCreateExam)
			r.Get("/pending", h.handleListPendingExams)
			r.Get("/graded", h.handleListGradedExams)
			r.Get("/{id}", h.handleGetExam)
			r.Put("/{id}", h.handleUpdateExam)
			r.Put("/{id}/close", h.handleCloseExam)
			r.Delete("/{id}", h.handleDeleteExam)
		})
		r.Route("/predictions", func(r chi.Router) {
			r.Get("/", h.handleListPredictions)
			r.Get("/{id}", h.handleGetPrediction)
			r.Delete("/{id}", h.handleDeletePrediction)
			r.Get("/exam/{examID}", h.handlePredictionsForExam)
			r.Get("/student/{studentID}", h.handlePredictionsForStudent)
			r.Get("/exam/{examID}/student/{studentID}", h.handleGetStudentPrediction)
			r.Post("/exam/{examID}/student/{studentID}", h.handleSubmitPrediction)
		})
		r.Route("/classes", func(r chi.Router) {
			r.Get("/teacher/{teacherID}/members", h.handleClassMembers)
			r.Delete("/teacher/{teacherID}/members/{studentID}", h.handleRemoveClassMember)
			r.Get("/teacher/{teacherID}/requests", h.handleTeacherClassRequests)
			r.Put("/teacher/{teacherID}/requests/{requestID}", h.handleRespondClassRequest)
			r.Get("/student/{studentID}", h.handleStudentClasses)
			r.Get("/student/{studentID}/requests", h.handleStudentClassRequests)
			r.Post("/student/{studentID}/requests", h.handleCreateClassRequest)
		})
		r.Get("/leaderboard", h.handleLeaderboard)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.predictions.Leaderboard(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps err to a status code and a localized error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	if errors.Is(err, service.ErrInvalidCredentials) {
		writeJSON(w, http.StatusUnauthorized, errorBody{errorDetail{
			Code:    "invalid_credentials",
			Message: i18n.T(ctx, "InvalidCredentials"),
		}})
		return
	}

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		slog.Error("request failed",
			"method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(ctx), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{errorDetail{
			Code:    "internal",
			Message: i18n.T(ctx, "InternalError"),
		}})
		return
	}

	var status int
	switch ae.Kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindInvalidInput:
		status = http.StatusBadRequest
	case apperr.KindStateConflict, apperr.KindDuplicateResource:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}

	var msg string
	switch {
	case ae.Resource != "":
		data := ae.TemplateData()
		data["Resource"] = i18n.T(ctx, "Resource"+ae.Resource)
		msg = i18n.Td(ctx, ae.MsgID, data)
	case ae.MsgID == "ValidationFailed":
		msg = i18n.Tp(ctx, ae.MsgID, len(ae.Fields))
	default:
		msg = i18n.T(ctx, ae.MsgID)
	}
	slog.Debug("request rejected", "path", r.URL.Path, "kind", ae.Kind, "msg_id", ae.MsgID)
	writeJSON(w, status, errorBody{errorDetail{Code: string(ae.Kind), Message: msg, Fields: ae.Fields}})
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &apperr.Error{Kind: apperr.KindInvalidInput, MsgID: "InvalidBody", Err: err}
	}
	return nil
}

// pathID parses a numeric URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("InvalidID", apperr.FieldError{Field: name, Tag: "id"})
	}
	return id, nil
}

// chiParam returns a URL parameter with percent-encoding removed.
func chiParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if s, err := url.PathUnescape(v); err == nil {
		return s
	}
	return v
}
