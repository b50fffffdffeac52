package handler

import (
	"context"
	"net/http"

	"github.com/pavelanni/pruefungstipp/internal/model"
)

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	h.listExams(w, r, h.exams.List)
}

func (h *Handler) handleListPendingExams(w http.ResponseWriter, r *http.Request) {
	h.listExams(w, r, h.exams.ListOpen)
}

func (h *Handler) handleListGradedExams(w http.ResponseWriter, r *http.Request) {
	h.listExams(w, r, h.exams.ListClosed)
}

func (h *Handler) listExams(w http.ResponseWriter, r *http.Request, list func(context.Context) ([]model.Exam, error)) {
	exams, err := list(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.exams.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var in model.ExamInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.exams.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) handleUpdateExam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in model.ExamInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.exams.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleCloseExam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.exams.Close(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.exams.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
