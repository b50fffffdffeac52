package handler

import (
	"net/http"

	"github.com/pavelanni/pruefungstipp/internal/model"
)

func (h *Handler) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	ps, err := h.predictions.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePredictions(w, ps)
}

func (h *Handler) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.predictions.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleDeletePrediction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.predictions.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePredictionsForExam(w http.ResponseWriter, r *http.Request) {
	examID, err := pathID(r, "examID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ps, err := h.predictions.ForExam(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePredictions(w, ps)
}

func (h *Handler) handlePredictionsForStudent(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "studentID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ps, err := h.predictions.ForStudent(r.Context(), studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePredictions(w, ps)
}

func (h *Handler) handleGetStudentPrediction(w http.ResponseWriter, r *http.Request) {
	examID, studentID, ok := examAndStudent(w, r)
	if !ok {
		return
	}
	p, err := h.predictions.ForExamAndStudent(r.Context(), examID, studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// A student without a prediction yet gets a null body.
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleSubmitPrediction(w http.ResponseWriter, r *http.Request) {
	examID, studentID, ok := examAndStudent(w, r)
	if !ok {
		return
	}
	var in model.PredictionInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, created, err := h.predictions.Submit(r.Context(), examID, studentID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, p)
}

func examAndStudent(w http.ResponseWriter, r *http.Request) (examID, studentID int64, ok bool) {
	examID, err := pathID(r, "examID")
	if err != nil {
		writeError(w, r, err)
		return 0, 0, false
	}
	studentID, err = pathID(r, "studentID")
	if err != nil {
		writeError(w, r, err)
		return 0, 0, false
	}
	return examID, studentID, true
}

func writePredictions(w http.ResponseWriter, ps []model.Prediction) {
	if ps == nil {
		ps = []model.Prediction{}
	}
	writeJSON(w, http.StatusOK, ps)
}
