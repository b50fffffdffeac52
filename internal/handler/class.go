package handler

import (
	"net/http"

	"github.com/pavelanni/pruefungstipp/internal/model"
)

func (h *Handler) handleClassMembers(w http.ResponseWriter, r *http.Request) {
	teacherID, err := pathID(r, "teacherID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ms, err := h.classes.Members(r.Context(), teacherID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMemberships(w, ms)
}

func (h *Handler) handleRemoveClassMember(w http.ResponseWriter, r *http.Request) {
	teacherID, err := pathID(r, "teacherID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	studentID, err := pathID(r, "studentID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.classes.RemoveMember(r.Context(), teacherID, studentID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTeacherClassRequests(w http.ResponseWriter, r *http.Request) {
	teacherID, err := pathID(r, "teacherID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rs, err := h.classes.RequestsForTeacher(r.Context(), teacherID, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeClassRequests(w, rs)
}

func (h *Handler) handleRespondClassRequest(w http.ResponseWriter, r *http.Request) {
	teacherID, err := pathID(r, "teacherID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	requestID, err := pathID(r, "requestID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in model.ClassResponseInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.classes.Respond(r.Context(), teacherID, requestID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) handleStudentClasses(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "studentID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ms, err := h.classes.ClassesOf(r.Context(), studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMemberships(w, ms)
}

func (h *Handler) handleStudentClassRequests(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "studentID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rs, err := h.classes.RequestsForStudent(r.Context(), studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeClassRequests(w, rs)
}

func (h *Handler) handleCreateClassRequest(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "studentID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in model.ClassRequestInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	req, created, err := h.classes.Request(r.Context(), studentID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, req)
}

func writeMemberships(w http.ResponseWriter, ms []model.ClassMembership) {
	if ms == nil {
		ms = []model.ClassMembership{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func writeClassRequests(w http.ResponseWriter, rs []model.ClassRequest) {
	if rs == nil {
		rs = []model.ClassRequest{}
	}
	writeJSON(w, http.StatusOK, rs)
}
