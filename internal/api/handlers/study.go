package handlers

import (
	"net/http"
	"strconv"

	"github.com/dom/studybuddy/internal/service"
)

type StudyHandler struct {
	study *service.StudyService
}

func NewStudyHandler(study *service.StudyService) *StudyHandler {
	return &StudyHandler{study: study}
}

type StartStudyRequest struct {
	TaskName string `json:"taskName"`
}

func (h *StudyHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req StartStudyRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.study.Start(r.Context(), userID, req.TaskName)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *StudyHandler) Stop(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	session, err := h.study.Stop(r.Context(), userID, sessionID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *StudyHandler) Daily(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := currentUser(w, r)
	if !ok {
		return
	}
	userID, ok := userQuery(w, r, viewerID)
	if !ok {
		return
	}

	daily, err := h.study.DailySnapshot(r.Context(), viewerID, userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, daily)
}

func (h *StudyHandler) Active(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	session, err := h.study.ActiveSession(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (h *StudyHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sessions, err := h.study.History(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *StudyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := currentUser(w, r)
	if !ok {
		return
	}
	userID, ok := userQuery(w, r, viewerID)
	if !ok {
		return
	}

	stats, err := h.study.Stats(r.Context(), viewerID, userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
