package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/service"
	"github.com/google/uuid"
)

type BuddySessionHandler struct {
	sessions *service.BuddySessionService
}

func NewBuddySessionHandler(sessions *service.BuddySessionService) *BuddySessionHandler {
	return &BuddySessionHandler{sessions: sessions}
}

type ProposeSessionRequest struct {
	BuddyID         uuid.UUID `json:"buddyId"`
	TaskName        string    `json:"taskName"`
	DurationSeconds int64     `json:"durationSeconds"`
}

type EndSessionRequest struct {
	Status domain.BuddySessionStatus `json:"status"`
}

type CancelPendingRequest struct {
	BuddyID uuid.UUID `json:"buddyId"`
}

func (h *BuddySessionHandler) Propose(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req ProposeSessionRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.sessions.Propose(r.Context(), service.ProposeInput{
		ProposerID:      userID,
		ResponderID:     req.BuddyID,
		TaskName:        req.TaskName,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *BuddySessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	view, err := h.sessions.Active(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": view})
}

func (h *BuddySessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	view, err := h.sessions.Get(r.Context(), sessionID, userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *BuddySessionHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	sessions, err := h.sessions.IncomingRequests(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *BuddySessionHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sessions, err := h.sessions.History(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *BuddySessionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.Accept)
}

func (h *BuddySessionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.Reject)
}

func (h *BuddySessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.Cancel)
}

func (h *BuddySessionHandler) Expire(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.Expire)
}

func (h *BuddySessionHandler) End(w http.ResponseWriter, r *http.Request) {
	var req EndSessionRequest
	if !decode(w, r, &req) {
		return
	}
	h.transition(w, r, func(ctx context.Context, sessionID, userID uuid.UUID) (*domain.BuddyStudySession, error) {
		return h.sessions.End(ctx, sessionID, userID, req.Status)
	})
}

func (h *BuddySessionHandler) CancelPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req CancelPendingRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.sessions.CancelBetween(r.Context(), userID, req.BuddyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *BuddySessionHandler) transition(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, sessionID, userID uuid.UUID) (*domain.BuddyStudySession, error)) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	session, err := action(r.Context(), sessionID, userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
