package handlers

import (
	"context"
	"net/http"

	"github.com/dom/studybuddy/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type BuddyHandler struct {
	pairing *service.PairingService
}

func NewBuddyHandler(pairing *service.PairingService) *BuddyHandler {
	return &BuddyHandler{pairing: pairing}
}

type InviteRequest struct {
	UserID uuid.UUID `json:"userId"`
}

func (h *BuddyHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	status, err := h.pairing.Status(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *BuddyHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req InviteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "userId is required")
		return
	}

	pair, err := h.pairing.Invite(r.Context(), userID, req.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *BuddyHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	pair, err := h.pairing.Accept(r.Context(), chi.URLParam(r, "key"), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *BuddyHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.pairing.Reject)
}

func (h *BuddyHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.pairing.Cancel)
}

func (h *BuddyHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.pairing.Remove)
}

func (h *BuddyHandler) pairAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, key string, userID uuid.UUID) error) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := action(r.Context(), chi.URLParam(r, "key"), userID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
