package handlers

import (
	"net/http"

	"github.com/dom/studybuddy/internal/service"
	"github.com/google/uuid"
)

type PokeHandler struct {
	pokes *service.PokeService
}

func NewPokeHandler(pokes *service.PokeService) *PokeHandler {
	return &PokeHandler{pokes: pokes}
}

type SendPokeRequest struct {
	ToUserID uuid.UUID `json:"toUserId"`
	Message  string    `json:"message"`
}

func (h *PokeHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req SendPokeRequest
	if !decode(w, r, &req) {
		return
	}

	poke, err := h.pokes.Send(r.Context(), userID, req.ToUserID, req.Message)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, poke)
}

func (h *PokeHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	pokes, err := h.pokes.UnreadFor(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pokes)
}

func (h *PokeHandler) Latest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	poke, err := h.pokes.LatestUnread(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"poke": poke})
}

func (h *PokeHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	pokeID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	poke, err := h.pokes.MarkRead(r.Context(), pokeID, userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poke)
}

func (h *PokeHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	count, err := h.pokes.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": count})
}
