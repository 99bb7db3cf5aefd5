package handlers

import (
	"net/http"
	"time"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/service"
)

type TaskHandler struct {
	tasks *service.TaskService
}

func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

type CreateTaskRequest struct {
	Name    string             `json:"name"`
	Effort  domain.EffortLevel `json:"effort"`
	DueDate *time.Time         `json:"dueDate"`
}

type SetPokeRequest struct {
	Poked bool `json:"poked"`
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if !decode(w, r, &req) {
		return
	}

	task, err := h.tasks.Create(r.Context(), service.CreateTaskInput{
		UserID:  userID,
		Name:    req.Name,
		Effort:  req.Effort,
		DueDate: req.DueDate,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ownerID, ok := userQuery(w, r, viewerID)
	if !ok {
		return
	}

	tasks, err := h.tasks.List(r.Context(), viewerID, ownerID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	task, err := h.tasks.ToggleComplete(r.Context(), taskID, userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) SetPoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req SetPokeRequest
	if !decode(w, r, &req) {
		return
	}

	task, err := h.tasks.SetPoke(r.Context(), taskID, userID, req.Poked)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) GetPoke(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	taskID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	poked, err := h.tasks.IsPoked(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"poked": poked})
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.tasks.Delete(r.Context(), taskID, userID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
