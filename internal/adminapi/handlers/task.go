package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nrlund/macrocore/internal/logger"
	"github.com/nrlund/macrocore/internal/manager"
)

// TaskHandler handles per-controller admin requests: list, inspect, and
// pause/resume/stop/restart/enable one registered task by name.
type TaskHandler struct {
	mgr *manager.Manager
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(mgr *manager.Manager) *TaskHandler {
	return &TaskHandler{mgr: mgr}
}

// taskResponse is the wire shape for one controller's snapshot.
type taskResponse struct {
	Name    string `json:"name"`
	Cid     int64  `json:"cid"`
	State   string `json:"state"`
	Enabled bool   `json:"enabled"`
}

func toResponse(info manager.TaskInfo) taskResponse {
	return taskResponse{
		Name:    info.Name,
		Cid:     int64(info.Cid),
		State:   string(info.State),
		Enabled: info.Enabled,
	}
}

// List handles GET /admin/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := h.mgr.ListTasks()
	out := make([]taskResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, toResponse(info))
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": out,
		"count": len(out),
	})
}

// Get handles GET /admin/tasks/{name}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, ok := h.mgr.GetTask(name)
	if !ok {
		h.respondError(w, http.StatusNotFound, "task not found")
		return
	}
	h.respondJSON(w, http.StatusOK, toResponse(info))
}

// pauseRequest is the body of POST /admin/tasks/{name}/pause.
type pauseRequest struct {
	Interrupt bool `json:"interrupt"`
}

// Pause handles POST /admin/tasks/{name}/pause
func (h *TaskHandler) Pause(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req pauseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	ok, err := h.mgr.PauseTask(name, req.Interrupt)
	if err != nil {
		h.handleTaskErr(w, name, err)
		return
	}
	if !ok {
		h.respondError(w, http.StatusConflict, "task could not be paused from its current state")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"message": "task paused", "name": name})
}

// Resume handles POST /admin/tasks/{name}/resume
func (h *TaskHandler) Resume(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.mgr.ResumeTask(name); err != nil {
		h.handleTaskErr(w, name, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"message": "task resumed", "name": name})
}

// Stop handles POST /admin/tasks/{name}/stop
func (h *TaskHandler) Stop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.mgr.StopTask(name); err != nil {
		h.handleTaskErr(w, name, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"message": "task stopped", "name": name})
}

// Restart handles POST /admin/tasks/{name}/restart
func (h *TaskHandler) Restart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.mgr.RestartTask(name); err != nil {
		h.handleTaskErr(w, name, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"message": "task restarted", "name": name})
}

// enableRequest is the body of POST /admin/tasks/{name}/enable.
type enableRequest struct {
	Enabled bool `json:"enabled"`
}

// Enable handles POST /admin/tasks/{name}/enable
func (h *TaskHandler) Enable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, ok := h.mgr.GetTask(name); !ok {
		h.respondError(w, http.StatusNotFound, "task not found")
		return
	}
	h.mgr.SetTaskEnabled(name, req.Enabled)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"name": name, "enabled": req.Enabled})
}

func (h *TaskHandler) handleTaskErr(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, manager.ErrTaskNotFound) {
		h.respondError(w, http.StatusNotFound, "task not found")
		return
	}
	logger.Error().Err(err).Str("task", name).Msg("task control request failed")
	h.respondError(w, http.StatusInternalServerError, "task control request failed")
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
