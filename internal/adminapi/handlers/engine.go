package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nrlund/macrocore/internal/logger"
	"github.com/nrlund/macrocore/internal/manager"
)

// EngineHandler handles engine-wide (worker) control requests: the
// admin API's equivalent of the original's start/stop/pause/resume
// buttons on the TaskManager.
type EngineHandler struct {
	mgr *manager.Manager
}

// NewEngineHandler creates a new engine handler.
func NewEngineHandler(mgr *manager.Manager) *EngineHandler {
	return &EngineHandler{mgr: mgr}
}

// Health handles GET /admin/health
func (h *EngineHandler) Health(w http.ResponseWriter, r *http.Request) {
	alive := h.mgr.Worker().IsAlive()
	status := "idle"
	if alive {
		status = "running"
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"tasks":  len(h.mgr.ListTasks()),
	})
}

// Start handles POST /admin/engine/start
func (h *EngineHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.mgr.StartWorker()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"message": "engine started"})
}

// Stop handles POST /admin/engine/stop
func (h *EngineHandler) Stop(w http.ResponseWriter, r *http.Request) {
	ok := h.mgr.StopWorker()
	if !ok {
		logger.Warn().Msg("engine stop left a deadlocked worker running")
		h.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"message": "stop requested but the worker did not yield; it remains running unsupervised",
		})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"message": "engine stopped"})
}

// EnginePauseRequest is the body of POST /admin/engine/pause.
type EnginePauseRequest struct {
	Interrupt bool `json:"interrupt"`
}

// Pause handles POST /admin/engine/pause
func (h *EngineHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req EnginePauseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	ok := h.mgr.PauseWorker(req.Interrupt)
	if !ok {
		h.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"message": "pause requested but the worker did not yield; it remains running unsupervised",
		})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"message": "engine paused", "interrupt": req.Interrupt})
}

// Resume handles POST /admin/engine/resume
func (h *EngineHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.mgr.ResumeWorker()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"message": "engine resumed"})
}

func (h *EngineHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *EngineHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
