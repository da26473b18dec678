package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"

	"github.com/babelcloud/gbox/packages/caster/internal/app"
	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
)

// APIHandlers contains handlers for all /api/* routes
type APIHandlers struct {
	serverService ServerService
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(serverSvc ServerService) *APIHandlers {
	return &APIHandlers{serverService: serverSvc}
}

// Health and status endpoints
func (h *APIHandlers) HandleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"caster"}`))
}

func (h *APIHandlers) HandleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	RespondJSON(w, http.StatusOK, h.serverService.Controller().Status())
}

func (h *APIHandlers) HandleReceivers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	receivers := h.serverService.Controller().Status().Receivers
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"receivers": receivers,
		"count":     len(receivers),
	})
}

// HandleIntent submits one intent and answers with the resulting status.
func (h *APIHandlers) HandleIntent(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Intent  string `json:"intent"`
		Address string `json:"address"`
		Region  string `json:"region"`
	}
	req.Body = http.MaxBytesReader(w, req.Body, 4096)
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		RespondError(w, errdefs.Validation("body", "", "invalid JSON"))
		return
	}

	intent, err := app.ParseIntent(body.Intent)
	if err != nil {
		RespondError(w, err)
		return
	}

	ctrl := h.serverService.Controller()
	if err := ctrl.Submit(req.Context(), app.Request{Intent: intent, Address: body.Address, Region: body.Region}); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, ctrl.Status())
}

// HandleFrame serves the latest frame as a JPEG. The black placeholder is
// served while nothing is streaming.
func (h *APIHandlers) HandleFrame(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frame := h.serverService.Controller().Frames().Load()
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
	w.Header().Set("Content-Length", strconv.Itoa(len(frame.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(frame.Data)
}

func (h *APIHandlers) HandleServerInfo(w http.ResponseWriter, req *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"version":    h.serverService.GetVersion(),
		"build_id":   h.serverService.GetBuildID(),
		"uptime":     h.serverService.GetUptime().String(),
		"go_version": runtime.Version(),
		"engine":     h.serverService.Controller().Status().Engine,
	})
}
