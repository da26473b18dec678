package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
)

// RespondJSON sends a JSON response with the given status code and data
func RespondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.GetLogger().Debug("Failed to encode response", "error", err)
	}
}

// RespondError maps err onto an HTTP status by its errdefs class.
func RespondError(w http.ResponseWriter, err error) {
	RespondJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errdefs.IsValidation(err):
		return http.StatusBadRequest
	case errdefs.IsTransition(err):
		return http.StatusConflict
	case errdefs.IsConnection(err):
		return http.StatusBadGateway
	case errdefs.IsFatal(err), errdefs.IsPipeline(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
