package router

import (
	"net/http"

	"github.com/babelcloud/gbox/packages/caster/internal/server/handlers"
)

// APIRouter handles all /api/* routes
type APIRouter struct {
	handlers *handlers.APIHandlers
}

// RegisterRoutes registers all API routes
func (r *APIRouter) RegisterRoutes(mux *http.ServeMux, server interface{}) {
	serverService, ok := server.(handlers.ServerService)
	if !ok {
		panic("APIRouter requires a handlers.ServerService")
	}
	r.handlers = handlers.NewAPIHandlers(serverService)

	mux.HandleFunc("/health", r.handlers.HandleHealth)

	api := NewRouteGroup(r.GetPathPrefix(), mux)
	api.HandleFunc("/health", r.handlers.HandleHealth)
	api.HandleFunc("/status", r.handlers.HandleStatus)
	api.HandleFunc("/receivers", r.handlers.HandleReceivers)
	api.HandleFunc("/intents", r.handlers.HandleIntent)
	api.HandleFunc("/frame", r.handlers.HandleFrame)
	api.HandleFunc("/events", r.handlers.HandleEvents)
	api.HandleFunc("/server/info", r.handlers.HandleServerInfo)
}

// GetPathPrefix returns the path prefix for this router
func (r *APIRouter) GetPathPrefix() string {
	return "/api"
}
