package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcpay/gateway/pkg/responders"
)

// gateway hands the request to the proxy pipeline.
func (s *handlers) gateway(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicId")
	if publicID == "" {
		responders.Error(w, http.StatusNotFound, "missing server id")
		return
	}
	rest := chi.URLParam(r, "*")
	if rest != "" {
		rest = "/" + rest
	}
	s.runner.Handle(w, r, publicID, rest)
}

// Version is stamped via -ldflags at release build time.
var Version = "dev"

// health reports liveness and uptime.
func (s *handlers) health(w http.ResponseWriter, _ *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": int64(timeSinceStart().Seconds()),
	})
}
