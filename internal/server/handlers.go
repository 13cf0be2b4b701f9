package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/tpanel/internal/core"
)

type pluginHealth struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status  string         `json:"status"`
	Plugins []pluginHealth `json:"plugins"`
}

// HealthHandler reports plugin health. It answers 503 only when every plugin
// is in error, so a single unreachable panel does not fail liveness checks.
func HealthHandler(plugins []core.Plugin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok", Plugins: make([]pluginHealth, 0, len(plugins))}
		failed := 0
		for _, p := range plugins {
			status := p.Health()
			if status == core.HealthError {
				failed++
			}
			resp.Plugins = append(resp.Plugins, pluginHealth{
				ID:      p.ID(),
				Status:  string(status),
				Message: p.HealthMessage(),
			})
		}

		code := http.StatusOK
		if len(plugins) > 0 && failed == len(plugins) {
			resp.Status = "error"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
}
