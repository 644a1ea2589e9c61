package handler

import (
	"net/http"

	"github.com/halden/converse/internal/api/response"
	"github.com/halden/converse/internal/backend"
)

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ListProviders returns the configured chat backend providers
func ListProviders(router *backend.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]any{
			"providers": router.ListProviders(),
			"default":   router.DefaultProvider(),
		})
	}
}
