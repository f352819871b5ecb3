package api

import (
	"net/http"

	"github.com/phrazzld/conjure-api/internal/api/shared"
)

// HealthResponse represents the response data for the health endpoint
type HealthResponse struct {
	OK bool `json:"ok"`
}

// HandleHealth handles GET /health requests. It is a lightweight liveness
// probe for Docker, load balancers and uptime checks; it deliberately does
// not touch the database or the queue.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{OK: true})
}
