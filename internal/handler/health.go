package handler

import (
	"net/http"

	"github.com/biddersweet/platform/internal/infra"
)

// HealthHandler reports database health. A configured Redis is reported
// but does not fail the check; the projection falls back to PostgreSQL.
func HealthHandler(db infra.Pinger, redis infra.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := infra.HealthCheck(r.Context(), db); err != nil {
			RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		body := map[string]string{"status": "healthy"}
		if redis != nil {
			body["redis"] = "ok"
			if err := infra.HealthCheck(r.Context(), redis); err != nil {
				body["redis"] = "degraded"
			}
		}
		RespondJSON(w, http.StatusOK, body)
	}
}
