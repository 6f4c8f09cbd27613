package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/config"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("health check: database ping failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "unreachable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
