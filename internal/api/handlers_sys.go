package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/authcore/internal/session"
)

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	active, err := s.store.CountActiveTokens(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("health: store unavailable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	activeTokensTotal.Set(float64(active))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"active_tokens": active,
		"roles":         s.catalog.Roles(),
		"session":       s.sessionTuning(),
	})
}

// sessionTuning reports the thresholds clients should run their own watchdog
// and observer with.
func (s *Server) sessionTuning() map[string]string {
	opts := s.cfg.Session
	return map[string]string{
		"warning_threshold": durationOr(opts.WarningThreshold, session.DefaultWarningThreshold).String(),
		"refresh_threshold": durationOr(opts.RefreshThreshold, session.DefaultRefreshThreshold).String(),
		"poll_interval":     durationOr(opts.PollInterval, session.DefaultPollInterval).String(),
		"observer_interval": s.cfg.ObserverInterval.String(),
	}
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
