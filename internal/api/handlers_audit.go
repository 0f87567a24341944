package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/org/authcore/internal/storage"
	"github.com/org/authcore/pkg/models"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func (s *Server) queryEvents(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEvent, error) {
	return s.auditor.Events(ctx, filter)
}

func (s *Server) queryAlerts(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	return s.auditor.UnresolvedAlerts(ctx, limit)
}

func filterDetails(f storage.AuditFilter) map[string]any {
	details := map[string]any{"limit": f.Limit, "offset": f.Offset}
	if f.PrincipalID != "" {
		details["principal_id"] = f.PrincipalID
	}
	if f.Since != nil {
		details["since"] = f.Since.Format(time.RFC3339)
	}
	return details
}

// AuditEventsHandler handles GET /v1/audit/events
func (s *Server) AuditEventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AuditFilter{
		PrincipalID: q.Get("principal"),
		Limit:       pageSize(q.Get("limit")),
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &t
	}

	events, decision, err := s.viewAuditLog.Execute(r.Context(), s.sessionFor(r), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !decision.Allowed {
		writeDenied(w, decision)
		return
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": events})
}

// AuditAlertsHandler handles GET /v1/audit/alerts
func (s *Server) AuditAlertsHandler(w http.ResponseWriter, r *http.Request) {
	alerts, decision, err := s.viewAlerts.Execute(r.Context(), s.sessionFor(r), pageSize(r.URL.Query().Get("limit")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !decision.Allowed {
		writeDenied(w, decision)
		return
	}
	if alerts == nil {
		alerts = []*models.SecurityAlert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": alerts})
}

func pageSize(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}
