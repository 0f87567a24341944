package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/org/authcore/internal/storage"
	"github.com/org/authcore/pkg/models"
)

// AnonymousPrincipal is recorded when an event has no authenticated actor.
const AnonymousPrincipal = "anonymous"

// Inspector examines a freshly written event. The Detector implements it.
type Inspector interface {
	Inspect(ctx context.Context, event *models.AuditEvent) ([]*models.SecurityAlert, error)
}

// Writer appends audit events to the log store. Writing never fails from the
// caller's point of view: store and detector errors are logged and dropped.
type Writer struct {
	store     storage.LogStore
	inspector Inspector
	clock     func() time.Time
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.clock = now }
}

// NewWriter creates a Writer. inspector may be nil to disable anomaly checks.
func NewWriter(store storage.LogStore, inspector Inspector, opts ...WriterOption) *Writer {
	w := &Writer{store: store, inspector: inspector, clock: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// LogEvent stamps and appends event, then runs anomaly detection on it.
// Missing ID, timestamp, correlation id, severity and principal are filled in.
func (w *Writer) LogEvent(ctx context.Context, event *models.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = w.clock().UTC()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = CorrelationID(ctx)
		if event.CorrelationID == "" {
			event.CorrelationID = uuid.NewString()
		}
	}
	if event.Severity == "" {
		event.Severity = DeriveSeverity(event.Action)
	}
	if event.PrincipalID == "" {
		event.PrincipalID = AnonymousPrincipal
	}

	if err := w.store.AppendAuditEvent(ctx, event); err != nil {
		writeFailuresTotal.Inc()
		log.Error().Err(err).
			Str("principal", event.PrincipalID).
			Str("action", event.Action).
			Str("result", string(event.Result)).
			Str("correlation_id", event.CorrelationID).
			Msg("audit: failed to write event")
		return
	}
	eventsTotal.WithLabelValues(string(event.Result)).Inc()

	if w.inspector == nil {
		return
	}
	if _, err := w.inspector.Inspect(ctx, event); err != nil {
		log.Warn().Err(err).
			Str("principal", event.PrincipalID).
			Str("event_id", event.ID).
			Msg("audit: anomaly detection failed")
	}
}

// LogLogin records a login attempt. Failures are graded medium.
func (w *Writer) LogLogin(ctx context.Context, principalID string, role models.Role, success bool, details map[string]any) {
	ev := &models.AuditEvent{
		PrincipalID:   principalID,
		PrincipalRole: role,
		Action:        models.ActionLogin,
		Details:       details,
		Result:        models.ResultSuccess,
		Severity:      models.SeverityLow,
	}
	if !success {
		ev.Result = models.ResultFailure
		ev.Severity = models.SeverityMedium
	}
	w.LogEvent(ctx, ev)
}

// LogLogout records a sign-out.
func (w *Writer) LogLogout(ctx context.Context, principal *models.Principal) {
	ev := &models.AuditEvent{
		Action:   models.ActionLogout,
		Result:   models.ResultSuccess,
		Severity: models.SeverityLow,
	}
	stampPrincipal(ev, principal)
	w.LogEvent(ctx, ev)
}

// LogResourceAccess records an attempt to reach a resource. Severity is
// derived from action.
func (w *Writer) LogResourceAccess(ctx context.Context, principal *models.Principal, action, resourceType, resourceID string, result models.Result, details map[string]any) {
	ev := &models.AuditEvent{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		Result:       result,
	}
	stampPrincipal(ev, principal)
	w.LogEvent(ctx, ev)
}

// LogSensitiveAction records the outcome of a guarded operation. Severity is
// derived from action but never below medium.
func (w *Writer) LogSensitiveAction(ctx context.Context, principal *models.Principal, action, resourceType, resourceID string, result models.Result, details map[string]any) {
	ev := &models.AuditEvent{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		Result:       result,
		Severity:     atLeast(DeriveSeverity(action), models.SeverityMedium),
	}
	stampPrincipal(ev, principal)
	w.LogEvent(ctx, ev)
}

// Events retrieves paged audit events for the dashboard.
func (w *Writer) Events(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEvent, error) {
	return w.store.QueryAuditEvents(ctx, filter)
}

// UnresolvedAlerts retrieves open security alerts for the dashboard.
func (w *Writer) UnresolvedAlerts(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	return w.store.QueryUnresolvedAlerts(ctx, limit)
}

func stampPrincipal(ev *models.AuditEvent, p *models.Principal) {
	if p == nil {
		return
	}
	ev.PrincipalID = p.ID
	ev.PrincipalRole = p.Role
}
