package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/org/authcore/internal/storage"
	"github.com/org/authcore/pkg/models"
)

// Default detector tuning.
const (
	DefaultFailureWindow    = 5 * time.Minute
	DefaultFailureThreshold = 3
)

// Coalescer claims a key for a period. Claim reports true only for the first
// caller within ttl.
type Coalescer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// DetectorConfig tunes a Detector. Zero values take the defaults.
type DetectorConfig struct {
	FailureWindow    time.Duration
	FailureThreshold int
	// LowPrivilegeRoles are the roles whose blocked admin/delete attempts
	// count as escalation. Defaults to worker and client.
	LowPrivilegeRoles []models.Role
	// Coalescer, when set with a positive CoalesceWindow, suppresses repeat
	// alerts of the same type for the same principal within one window bucket.
	Coalescer      Coalescer
	CoalesceWindow time.Duration
	Clock          func() time.Time
}

// Detector raises security alerts from patterns in the audit stream. Each
// check runs independently; several alerts may result from one event.
type Detector struct {
	store          storage.LogStore
	window         time.Duration
	threshold      int
	lowPrivilege   map[models.Role]struct{}
	coalescer      Coalescer
	coalesceWindow time.Duration
	clock          func() time.Time
}

// NewDetector creates a Detector that reads and writes through store.
func NewDetector(store storage.LogStore, cfg DetectorConfig) *Detector {
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = DefaultFailureWindow
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.LowPrivilegeRoles == nil {
		cfg.LowPrivilegeRoles = []models.Role{models.RoleWorker, models.RoleClient}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	low := make(map[models.Role]struct{}, len(cfg.LowPrivilegeRoles))
	for _, r := range cfg.LowPrivilegeRoles {
		low[r] = struct{}{}
	}
	return &Detector{
		store:          store,
		window:         cfg.FailureWindow,
		threshold:      cfg.FailureThreshold,
		lowPrivilege:   low,
		coalescer:      cfg.Coalescer,
		coalesceWindow: cfg.CoalesceWindow,
		clock:          cfg.Clock,
	}
}

// Inspect evaluates event against every rule and appends any resulting
// alerts. It returns the alerts that were stored together with the joined
// errors of the rules that could not complete.
func (d *Detector) Inspect(ctx context.Context, event *models.AuditEvent) ([]*models.SecurityAlert, error) {
	var (
		raised []*models.SecurityAlert
		errs   []error
	)
	emit := func(a *models.SecurityAlert) {
		if a == nil {
			return
		}
		if err := d.raise(ctx, a); err != nil {
			errs = append(errs, err)
			return
		}
		raised = append(raised, a)
	}

	alert, err := d.checkFailures(ctx, event)
	if err != nil {
		errs = append(errs, err)
	}
	emit(alert)
	emit(d.checkUnusualAccess(event))
	emit(d.checkEscalation(event))

	return raised, errors.Join(errs...)
}

// checkFailures bundles the principal's recent failed logins once the
// threshold is reached. Only a failed login can cross the threshold.
func (d *Detector) checkFailures(ctx context.Context, event *models.AuditEvent) (*models.SecurityAlert, error) {
	if event.Action != models.ActionLogin || event.Result != models.ResultFailure {
		return nil, nil
	}
	events, err := d.store.QueryRecentEvents(ctx, storage.RecentFilter{
		PrincipalID: event.PrincipalID,
		Action:      models.ActionLogin,
		Result:      models.ResultFailure,
		Since:       event.Timestamp.Add(-d.window),
	})
	if err != nil {
		return nil, fmt.Errorf("querying recent failures: %w", err)
	}
	if len(events) < d.threshold {
		return nil, nil
	}
	return d.newAlert(models.AlertMultipleFailures, event.PrincipalID,
		fmt.Sprintf("%d failed login attempts within %s", len(events), d.window), events), nil
}

func (d *Detector) checkUnusualAccess(event *models.AuditEvent) *models.SecurityAlert {
	if event.Result != models.ResultBlocked || event.Severity != models.SeverityHigh {
		return nil
	}
	return d.newAlert(models.AlertUnusualAccess, event.PrincipalID,
		fmt.Sprintf("high severity access blocked: %s", event.Action), []*models.AuditEvent{event})
}

func (d *Detector) checkEscalation(event *models.AuditEvent) *models.SecurityAlert {
	if event.Result != models.ResultBlocked {
		return nil
	}
	action := strings.ToLower(event.Action)
	if !strings.Contains(action, "admin") && !strings.Contains(action, "delete") {
		return nil
	}
	if _, low := d.lowPrivilege[event.PrincipalRole]; !low {
		return nil
	}
	return d.newAlert(models.AlertPermissionEscalation, event.PrincipalID,
		fmt.Sprintf("%s principal attempted %s", event.PrincipalRole, event.Action), []*models.AuditEvent{event})
}

func (d *Detector) newAlert(typ models.AlertType, principalID, desc string, events []*models.AuditEvent) *models.SecurityAlert {
	return &models.SecurityAlert{
		ID:          uuid.NewString(),
		Type:        typ,
		PrincipalID: principalID,
		Description: desc,
		Events:      events,
		Timestamp:   d.clock().UTC(),
	}
}

func (d *Detector) raise(ctx context.Context, a *models.SecurityAlert) error {
	if !d.claim(ctx, a) {
		log.Debug().Str("type", string(a.Type)).Str("principal", a.PrincipalID).Msg("audit: alert coalesced")
		return nil
	}
	if err := d.store.AppendSecurityAlert(ctx, a); err != nil {
		return fmt.Errorf("storing %s alert: %w", a.Type, err)
	}
	alertsTotal.WithLabelValues(string(a.Type)).Inc()
	log.Warn().
		Str("type", string(a.Type)).
		Str("principal", a.PrincipalID).
		Int("events", len(a.Events)).
		Msg(a.Description)
	return nil
}

// claim reports whether the alert should be stored. Without coalescing, or
// when the coalescer is unreachable, every alert is stored.
func (d *Detector) claim(ctx context.Context, a *models.SecurityAlert) bool {
	if d.coalescer == nil || d.coalesceWindow <= 0 {
		return true
	}
	bucket := a.Timestamp.UnixNano() / int64(d.coalesceWindow)
	key := fmt.Sprintf("%s:%s:%d", a.Type, a.PrincipalID, bucket)
	ok, err := d.coalescer.Claim(ctx, key, d.coalesceWindow)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("audit: coalescer unavailable, raising alert")
		return true
	}
	return ok
}
