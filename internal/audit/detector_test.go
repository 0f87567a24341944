package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/authcore/internal/storage"
	"github.com/org/authcore/pkg/models"
)

func newDetectorWriter(store storage.LogStore, cfg DetectorConfig) (*Writer, *Detector) {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return fixedNow }
	}
	d := NewDetector(store, cfg)
	return NewWriter(store, d), d
}

func loginFailure(at time.Time) *models.AuditEvent {
	return &models.AuditEvent{
		PrincipalID:   "mallory",
		PrincipalRole: models.RoleWorker,
		Action:        models.ActionLogin,
		Result:        models.ResultFailure,
		Severity:      models.SeverityMedium,
		Timestamp:     at,
	}
}

func alertsOfType(alerts []*models.SecurityAlert, typ models.AlertType) []*models.SecurityAlert {
	var out []*models.SecurityAlert
	for _, a := range alerts {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func TestThreeFailuresRaiseOneAlert(t *testing.T) {
	store := storage.NewMemoryBackend()
	w, _ := newDetectorWriter(store, DetectorConfig{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ev := loginFailure(fixedNow.Add(time.Duration(i) * time.Minute))
		w.LogEvent(ctx, ev)
		ids = append(ids, ev.ID)
	}

	alerts := alertsOfType(store.Alerts(), models.AlertMultipleFailures)
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, "mallory", a.PrincipalID)
	assert.False(t, a.Resolved)
	require.Len(t, a.Events, 3)
	for i, ev := range a.Events {
		assert.Equal(t, ids[i], ev.ID)
	}
}

func TestFourthFailureStillAlerts(t *testing.T) {
	store := storage.NewMemoryBackend()
	w, _ := newDetectorWriter(store, DetectorConfig{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		w.LogEvent(ctx, loginFailure(fixedNow.Add(time.Duration(i)*time.Minute)))
	}

	alerts := alertsOfType(store.Alerts(), models.AlertMultipleFailures)
	require.Len(t, alerts, 2)
	assert.Len(t, alerts[1].Events, 4)
}

func TestFailuresOutsideWindowIgnored(t *testing.T) {
	store := storage.NewMemoryBackend()
	w, _ := newDetectorWriter(store, DetectorConfig{})
	ctx := context.Background()

	w.LogEvent(ctx, loginFailure(fixedNow))
	w.LogEvent(ctx, loginFailure(fixedNow.Add(4*time.Minute)))
	w.LogEvent(ctx, loginFailure(fixedNow.Add(6*time.Minute)))

	assert.Empty(t, alertsOfType(store.Alerts(), models.AlertMultipleFailures))
}

func TestFailuresOfOtherPrincipalsIgnored(t *testing.T) {
	store := storage.NewMemoryBackend()
	w, _ := newDetectorWriter(store, DetectorConfig{})
	ctx := context.Background()

	for i, who := range []string{"a", "b", "c"} {
		ev := loginFailure(fixedNow.Add(time.Duration(i) * time.Second))
		ev.PrincipalID = who
		w.LogEvent(ctx, ev)
	}
	assert.Empty(t, store.Alerts())
}

func TestBlockedHighSeverityRaisesUnusualAccess(t *testing.T) {
	store := storage.NewMemoryBackend()
	_, d := newDetectorWriter(store, DetectorConfig{})

	ev := &models.AuditEvent{
		PrincipalID: "carol", PrincipalRole: models.RoleManager,
		Action: "export_admin_report", Result: models.ResultBlocked, Severity: models.SeverityHigh,
	}
	alerts, err := d.Inspect(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, alerts, 1, "manager is not low privilege")
	assert.Equal(t, models.AlertUnusualAccess, alerts[0].Type)
	assert.Equal(t, []*models.AuditEvent{ev}, alerts[0].Events)
}

func TestLowPrivilegeEscalation(t *testing.T) {
	store := storage.NewMemoryBackend()
	w, _ := newDetectorWriter(store, DetectorConfig{})

	w.LogResourceAccess(context.Background(), &models.Principal{ID: "wes", Role: models.RoleWorker},
		"delete_quote", "quote", "q-9", models.ResultBlocked, nil)

	alerts := store.Alerts()
	require.Len(t, alerts, 2, "escalation and unusual access fire independently")
	assert.Len(t, alertsOfType(alerts, models.AlertPermissionEscalation), 1)
	assert.Len(t, alertsOfType(alerts, models.AlertUnusualAccess), 1)
}

func TestEscalationRequiresBlocked(t *testing.T) {
	store := storage.NewMemoryBackend()
	w, _ := newDetectorWriter(store, DetectorConfig{})

	w.LogResourceAccess(context.Background(), &models.Principal{ID: "wes", Role: models.RoleWorker},
		"delete_quote", "quote", "q-9", models.ResultSuccess, nil)
	w.LogResourceAccess(context.Background(), &models.Principal{ID: "cli", Role: models.RoleClient},
		"view_quote", "quote", "q-9", models.ResultBlocked, nil)

	assert.Empty(t, store.Alerts())
}

func TestCoalescingSuppressesDuplicates(t *testing.T) {
	store := storage.NewMemoryBackend()
	store.SetClock(func() time.Time { return fixedNow })
	w, _ := newDetectorWriter(store, DetectorConfig{Coalescer: store, CoalesceWindow: 10 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		w.LogEvent(ctx, loginFailure(fixedNow.Add(time.Duration(i)*time.Second)))
	}
	assert.Len(t, alertsOfType(store.Alerts(), models.AlertMultipleFailures), 1)
}

type brokenCoalescer struct{}

func (brokenCoalescer) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestCoalescerFailureRaisesAnyway(t *testing.T) {
	store := storage.NewMemoryBackend()
	_, d := newDetectorWriter(store, DetectorConfig{Coalescer: brokenCoalescer{}, CoalesceWindow: time.Minute})

	alerts, err := d.Inspect(context.Background(), &models.AuditEvent{
		PrincipalID: "x", Action: "admin_panel", Result: models.ResultBlocked, Severity: models.SeverityHigh,
	})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestDetectorErrorsAreReportedNotFatal(t *testing.T) {
	store := &failingStore{
		MemoryBackend: storage.NewMemoryBackend(),
		alertErr:      errors.New("alerts table locked"),
		queryErr:      errors.New("query timeout"),
	}
	_, d := newDetectorWriter(store, DetectorConfig{})

	alerts, err := d.Inspect(context.Background(), loginFailure(fixedNow))
	require.Error(t, err)
	assert.Empty(t, alerts)

	// Through the writer the same failures are swallowed.
	w := NewWriter(store, d)
	assert.NotPanics(t, func() {
		w.LogResourceAccess(context.Background(), &models.Principal{ID: "wes", Role: models.RoleWorker},
			"delete_quote", "quote", "q-1", models.ResultBlocked, nil)
	})
	assert.Len(t, store.Events(), 1)
}
