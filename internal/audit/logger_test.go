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

// failingStore rejects every write.
type failingStore struct {
	*storage.MemoryBackend
	appendErr error
	alertErr  error
	queryErr  error
}

func (f *failingStore) AppendAuditEvent(ctx context.Context, e *models.AuditEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.MemoryBackend.AppendAuditEvent(ctx, e)
}

func (f *failingStore) AppendSecurityAlert(ctx context.Context, a *models.SecurityAlert) error {
	if f.alertErr != nil {
		return f.alertErr
	}
	return f.MemoryBackend.AppendSecurityAlert(ctx, a)
}

func (f *failingStore) QueryRecentEvents(ctx context.Context, filter storage.RecentFilter) ([]*models.AuditEvent, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.MemoryBackend.QueryRecentEvents(ctx, filter)
}

type countingInspector struct {
	calls int
	err   error
}

func (c *countingInspector) Inspect(context.Context, *models.AuditEvent) ([]*models.SecurityAlert, error) {
	c.calls++
	return nil, c.err
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func TestDeriveSeverity(t *testing.T) {
	cases := map[string]models.Severity{
		"delete_quote":       models.SeverityHigh,
		"admin_create_user":  models.SeverityHigh,
		"Admin.System":       models.SeverityHigh,
		"create_invoice":     models.SeverityMedium,
		"edit_quote":         models.SeverityMedium,
		"view_audit_log":     models.SeverityLow,
		"login":              models.SeverityLow,
		"":                   models.SeverityLow,
		"bulk_delete_create": models.SeverityHigh,
	}
	for action, want := range cases {
		assert.Equal(t, want, DeriveSeverity(action), "action %q", action)
	}
}

func TestLogEventFillsDefaults(t *testing.T) {
	store := storage.NewMemoryBackend()
	insp := &countingInspector{}
	w := NewWriter(store, insp, WithClock(func() time.Time { return fixedNow }))

	ctx := WithCorrelationID(context.Background(), "req-42")
	w.LogEvent(ctx, &models.AuditEvent{Action: "edit_quote", Result: models.ResultSuccess})

	events := store.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, fixedNow, ev.Timestamp)
	assert.Equal(t, "req-42", ev.CorrelationID)
	assert.Equal(t, models.SeverityMedium, ev.Severity)
	assert.Equal(t, AnonymousPrincipal, ev.PrincipalID)
	assert.Equal(t, 1, insp.calls)
}

func TestLogEventKeepsExplicitSeverity(t *testing.T) {
	store := storage.NewMemoryBackend()
	w := NewWriter(store, nil)
	w.LogEvent(context.Background(), &models.AuditEvent{Action: "view_report", Severity: models.SeverityCritical})
	assert.Equal(t, models.SeverityCritical, store.Events()[0].Severity)
	assert.NotEmpty(t, store.Events()[0].CorrelationID, "a correlation id is generated when none is in context")
}

func TestStoreFailureIsSwallowed(t *testing.T) {
	store := &failingStore{MemoryBackend: storage.NewMemoryBackend(), appendErr: errors.New("db down")}
	insp := &countingInspector{}
	w := NewWriter(store, insp)

	assert.NotPanics(t, func() {
		w.LogLogin(context.Background(), "alice", models.RoleWorker, false, nil)
	})
	assert.Empty(t, store.Events())
	assert.Equal(t, 0, insp.calls, "detector only runs after a successful append")
}

func TestInspectorFailureIsSwallowed(t *testing.T) {
	store := storage.NewMemoryBackend()
	w := NewWriter(store, &countingInspector{err: errors.New("boom")})
	w.LogLogout(context.Background(), &models.Principal{ID: "alice", Role: models.RoleWorker})
	require.Len(t, store.Events(), 1)
}

func TestConvenienceWrappers(t *testing.T) {
	store := storage.NewMemoryBackend()
	w := NewWriter(store, nil)
	ctx := context.Background()
	p := &models.Principal{ID: "bob", Role: models.RoleManager}

	w.LogLogin(ctx, "bob", models.RoleManager, true, nil)
	w.LogLogin(ctx, "bob", models.RoleManager, false, map[string]any{"reason": "bad password"})
	w.LogLogout(ctx, p)
	w.LogResourceAccess(ctx, p, "delete_quote", "quote", "q-1", models.ResultBlocked, map[string]any{"reason": "x"})
	w.LogSensitiveAction(ctx, p, "view_report", "report", "r-1", models.ResultSuccess, nil)

	ev := store.Events()
	require.Len(t, ev, 5)

	assert.Equal(t, models.ActionLogin, ev[0].Action)
	assert.Equal(t, models.ResultSuccess, ev[0].Result)
	assert.Equal(t, models.SeverityLow, ev[0].Severity)

	assert.Equal(t, models.ResultFailure, ev[1].Result)
	assert.Equal(t, models.SeverityMedium, ev[1].Severity)

	assert.Equal(t, models.ActionLogout, ev[2].Action)
	assert.Equal(t, "bob", ev[2].PrincipalID)

	assert.Equal(t, models.SeverityHigh, ev[3].Severity)
	assert.Equal(t, "quote", ev[3].ResourceType)
	assert.Equal(t, "q-1", ev[3].ResourceID)
	assert.Equal(t, models.RoleManager, ev[3].PrincipalRole)

	assert.Equal(t, models.SeverityMedium, ev[4].Severity, "sensitive actions are at least medium")
}
