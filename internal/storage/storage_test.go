package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/authcore/pkg/models"
)

func TestMemoryRecentEventsFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	add := func(id, principal, action string, result models.Result, at time.Time) {
		require.NoError(t, m.AppendAuditEvent(ctx, &models.AuditEvent{
			ID: id, PrincipalID: principal, Action: action, Result: result, Timestamp: at,
		}))
	}
	add("1", "alice", "login", models.ResultFailure, base.Add(-10*time.Minute))
	add("2", "alice", "login", models.ResultFailure, base.Add(-2*time.Minute))
	add("3", "alice", "login", models.ResultSuccess, base.Add(-time.Minute))
	add("4", "bob", "login", models.ResultFailure, base.Add(-time.Minute))
	add("5", "alice", "login", models.ResultFailure, base)

	got, err := m.QueryRecentEvents(ctx, RecentFilter{
		PrincipalID: "alice", Action: "login", Result: models.ResultFailure, Since: base.Add(-5 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "5", got[1].ID)
}

func TestMemoryAuditEventsPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendAuditEvent(ctx, &models.AuditEvent{
			ID: string(rune('a' + i)), PrincipalID: "alice", Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, m.AppendAuditEvent(ctx, &models.AuditEvent{ID: "z", PrincipalID: "bob", Timestamp: base}))

	got, err := m.QueryAuditEvents(ctx, AuditFilter{PrincipalID: "alice", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].ID, "newest first, offset skips one")
	assert.Equal(t, "c", got[1].ID)

	all, err := m.QueryAuditEvents(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	none, err := m.QueryAuditEvents(ctx, AuditFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryUnresolvedAlerts(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	require.NoError(t, m.AppendSecurityAlert(ctx, &models.SecurityAlert{ID: "1"}))
	require.NoError(t, m.AppendSecurityAlert(ctx, &models.SecurityAlert{ID: "2", Resolved: true}))
	require.NoError(t, m.AppendSecurityAlert(ctx, &models.SecurityAlert{ID: "3"}))

	got, err := m.QueryUnresolvedAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].ID)
	assert.Equal(t, "1", got[1].ID)
}

func TestMemoryTokens(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	now := time.Now()
	tok := &models.Token{ID: "t1", PrincipalID: "alice", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, m.WriteToken(ctx, tok, "hash"))

	n, err := m.CountActiveTokens(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	later := now.Add(2 * time.Hour)
	require.NoError(t, m.RenewToken(ctx, "t1", later))
	got, err := m.GetToken(ctx, "hash")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(later))

	require.NoError(t, m.RevokeToken(ctx, "t1"))
	assert.ErrorIs(t, m.RenewToken(ctx, "t1", later), ErrNotFound)

	_, err = m.GetToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCredentialsUnique(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	cred := &models.Credential{PrincipalID: "alice", Role: models.RoleWorker}
	require.NoError(t, m.WriteCredential(ctx, cred))
	assert.ErrorIs(t, m.WriteCredential(ctx, cred), ErrAlreadyExists)
}

func TestMemoryClaim(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	ok, err := m.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.Claim(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = m.Claim(ctx, "k", time.Minute)
	assert.True(t, ok, "claim expires after ttl")
}

func TestRedisCoalescerClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCoalescer(client, "")
	ctx := context.Background()

	ok, err := c.Claim(ctx, "multiple_failures:alice:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Claim(ctx, "multiple_failures:alice:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists("authcore:alert:multiple_failures:alice:1"))
	mr.FastForward(time.Minute)

	ok, err = c.Claim(ctx, "multiple_failures:alice:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
