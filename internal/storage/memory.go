package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/org/authcore/pkg/models"
)

// MemoryBackend is an in-process Backend used for development mode and
// tests. State is lost on restart.
type MemoryBackend struct {
	mu          sync.Mutex
	events      []*models.AuditEvent
	alerts      []*models.SecurityAlert
	credentials map[string]*models.Credential
	tokens      map[string]*models.Token // keyed by token hash
	claims      map[string]time.Time
	now         func() time.Time
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		credentials: map[string]*models.Credential{},
		tokens:      map[string]*models.Token{},
		claims:      map[string]time.Time{},
		now:         time.Now,
	}
}

// SetClock overrides the clock used for token counts and claim expiry.
func (m *MemoryBackend) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryBackend) Close() {}

// --- Credentials ---

func (m *MemoryBackend) WriteCredential(_ context.Context, cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[cred.PrincipalID]; ok {
		return ErrAlreadyExists
	}
	c := *cred
	m.credentials[cred.PrincipalID] = &c
	return nil
}

func (m *MemoryBackend) GetCredential(_ context.Context, principalID string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// --- Tokens ---

func (m *MemoryBackend) WriteToken(_ context.Context, token *models.Token, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := *token
	m.tokens[tokenHash] = &t
	return nil
}

func (m *MemoryBackend) GetToken(_ context.Context, tokenHash string) (*models.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryBackend) RenewToken(_ context.Context, tokenID string, expiresAt time.Time) error {
	return m.updateToken(tokenID, func(t *models.Token) { t.ExpiresAt = expiresAt })
}

func (m *MemoryBackend) MarkAuthenticated(_ context.Context, tokenID string, at time.Time) error {
	return m.updateToken(tokenID, func(t *models.Token) { t.AuthenticatedAt = at })
}

func (m *MemoryBackend) RevokeToken(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, t := range m.tokens {
		if t.ID == tokenID && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
	return nil
}

func (m *MemoryBackend) CountActiveTokens(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for _, t := range m.tokens {
		if t.RevokedAt == nil && (t.ExpiresAt.IsZero() || t.ExpiresAt.After(now)) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) updateToken(tokenID string, fn func(*models.Token)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.ID == tokenID && t.RevokedAt == nil {
			fn(t)
			return nil
		}
	}
	return ErrNotFound
}

// --- Audit events ---

func (m *MemoryBackend) AppendAuditEvent(_ context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *event
	m.events = append(m.events, &e)
	return nil
}

func (m *MemoryBackend) QueryRecentEvents(_ context.Context, filter RecentFilter) ([]*models.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEvent
	for _, e := range m.events {
		if e.PrincipalID != filter.PrincipalID || e.Timestamp.Before(filter.Since) {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Result != "" && e.Result != filter.Result {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryBackend) QueryAuditEvents(_ context.Context, filter AuditFilter) ([]*models.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEvent
	for _, e := range m.events {
		if filter.PrincipalID != "" && e.PrincipalID != filter.PrincipalID {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return page(out, filter.Offset, filter.Limit), nil
}

// Events returns every stored event in append order.
func (m *MemoryBackend) Events() []*models.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditEvent(nil), m.events...)
}

// --- Security alerts ---

func (m *MemoryBackend) AppendSecurityAlert(_ context.Context, alert *models.SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := *alert
	m.alerts = append(m.alerts, &a)
	return nil
}

func (m *MemoryBackend) QueryUnresolvedAlerts(_ context.Context, limit int) ([]*models.SecurityAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SecurityAlert
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if !m.alerts[i].Resolved {
			out = append(out, m.alerts[i])
		}
	}
	return page(out, 0, limit), nil
}

// Alerts returns every stored alert in append order.
func (m *MemoryBackend) Alerts() []*models.SecurityAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.SecurityAlert(nil), m.alerts...)
}

// --- Alert coalescing ---

// Claim records key for ttl and reports whether this call was the first to
// do so.
func (m *MemoryBackend) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	for k, exp := range m.claims {
		if !now.Before(exp) {
			delete(m.claims, k)
		}
	}
	m.claims[key] = now.Add(ttl)
	return true, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
