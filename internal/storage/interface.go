package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/authcore/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// LogStore is the append-only Durable Log Store for audit events and
// security alerts. Nothing here updates or deletes an event.
type LogStore interface {
	AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error
	QueryRecentEvents(ctx context.Context, filter RecentFilter) ([]*models.AuditEvent, error)
	QueryAuditEvents(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error)

	AppendSecurityAlert(ctx context.Context, alert *models.SecurityAlert) error
	QueryUnresolvedAlerts(ctx context.Context, limit int) ([]*models.SecurityAlert, error)
}

// CredentialStore persists principal login credentials.
type CredentialStore interface {
	WriteCredential(ctx context.Context, cred *models.Credential) error
	GetCredential(ctx context.Context, principalID string) (*models.Credential, error)
}

// TokenStore persists issued session tokens by hash.
type TokenStore interface {
	WriteToken(ctx context.Context, token *models.Token, tokenHash string) error
	GetToken(ctx context.Context, tokenHash string) (*models.Token, error)
	RenewToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	MarkAuthenticated(ctx context.Context, tokenID string, at time.Time) error
	RevokeToken(ctx context.Context, tokenID string) error
	CountActiveTokens(ctx context.Context) (int64, error)
}

// Backend is the full persistence surface used by the server.
type Backend interface {
	LogStore
	CredentialStore
	TokenStore

	Close()
}

// RecentFilter selects same-principal events newer than Since. Empty Action
// or Result match anything.
type RecentFilter struct {
	PrincipalID string
	Action      string
	Result      models.Result
	Since       time.Time
}

// AuditFilter specifies query parameters for paged audit log retrieval.
type AuditFilter struct {
	PrincipalID string
	Since       *time.Time
	Limit       int
	Offset      int
}
