package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/org/authcore/internal/audit"
	"github.com/org/authcore/internal/permission"
	"github.com/org/authcore/internal/storage"
	"github.com/org/authcore/pkg/models"
)

const tokenPrefix = "act_"

// DefaultTokenTTL is the lifetime of a freshly issued or renewed token.
const DefaultTokenTTL = time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid principal or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrUnknownRole        = errors.New("unknown role")
)

// Store is the persistence the Service needs.
type Store interface {
	storage.CredentialStore
	storage.TokenStore
}

// Options configures a Service.
type Options struct {
	TokenTTL   time.Duration
	BcryptCost int
	Clock      func() time.Time
}

// Service authenticates principals and manages their session tokens.
type Service struct {
	store   Store
	catalog *permission.Catalog
	auditor *audit.Writer
	opts    Options
}

// NewService creates a Service. auditor records logins and logouts.
func NewService(store Store, catalog *permission.Catalog, auditor *audit.Writer, opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = defaultBcryptCost
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{store: store, catalog: catalog, auditor: auditor, opts: opts}
}

// issueToken generates a new token for principal and persists its hash.
// Returns the token model and the plaintext token string (shown once to the caller).
func (s *Service) issueToken(ctx context.Context, principalID string, role models.Role) (*models.Token, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}
	plaintext := tokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	now := s.opts.Clock().UTC()
	t := &models.Token{
		ID:              uuid.NewString(),
		PrincipalID:     principalID,
		Role:            role,
		TTL:             s.opts.TokenTTL,
		CreatedAt:       now,
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(s.opts.TokenTTL),
	}
	if err := s.store.WriteToken(ctx, t, HashToken(plaintext)); err != nil {
		return nil, "", fmt.Errorf("persisting token: %w", err)
	}
	return t, plaintext, nil
}

// ValidateToken looks up a token by its plaintext value.
// Returns error if not found, expired, or revoked.
func (s *Service) ValidateToken(ctx context.Context, plaintext string) (*models.Token, error) {
	token, err := s.store.GetToken(ctx, HashToken(plaintext))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if token.IsRevoked() {
		return nil, ErrTokenRevoked
	}
	if token.ExpiredAt(s.opts.Clock()) {
		return nil, ErrTokenExpired
	}
	return token, nil
}

// RenewToken extends the token's expiry by the configured TTL from now.
func (s *Service) RenewToken(ctx context.Context, token *models.Token) (*models.Token, error) {
	expires := s.opts.Clock().UTC().Add(s.opts.TokenTTL)
	if err := s.store.RenewToken(ctx, token.ID, expires); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("renewing token: %w", err)
	}
	renewed := *token
	renewed.ExpiresAt = expires
	return &renewed, nil
}

// Principal materializes the principal a token speaks for.
func (s *Service) Principal(token *models.Token) *models.Principal {
	return s.catalog.NewPrincipal(token.PrincipalID, token.Role)
}

// HashToken returns the SHA-256 hex hash of a plaintext token. Exported for use by middleware.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
