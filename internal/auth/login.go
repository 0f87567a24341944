package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/org/authcore/internal/storage"
	"github.com/org/authcore/pkg/models"
)

const defaultBcryptCost = bcrypt.DefaultCost

// dummyHash is compared against when the principal does not exist so that
// unknown and known principals take similar time to reject.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("authcore-dummy-password"), bcrypt.MinCost)

// CreatePrincipal stores credentials for a new principal.
func (s *Service) CreatePrincipal(ctx context.Context, principalID string, role models.Role, password string) error {
	if !s.knownRole(role) {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	err = s.store.WriteCredential(ctx, &models.Credential{
		PrincipalID:  principalID,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    s.opts.Clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// Login checks the password and issues a token. Every attempt is audited.
func (s *Service) Login(ctx context.Context, principalID, password string) (*models.Token, string, error) {
	cred, err := s.checkPassword(ctx, principalID, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.auditor.LogLogin(ctx, principalID, "", false, map[string]any{"reason": err.Error()})
		}
		return nil, "", err
	}

	token, plaintext, err := s.issueToken(ctx, cred.PrincipalID, cred.Role)
	if err != nil {
		return nil, "", err
	}
	s.auditor.LogLogin(ctx, cred.PrincipalID, cred.Role, true, map[string]any{"token_id": token.ID})
	return token, plaintext, nil
}

// Reauthenticate re-checks the password for the token's principal and resets
// its authentication time, satisfying recent-authentication requirements.
func (s *Service) Reauthenticate(ctx context.Context, token *models.Token, password string) (*models.Token, error) {
	if _, err := s.checkPassword(ctx, token.PrincipalID, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.auditor.LogLogin(ctx, token.PrincipalID, token.Role, false, map[string]any{"reason": err.Error(), "step_up": true})
		}
		return nil, err
	}
	now := s.opts.Clock().UTC()
	if err := s.store.MarkAuthenticated(ctx, token.ID, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("marking authentication: %w", err)
	}
	s.auditor.LogLogin(ctx, token.PrincipalID, token.Role, true, map[string]any{"token_id": token.ID, "step_up": true})
	updated := *token
	updated.AuthenticatedAt = now
	return &updated, nil
}

// Logout revokes the token and records the sign-out.
func (s *Service) Logout(ctx context.Context, token *models.Token) error {
	if err := s.store.RevokeToken(ctx, token.ID); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	s.auditor.LogLogout(ctx, s.Principal(token))
	return nil
}

func (s *Service) checkPassword(ctx context.Context, principalID, password string) (*models.Credential, error) {
	cred, err := s.store.GetCredential(ctx, principalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			bcrypt.CompareHashAndPassword(dummyHash, []byte(password)) //nolint:errcheck
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return cred, nil
}

func (s *Service) knownRole(role models.Role) bool {
	for _, r := range s.catalog.Roles() {
		if r == role {
			return true
		}
	}
	return false
}
