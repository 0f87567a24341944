package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/org/authcore/pkg/models"
)

// TokenIdentity is the identity provider for one bearer token. It caches the
// token record and re-reads it when a refresh is forced.
type TokenIdentity struct {
	svc       *Service
	plaintext string

	mu    sync.Mutex
	token *models.Token
}

// Identity returns the identity provider for plaintext.
func (s *Service) Identity(plaintext string) *TokenIdentity {
	return &TokenIdentity{svc: s, plaintext: plaintext}
}

// BoundIdentity returns the identity provider for an already validated token.
func (s *Service) BoundIdentity(plaintext string, token *models.Token) *TokenIdentity {
	return &TokenIdentity{svc: s, plaintext: plaintext, token: token}
}

// CurrentPrincipal returns the principal behind the token, or nil when the
// token is unknown, expired or revoked.
func (i *TokenIdentity) CurrentPrincipal(ctx context.Context) (*models.Principal, error) {
	tok, err := i.load(ctx, false)
	if err != nil || tok == nil {
		return nil, err
	}
	return i.svc.Principal(tok), nil
}

// TokenInfo returns the token's validity window. forceRefresh bypasses the cache.
func (i *TokenIdentity) TokenInfo(ctx context.Context, forceRefresh bool) (models.TokenInfo, error) {
	tok, err := i.load(ctx, forceRefresh)
	if err != nil {
		return models.TokenInfo{}, err
	}
	if tok == nil {
		return models.TokenInfo{}, ErrInvalidToken
	}
	return tok.Info(), nil
}

// ForceRefresh renews the token.
func (i *TokenIdentity) ForceRefresh(ctx context.Context) error {
	tok, err := i.load(ctx, true)
	if err != nil {
		return err
	}
	if tok == nil {
		return ErrInvalidToken
	}
	renewed, err := i.svc.RenewToken(ctx, tok)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.token = renewed
	i.mu.Unlock()
	return nil
}

// Token returns the validated token record, or nil.
func (i *TokenIdentity) Token(ctx context.Context) (*models.Token, error) {
	return i.load(ctx, false)
}

func (i *TokenIdentity) load(ctx context.Context, force bool) (*models.Token, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.token != nil && !force {
		if i.token.ExpiredAt(i.svc.opts.Clock()) {
			return nil, nil
		}
		return i.token, nil
	}
	tok, err := i.svc.ValidateToken(ctx, i.plaintext)
	if err != nil {
		i.token = nil
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenRevoked) {
			return nil, nil
		}
		return nil, err
	}
	i.token = tok
	return tok, nil
}
