package api

import (
	"context"

	"github.com/org/authcore/internal/auth"
	"github.com/org/authcore/pkg/models"
)

type contextKey string

const (
	ctxKeyToken    contextKey = "token"
	ctxKeyIdentity contextKey = "identity"
)

func withToken(ctx context.Context, t *models.Token, id *auth.TokenIdentity) context.Context {
	ctx = context.WithValue(ctx, ctxKeyToken, t)
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

func tokenFromCtx(ctx context.Context) *models.Token {
	t, _ := ctx.Value(ctxKeyToken).(*models.Token)
	return t
}

func identityFromCtx(ctx context.Context) *auth.TokenIdentity {
	id, _ := ctx.Value(ctxKeyIdentity).(*auth.TokenIdentity)
	return id
}
