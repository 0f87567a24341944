package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/org/authcore/internal/auth"
	"github.com/org/authcore/internal/observer"
	"github.com/org/authcore/pkg/models"
)

type tokenView struct {
	ID              string              `json:"id"`
	PrincipalID     string              `json:"principal_id"`
	Role            models.Role         `json:"role"`
	Permissions     []models.Permission `json:"permissions"`
	CreatedAt       time.Time           `json:"created_at"`
	AuthenticatedAt time.Time           `json:"authenticated_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
}

func (s *Server) tokenView(t *models.Token) tokenView {
	return tokenView{
		ID:              t.ID,
		PrincipalID:     t.PrincipalID,
		Role:            t.Role,
		Permissions:     s.catalog.Permissions(t.Role),
		CreatedAt:       t.CreatedAt,
		AuthenticatedAt: t.AuthenticatedAt,
		ExpiresAt:       t.ExpiresAt,
	}
}

// LoginHandler handles POST /v1/auth/login
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrincipalID string `json:"principal_id" validate:"required"`
		Password    string `json:"password" validate:"required"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, plaintext, err := s.tokens.Login(r.Context(), req.PrincipalID, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"client_token":   plaintext,
			"principal_id":   token.PrincipalID,
			"role":           token.Role,
			"lease_duration": int(token.TTL.Seconds()),
			"expires_at":     token.ExpiresAt,
		},
	})
}

// LogoutHandler handles POST /v1/auth/logout
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	if err := s.tokens.Logout(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReauthenticateHandler handles POST /v1/auth/reauthenticate
func (s *Server) ReauthenticateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password" validate:"required"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.tokens.Reauthenticate(r.Context(), tokenFromCtx(r.Context()), req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.tokenView(updated)})
}

// TokenLookupSelfHandler handles GET /v1/auth/token/lookup-self
func (s *Server) TokenLookupSelfHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.tokenView(tokenFromCtx(r.Context()))})
}

// TokenRenewHandler handles POST /v1/auth/token/renew-self
func (s *Server) TokenRenewHandler(w http.ResponseWriter, r *http.Request) {
	renewed, err := s.tokens.RenewToken(r.Context(), tokenFromCtx(r.Context()))
	if err != nil {
		if errors.Is(err, auth.ErrTokenRevoked) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.tokenView(renewed)})
}

// PermissionsHandler handles GET /v1/auth/permissions?perm=...&module=...&sensitive=...
// Sensitive permissions in the probe are audit-logged; the sensitive
// parameter overrides the default sensitive set.
func (s *Server) PermissionsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perms := make([]models.Permission, 0, len(q["perm"]))
	for _, p := range q["perm"] {
		perms = append(perms, models.Permission(p))
	}
	if len(perms) == 0 && len(q["module"]) == 0 {
		writeError(w, http.StatusBadRequest, "at least one perm or module query parameter is required")
		return
	}

	opts := observer.Options{Permissions: perms}
	for _, p := range q["sensitive"] {
		opts.Sensitive = append(opts.Sensitive, models.Permission(p))
	}
	obs := observer.New(identityFromCtx(r.Context()), s.catalog, s.sessionFor(r), s.auditor, opts)
	snap := obs.Check(r.Context())

	token := tokenFromCtx(r.Context())
	modules := make(map[models.Module]bool, len(q["module"]))
	for _, m := range q["module"] {
		modules[models.Module(m)] = s.catalog.CanAccessModule(token.Role, models.Module(m))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"principal_id":  snap.PrincipalID,
			"permissions":   snap.Granted,
			"modules":       modules,
			"session_state": snap.Session.State.String(),
		},
	})
}
