package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/org/authcore/internal/auth"
	"github.com/org/authcore/internal/storage"
	"github.com/org/authcore/pkg/models"
)

type createPrincipalRequest struct {
	PrincipalID string      `json:"principal_id" validate:"required,max=128"`
	Role        models.Role `json:"role" validate:"required"`
	Password    string      `json:"password" validate:"required,min=8"`
}

func (s *Server) createPrincipal(ctx context.Context, req createPrincipalRequest) (string, error) {
	if err := s.tokens.CreatePrincipal(ctx, req.PrincipalID, req.Role, req.Password); err != nil {
		return "", err
	}
	return req.PrincipalID, nil
}

// CreatePrincipalHandler handles POST /v1/admin/principals
func (s *Server) CreatePrincipalHandler(w http.ResponseWriter, r *http.Request) {
	var req createPrincipalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, decision, err := s.createPrincipalAction.Execute(r.Context(), s.sessionFor(r), req)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "principal already exists")
		return
	case errors.Is(err, auth.ErrUnknownRole):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !decision.Allowed {
		writeDenied(w, decision)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"data": map[string]any{"principal_id": id, "role": req.Role},
	})
}
