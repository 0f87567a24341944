package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/org/authcore/internal/secure"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"errors": []string{msg}})
}

// decodeJSON decodes the body into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// writeDenied renders a secure action denial. The reason field lets clients
// tell a missing permission from a step-up requirement.
func writeDenied(w http.ResponseWriter, d secure.Decision) {
	code := http.StatusForbidden
	if d.Reason == secure.DenyUnauthenticated || d.Reason == secure.DenyReauth {
		code = http.StatusUnauthorized
	}
	body := map[string]any{
		"errors": []string{d.Message()},
		"reason": d.Reason,
	}
	if len(d.Missing) > 0 {
		body["missing_permissions"] = d.Missing
	}
	writeJSON(w, code, body)
}
