package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/org/authcore/internal/audit"
	"github.com/org/authcore/internal/auth"
)

// requestIDMiddleware attaches a request ID to each request. The ID doubles
// as the audit correlation id, so an inbound X-Request-ID is honoured.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := audit.WithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware validates the token header and attaches the token and its
// identity provider to the context.
func authMiddleware(tokens *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plaintext := r.Header.Get(TokenHeader)
			if plaintext == "" {
				writeError(w, http.StatusUnauthorized, "missing "+TokenHeader+" header")
				return
			}
			token, err := tokens.ValidateToken(r.Context(), plaintext)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			ctx := withToken(r.Context(), token, tokens.BoundIdentity(plaintext, token))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}
