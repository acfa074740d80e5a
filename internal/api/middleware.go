package api

import (
	"net/http"

	"github.com/mattjoyce/dispatchd/internal/auth"
)

// authMiddleware rejects any protected request whose bearer token
// doesn't match one of the server's configured tokens. An empty token
// list means the admin API was enabled without any tokens configured,
// which rejects everything rather than silently running open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !auth.Authenticate(token, s.config.Tokens) {
			s.writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
