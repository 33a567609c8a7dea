package web

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
)

// authorizeRequest accepts the token from either the "token" query
// parameter (browsers cannot set headers on websocket upgrades) or an
// Authorization bearer header.
func (s *Server) authorizeRequest(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	for _, presented := range []string{
		strings.TrimSpace(r.URL.Query().Get("token")),
		bearerToken(r.Header.Get("Authorization")),
	} {
		if presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.Token)) == 1 {
			return true
		}
	}
	return false
}

// guard checks method, then token, then read-only mode, and writes the
// error response itself.
func (s *Server) guard(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	switch {
	case !slices.Contains(methods, r.Method):
		w.Header().Set("Allow", strings.Join(methods, ", "))
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	case !s.authorizeRequest(r):
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	case s.cfg.ReadOnly && r.Method != http.MethodGet && r.Method != http.MethodHead:
		writeAPIError(w, http.StatusForbidden, "READ_ONLY", "server is in read-only mode")
	default:
		return true
	}
	return false
}

func bearerToken(header string) string {
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
