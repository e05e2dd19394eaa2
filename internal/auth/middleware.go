package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// QueryTokenParam carries the token for clients that cannot set headers, such as browser WebSockets.
const QueryTokenParam = "access_token"

// Skipper allows callers to bypass authentication for specific requests.
type Skipper func(r *http.Request) bool

// Middleware provides HTTP middleware for bearer-token validation.
type Middleware struct {
	Config  Config
	Skipper Skipper
	// QueryPaths lists paths that also accept the token as the access_token query parameter.
	QueryPaths map[string]bool
}

// NewMiddleware constructs a middleware that skips the public probes and accepts query tokens on
// queryPaths.
func NewMiddleware(cfg Config, queryPaths ...string) Middleware {
	paths := make(map[string]bool, len(queryPaths))
	for _, p := range queryPaths {
		paths[p] = true
	}
	return Middleware{Config: cfg, Skipper: PublicPaths, QueryPaths: paths}
}

// PublicPaths skips health probes, metrics and CORS preflights.
func PublicPaths(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	switch r.URL.Path {
	case "/healthz", "/v1/health", "/metrics":
		return true
	}
	return false
}

// Wrap wraps an http.Handler with authentication.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.parseRequest(r)
		if err != nil {
			detail := "invalid bearer token"
			if errors.Is(err, ErrMissingToken) {
				detail = "missing bearer token"
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", detail)
			return
		}
		ctx := WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects requests whose claims lack scope.
func RequireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if !claims.HasScope(scope) {
			writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
			return
		}
		next(w, r)
	}
}

func (m Middleware) parseRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if m.QueryPaths[r.URL.Path] {
			return Parse(r.URL.Query().Get(QueryTokenParam), m.Config)
		}
		return nil, ErrMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return nil, ErrInvalidToken
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return Parse(token, m.Config)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"type": code, "detail": detail})
}
