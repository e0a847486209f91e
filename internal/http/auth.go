package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const actorKey contextKey = "actor"

// Actor is the authenticated caller. Accounts live in the external auth
// service; this process only reads its tokens.
type Actor struct {
	ID   string
	Role string
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves the caller of a request. Without a secret it trusts
// the X-User-ID header, which is meant for local runs behind a gateway.
type Authenticator struct {
	Secret []byte
}

var (
	errMissingToken = errors.New("missing Authorization header")
	errBadToken     = errors.New("invalid or expired token")
)

func (a *Authenticator) Actor(r *http.Request) (Actor, error) {
	if len(a.Secret) == 0 {
		id := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if id == "" {
			return Actor{}, errMissingToken
		}
		return Actor{ID: id, Role: r.Header.Get("X-User-Role")}, nil
	}
	tokenStr := bearer(r)
	if tokenStr == "" {
		return Actor{}, errMissingToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || claims.Subject == "" {
		return Actor{}, errBadToken
	}
	return Actor{ID: claims.Subject, Role: claims.Role}, nil
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		// browsers cannot set headers on websocket upgrades
		return r.URL.Query().Get("token")
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.Auth.Actor(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{Code: "UNAUTHENTICATED", Message: err.Error()}})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey).(Actor)
	return a
}
