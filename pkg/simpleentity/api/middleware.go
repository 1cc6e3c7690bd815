package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

// AgentHeader names the caller when no token authority is configured
const AgentHeader = "X-Agent"

// NewTokenAuth returns an HS256 token authority for secret
func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// Agent puts the calling agent into the request context. With a token
// authority the agent is the token's "sub" claim and a missing token means
// anonymous. Without one the X-Agent header is trusted.
func Agent(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	if ja == nil {
		return headerAgent
	}
	return func(next http.Handler) http.Handler {
		return jwtauth.Verifier(ja)(tokenAgent(next))
	}
}

func headerAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if agent := r.Header.Get(AgentHeader); agent != "" {
			r = r.WithContext(simpleentity.WithAgent(r.Context(), agent))
		}
		next.ServeHTTP(w, r)
	})
}

func tokenAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if errors.Is(err, jwtauth.ErrNoTokenFound) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{Error: "unauthorized", Message: err.Error()})
			return
		}

		if sub, ok := claims["sub"].(string); ok && sub != "" {
			r = r.WithContext(simpleentity.WithAgent(r.Context(), sub))
		}
		next.ServeHTTP(w, r)
	})
}
