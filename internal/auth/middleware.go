package auth

import (
	"errors"
	"net/http"

	"github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/internal/transport"
	"github.com/pickandplay/guitar-api/pkg/logger"
)

// Middleware resolves the caller identity for downstream handlers.
type Middleware struct {
	*transport.BaseHandler
	verifier TokenVerifier
}

func NewMiddleware(base *transport.BaseHandler, verifier TokenVerifier) *Middleware {
	return &Middleware{
		BaseHandler: base,
		verifier:    verifier,
	}
}

// Resolve puts the user id of a valid bearer token into the request context.
// Requests without a token continue as guests; a token that does not verify is a 401.
func (m *Middleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.ExtractTokenFromHeader(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		tokenPrefix := token
		if len(token) > 20 {
			tokenPrefix = token[:20]
		}

		claims, err := m.verifier.ValidateToken(token)
		if err != nil {
			m.Logger.Warn("token validation failed", "error", err, "token_prefix", tokenPrefix)
			if errors.Is(err, ErrTokenExpired) {
				m.HandleError(w, internal.ErrTokenExpired)
				return
			}
			m.HandleError(w, internal.ErrInvalidToken)
			return
		}

		userID, err := claims.ID()
		if err != nil {
			m.Logger.Warn("token carries no usable user id", "error", err, "token_prefix", tokenPrefix)
			m.HandleError(w, internal.ErrInvalidToken)
			return
		}

		ctx := internal.ContextWithUserID(r.Context(), userID)
		ctx = logger.With(ctx, "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
