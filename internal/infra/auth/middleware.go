package auth

import (
	"net/http"

	"github.com/xela07ax/clearing-house/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который реализуют и клиринговый центр, и vault
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем identity в контекст
			ctx := domain.WithIdentity(r.Context(), domain.Identity{
				ClientID: claims.ClientID,
				Scopes:   claims.Scopes,
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
