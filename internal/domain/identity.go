package domain

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — клеймы токена вызывающей стороны. Токен уже провалидирован
// внешним identity-провайдером (DAPS); мы проверяем только подпись и срок.
// ClientID — идентификатор коннектора, он же член owners процесса.
type CustomClaims struct {
	ClientID string          `json:"client_id"`
	Scopes   map[string]bool `json:"scopes,omitempty"` // напр. "admin": true
	jwt.RegisteredClaims
}

// Identity — то, что middleware кладет в контекст запроса.
type Identity struct {
	ClientID string
	Scopes   map[string]bool
}

func (i Identity) IsAdmin() bool { return i.Scopes["admin"] }

type identityCtxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext достает identity; ok == false значит middleware не отработал.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}
