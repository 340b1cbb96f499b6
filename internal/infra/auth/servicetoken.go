package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Сервисные токены ходят только между клиринговым центром и Key Vault.
// Короткий TTL: токен живет единицы секунд, утечка почти бесполезна.
const serviceAudience = "clearing-vault"

type ServiceTokenIssuer struct {
	privateKey *rsa.PrivateKey
	ttl        time.Duration
}

func NewServiceTokenIssuer(privateKey *rsa.PrivateKey, ttl time.Duration) *ServiceTokenIssuer {
	return &ServiceTokenIssuer{privateKey: privateKey, ttl: ttl}
}

// Issue выпускает короткоживущий RS256 токен для вызова vault.
func (i *ServiceTokenIssuer) Issue(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    "clearing-house",
		Subject:   subject,
		Audience:  jwt.ClaimStrings{serviceAudience},
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(i.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}
	return signed, nil
}

type ServiceTokenVerifier struct {
	publicKey *rsa.PublicKey
}

func NewServiceTokenVerifier(publicKey *rsa.PublicKey) *ServiceTokenVerifier {
	return &ServiceTokenVerifier{publicKey: publicKey}
}

// Verify проверяет подпись, срок и audience сервисного токена.
func (v *ServiceTokenVerifier) Verify(tokenStr string) (subject string, err error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	}, jwt.WithAudience(serviceAudience))

	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid service token: %w", err)
	}

	claims := token.Claims.(*jwt.RegisteredClaims)
	return claims.Subject, nil
}
