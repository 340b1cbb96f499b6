package receipt

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
)

// JWK — открытый RSA ключ в формате JSON Web Key (RFC 7517).
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

// KeySet собирает публикуемый набор ключей для /.well-known/jwks.json.
func KeySet(pub *rsa.PublicKey, kid string) JWKS {
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Alg: "PS256",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

// JWKSHandler отдает набор ключей; содержимое стабильно на все время жизни
// процесса, поэтому маршалим один раз.
func JWKSHandler(pub *rsa.PublicKey, kid string) http.Handler {
	payload, _ := json.Marshal(KeySet(pub, kid))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	})
}
