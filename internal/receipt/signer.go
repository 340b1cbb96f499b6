// Package receipt подписывает квитанции о логировании. Подпись асимметричная
// (RSA-PSS), в заголовок кладется fingerprint открытого ключа — проверяющая
// сторона забирает ключ с /.well-known/jwks.json и валидирует квитанцию
// офлайн, не доверяя клиринговому центру в момент проверки.
package receipt

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/clearing-house/internal/domain"
)

// Claims — подписанная сводка транзакции.
type Claims struct {
	PID         string `json:"pid"`
	DocumentID  string `json:"doc_id"`
	TC          int64  `json:"tc"`
	ChainHash   string `json:"chain_hash"`
	PayloadHash string `json:"payload"` // хэш содержимого записанного документа
	ClientID    string `json:"client_id"`
	Version     string `json:"version"`
	jwt.RegisteredClaims
}

type Signer struct {
	privateKey  *rsa.PrivateKey
	fingerprint string
}

func NewSigner(privateKey *rsa.PrivateKey) (*Signer, error) {
	fp, err := Fingerprint(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Signer{privateKey: privateKey, fingerprint: fp}, nil
}

// Fingerprint — SHA-256 от DER-кодировки открытого ключа (hex).
// Используется как kid и в JWS, и в JWKS.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", domain.Wrap(domain.KindInternal, "receipt.fingerprint", "public key encode failed", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Signer) KeyID() string { return s.fingerprint }

func (s *Signer) PublicKey() *rsa.PublicKey { return &s.privateKey.PublicKey }

// Sign выпускает квитанцию (JWS, PS256) по завершенной записи.
func (s *Signer) Sign(doc *domain.Document, payloadHash, clientID string) (*domain.Receipt, error) {
	now := time.Now()
	claims := Claims{
		PID:         doc.PID,
		DocumentID:  doc.ID,
		TC:          doc.TC,
		ChainHash:   doc.ChainHash,
		PayloadHash: payloadHash,
		ClientID:    clientID,
		Version:     domain.ReceiptVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "clearing-house",
			IssuedAt: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodPS256, claims)
	token.Header["kid"] = s.fingerprint

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "receipt.sign", "signature failed", err)
	}

	return &domain.Receipt{
		Token:      signed,
		DocumentID: doc.ID,
		PID:        doc.PID,
		TC:         doc.TC,
		ChainHash:  doc.ChainHash,
		Timestamp:  now,
	}, nil
}
