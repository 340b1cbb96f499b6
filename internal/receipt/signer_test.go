package receipt

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/clearing-house/internal/domain"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	s, err := NewSigner(key)
	require.NoError(t, err)
	return s
}

func TestSignAndVerifyOffline(t *testing.T) {
	s := newTestSigner(t)
	doc := &domain.Document{
		ID:        "doc-1",
		PID:       "p1",
		TC:        7,
		TS:        time.Now(),
		ChainHash: "abc123",
	}

	rcpt, err := s.Sign(doc, "payload-hash", "client-a")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", rcpt.DocumentID)
	assert.Equal(t, int64(7), rcpt.TC)
	assert.Equal(t, "abc123", rcpt.ChainHash)

	// Проверка так, как это сделает внешняя сторона: только открытый ключ
	var claims Claims
	parsed, err := jwt.ParseWithClaims(rcpt.Token, &claims, func(tok *jwt.Token) (interface{}, error) {
		assert.Equal(t, jwt.SigningMethodPS256.Alg(), tok.Method.Alg())
		assert.Equal(t, s.KeyID(), tok.Header["kid"])
		return s.PublicKey(), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "p1", claims.PID)
	assert.Equal(t, "doc-1", claims.DocumentID)
	assert.Equal(t, int64(7), claims.TC)
	assert.Equal(t, "abc123", claims.ChainHash)
	assert.Equal(t, "payload-hash", claims.PayloadHash)
	assert.Equal(t, "client-a", claims.ClientID)
	assert.Equal(t, domain.ReceiptVersion, claims.Version)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	s := newTestSigner(t)
	rcpt, err := s.Sign(&domain.Document{ID: "d", PID: "p"}, "h", "c")
	require.NoError(t, err)

	stranger := newTestSigner(t)
	_, err = jwt.ParseWithClaims(rcpt.Token, &Claims{}, func(tok *jwt.Token) (interface{}, error) {
		return stranger.PublicKey(), nil
	})
	require.Error(t, err)
}

func TestFingerprintMatchesJWKS(t *testing.T) {
	s := newTestSigner(t)

	set := KeySet(s.PublicKey(), s.KeyID())
	require.Len(t, set.Keys, 1)
	assert.Equal(t, s.KeyID(), set.Keys[0].Kid)
	assert.Equal(t, "PS256", set.Keys[0].Alg)
	assert.Equal(t, "RSA", set.Keys[0].Kty)
	assert.NotEmpty(t, set.Keys[0].N)
	assert.NotEmpty(t, set.Keys[0].E)

	// Fingerprint детерминирован для одного ключа
	again, err := Fingerprint(s.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, s.KeyID(), again)
}
