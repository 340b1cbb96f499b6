package codec

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/clearing-house/internal/domain"
	"golang.org/x/crypto/chacha20poly1305"
)

func testKeyMap(t *testing.T, fields ...string) domain.KeyMap {
	t.Helper()
	km := make(domain.KeyMap, len(fields))
	for _, f := range fields {
		key := make([]byte, chacha20poly1305.KeySize)
		nonce := make([]byte, chacha20poly1305.NonceSizeX)
		_, err := rand.Read(key)
		require.NoError(t, err)
		_, err = rand.Read(nonce)
		require.NoError(t, err)
		km[f] = domain.FieldKey{Key: key, Nonce: nonce}
	}
	return km
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	km := testKeyMap(t, "header", "payload")
	parts := map[string][]byte{
		"header":  []byte(`{"from":"a"}`),
		"payload": []byte("hello"),
	}

	cipher, err := EncryptParts(parts, km)
	require.NoError(t, err)
	assert.NotEqual(t, parts["payload"], cipher["payload"])

	plain, err := DecryptParts(cipher, km)
	require.NoError(t, err)
	assert.Equal(t, parts, plain)
}

func TestDecryptWithUnrelatedKeyMapFails(t *testing.T) {
	km := testKeyMap(t, "payload")
	cipher, err := EncryptParts(map[string][]byte{"payload": []byte("secret")}, km)
	require.NoError(t, err)

	other := testKeyMap(t, "payload")
	_, err = DecryptParts(cipher, other)
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
}

func TestMissingFieldKey(t *testing.T) {
	km := testKeyMap(t, "header")

	_, err := EncryptParts(map[string][]byte{"payload": []byte("x")}, km)
	require.Error(t, err)

	_, err = DecryptParts(map[string][]byte{"payload": []byte("x")}, km)
	require.Error(t, err)
}

func TestTamperedCiphertextFails(t *testing.T) {
	km := testKeyMap(t, "payload")
	cipher, err := EncryptParts(map[string][]byte{"payload": []byte("secret")}, km)
	require.NoError(t, err)

	cipher["payload"][0] ^= 0xFF
	_, err = DecryptParts(cipher, km)
	require.Error(t, err)
}

func TestCiphertextBoundToFieldName(t *testing.T) {
	// Один и тот же ключ на два поля: подмена шифртекста между полями
	// должна ломаться об AAD.
	fk := testKeyMap(t, "header")["header"]
	km := domain.KeyMap{"header": fk, "payload": fk}

	cipher, err := EncryptParts(map[string][]byte{"header": []byte("h")}, km)
	require.NoError(t, err)

	_, err = DecryptParts(map[string][]byte{"payload": cipher["header"]}, km)
	require.Error(t, err)
}
