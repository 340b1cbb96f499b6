// Package codec шифрует и расшифровывает поля документа ключами из KeyMap.
// Каждое объявленное поле — своим ключом и nonce (XChaCha20-Poly1305),
// AAD — имя поля, чтобы шифртексты нельзя было переставить между полями.
package codec

import (
	"github.com/xela07ax/clearing-house/internal/domain"
	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptParts шифрует каждое поле независимо. Поле без ключа в KeyMap —
// ошибка: молча пропустить plaintext в хранилище нельзя.
func EncryptParts(parts map[string][]byte, km domain.KeyMap) (map[string][]byte, error) {
	const op = "codec.encrypt"

	out := make(map[string][]byte, len(parts))
	for name, plain := range parts {
		fk, ok := km[name]
		if !ok {
			return nil, domain.E(domain.KindInternal, op, "no key for field "+name)
		}
		aead, err := chacha20poly1305.NewX(fk.Key)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, op, "cipher init failed for field "+name, err)
		}
		out[name] = aead.Seal(nil, fk.Nonce, plain, []byte(name))
	}
	return out, nil
}

// DecryptParts — обратная операция. Любой отказ аутентификации валит
// расшифровку всего документа; вызывающий слой трактует это как NotFound,
// не раскрывая наблюдателю факт порчи шифртекста.
func DecryptParts(parts map[string][]byte, km domain.KeyMap) (map[string][]byte, error) {
	const op = "codec.decrypt"

	out := make(map[string][]byte, len(parts))
	for name, ct := range parts {
		fk, ok := km[name]
		if !ok {
			return nil, domain.E(domain.KindInternal, op, "no key for field "+name)
		}
		aead, err := chacha20poly1305.NewX(fk.Key)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, op, "cipher init failed for field "+name, err)
		}
		plain, err := aead.Open(nil, fk.Nonce, ct, []byte(name))
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, op, "authentication failed for field "+name, err)
		}
		out[name] = plain
	}
	return out, nil
}
