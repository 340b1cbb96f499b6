// Package vault — хранилище ключей: единственный мастер-ключ и операции
// заворачивания/разворачивания эфемерных ключей полей документа.
// Открытые ключи полей никогда не персистятся — наружу уходит только
// шифртекст key map'а под мастер-ключом.
package vault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"sync"
	"time"

	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const masterKeyID = "master"

// WrappedItem — пара (документ, завернутый key map) для батч-разворачивания.
type WrappedItem struct {
	DocumentID string `json:"document_id"`
	Wrapped    []byte `json:"wrapped"`
}

type Service struct {
	keys     repository.MasterKeyRepository
	docTypes repository.DocumentTypeRepository
	logger   *zap.Logger

	mu     sync.Mutex
	cached *domain.MasterKey // мастер-ключ неизменяем, читаем из БД один раз
}

func NewService(keys repository.MasterKeyRepository, docTypes repository.DocumentTypeRepository, logger *zap.Logger) *Service {
	return &Service{
		keys:     keys,
		docTypes: docTypes,
		logger:   logger.Named("vault"),
	}
}

// Bootstrap генерирует мастер-ключ: независимые salt и input key material
// комбинируются через HKDF-Extract (SHA-256). Повторный вызов — Conflict,
// существующий ключ никогда не перезаписывается.
func (s *Service) Bootstrap(ctx context.Context) error {
	const op = "vault.bootstrap"

	count, err := s.keys.CountMasterKeys(ctx)
	if err != nil {
		return domain.Wrap(domain.KindInternal, op, "key store unavailable", err)
	}
	if count > 1 {
		// Инвариант "не более одного" сломан на уровне хранилища —
		// это порча данных, а не восстановимая ошибка
		return domain.E(domain.KindInternal, op, "key store corrupted: multiple master keys")
	}
	if count == 1 {
		return domain.E(domain.KindConflict, op, "master key already exists")
	}

	salt := make([]byte, 32)
	ikm := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return domain.Wrap(domain.KindInternal, op, "entropy failure", err)
	}
	if _, err := rand.Read(ikm); err != nil {
		return domain.Wrap(domain.KindInternal, op, "entropy failure", err)
	}

	master := hkdf.Extract(sha256.New, ikm, salt)

	created, err := s.keys.InsertMasterKey(ctx, domain.MasterKey{
		ID:        masterKeyID,
		Key:       master,
		Salt:      salt,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return domain.Wrap(domain.KindInternal, op, "failed to persist master key", err)
	}
	if !created {
		// Гонка: кто-то успел раньше. Не перезаписываем.
		return domain.E(domain.KindConflict, op, "master key already exists")
	}

	s.logger.Info("master key bootstrapped")
	return nil
}

// EnsureDocumentType регистрирует тип документа (идемпотентно).
func (s *Service) EnsureDocumentType(ctx context.Context, dt domain.DocumentType) error {
	if err := s.docTypes.UpsertDocumentType(ctx, dt); err != nil {
		return domain.Wrap(domain.KindInternal, "vault.ensure_type", "failed to upsert document type", err)
	}
	return nil
}

// GenerateFieldKeys — свежий случайный ключ и nonce на каждое объявленное
// поле типа документа плюс их шифртекст под мастер-ключом.
func (s *Service) GenerateFieldKeys(ctx context.Context, docTypeID string) (domain.KeyMap, []byte, error) {
	const op = "vault.generate_keys"

	dt, err := s.docTypes.GetDocumentType(ctx, docTypeID)
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindInternal, op, "document type lookup failed", err)
	}
	if dt == nil {
		return nil, nil, domain.E(domain.KindNotFound, op, "document type not found")
	}

	km := make(domain.KeyMap, len(dt.Parts))
	for _, part := range dt.Parts {
		key := make([]byte, chacha20poly1305.KeySize)
		nonce := make([]byte, chacha20poly1305.NonceSizeX)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, domain.Wrap(domain.KindInternal, op, "entropy failure", err)
		}
		if _, err := rand.Read(nonce); err != nil {
			return nil, nil, domain.Wrap(domain.KindInternal, op, "entropy failure", err)
		}
		km[part] = domain.FieldKey{Key: key, Nonce: nonce}
	}

	wrapped, err := s.wrap(ctx, docTypeID, km)
	if err != nil {
		return nil, nil, err
	}
	return km, wrapped, nil
}

// UnwrapFieldKeys разворачивает key map одного документа.
func (s *Service) UnwrapFieldKeys(ctx context.Context, docTypeID string, wrapped []byte) (domain.KeyMap, error) {
	const op = "vault.unwrap_keys"

	dt, err := s.docTypes.GetDocumentType(ctx, docTypeID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "document type lookup failed", err)
	}
	if dt == nil {
		return nil, domain.E(domain.KindNotFound, op, "document type not found")
	}

	return s.unwrap(ctx, docTypeID, wrapped)
}

// UnwrapMany — батч для range-запросов. Частичный отказ недопустим:
// одна битая запись валит весь батч, иначе клиент получит неоднозначный
// частично расшифрованный результат.
func (s *Service) UnwrapMany(ctx context.Context, docTypeID string, items []WrappedItem) (map[string]domain.KeyMap, error) {
	const op = "vault.unwrap_many"

	dt, err := s.docTypes.GetDocumentType(ctx, docTypeID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "document type lookup failed", err)
	}
	if dt == nil {
		return nil, domain.E(domain.KindNotFound, op, "document type not found")
	}

	out := make(map[string]domain.KeyMap, len(items))
	for _, item := range items {
		km, err := s.unwrap(ctx, docTypeID, item.Wrapped)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, op, "batch unwrap failed on document "+item.DocumentID, err)
		}
		out[item.DocumentID] = km
	}
	return out, nil
}

func (s *Service) master(ctx context.Context) (*domain.MasterKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached, nil
	}
	mk, err := s.keys.GetMasterKey(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "vault.master", "key store unavailable", err)
	}
	if mk == nil {
		return nil, domain.E(domain.KindInternal, "vault.master", "vault not bootstrapped")
	}
	s.cached = mk
	return mk, nil
}

// wrap сериализует key map и запечатывает его XChaCha20-Poly1305 под
// мастер-ключом. Layout: nonce || ciphertext. AAD — id типа документа,
// чтобы шифртекст нельзя было подсунуть под другой тип.
func (s *Service) wrap(ctx context.Context, docTypeID string, km domain.KeyMap) ([]byte, error) {
	const op = "vault.wrap"

	mk, err := s.master(ctx)
	if err != nil {
		return nil, err
	}

	plain, err := json.Marshal(km)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "keymap marshal failed", err)
	}

	aead, err := chacha20poly1305.NewX(mk.Key)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "cipher init failed", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "entropy failure", err)
	}

	out := make([]byte, 0, len(nonce)+len(plain)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plain, []byte(docTypeID))
	return out, nil
}

func (s *Service) unwrap(ctx context.Context, docTypeID string, wrapped []byte) (domain.KeyMap, error) {
	const op = "vault.unwrap"

	mk, err := s.master(ctx)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(mk.Key)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "cipher init failed", err)
	}
	if len(wrapped) < chacha20poly1305.NonceSizeX {
		return nil, domain.E(domain.KindInternal, op, "wrapped keymap too short")
	}
	nonce := wrapped[:chacha20poly1305.NonceSizeX]
	ct := wrapped[chacha20poly1305.NonceSizeX:]

	plain, err := aead.Open(nil, nonce, ct, []byte(docTypeID))
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "keymap authentication failed", err)
	}

	var km domain.KeyMap
	if err := json.Unmarshal(plain, &km); err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "keymap decode failed", err)
	}
	return km, nil
}
