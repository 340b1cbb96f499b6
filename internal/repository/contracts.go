package repository

import (
	"context"
	"time"

	"github.com/xela07ax/clearing-house/internal/domain"
)

// Контракты хранилища. Ядро зависит только от них; конкретный бэкенд
// (postgres / mongo / memory) выбирается на этапе сборки в main.
// Три операции обязаны быть атомарными на стороне БД (одна условная
// read-modify-write, без read-then-write в два шага):
//   - SequenceRepository.Next (глобальный счетчик),
//   - MasterKeyRepository.Insert (не более одного мастер-ключа),
//   - BucketRepository.AppendDocument (защита вместимости открытого бакета).

// SequenceRepository выдает глобальный строго возрастающий номер транзакции.
type SequenceRepository interface {
	// Next атомарно инкрементирует и возвращает счетчик. Два вызова никогда
	// не видят одно значение. Ошибка — фатальна для всей операции логирования.
	Next(ctx context.Context) (int64, error)
}

// ProcessRepository хранит процессы (тенантов).
type ProcessRepository interface {
	// Insert вставляет процесс; при существующем id возвращает Conflict.
	Insert(ctx context.Context, p domain.Process) error
	// Get возвращает nil, nil если процесса нет.
	Get(ctx context.Context, pid string) (*domain.Process, error)
	Delete(ctx context.Context, pid string) error
}

// MasterKeyRepository хранит единственный мастер-ключ.
type MasterKeyRepository interface {
	// InsertMasterKey вставляет ключ, только если хранилище пусто.
	// created == false значит ключ уже есть (вставка не произошла).
	InsertMasterKey(ctx context.Context, key domain.MasterKey) (created bool, err error)
	// GetMasterKey возвращает nil, nil если ключа еще нет.
	GetMasterKey(ctx context.Context) (*domain.MasterKey, error)
	// CountMasterKeys нужен для проверки инварианта "не более одного".
	CountMasterKeys(ctx context.Context) (int64, error)
}

// DocumentTypeRepository хранит описания типов документов.
type DocumentTypeRepository interface {
	UpsertDocumentType(ctx context.Context, dt domain.DocumentType) error
	// GetDocumentType возвращает nil, nil если тип неизвестен.
	GetDocumentType(ctx context.Context, id string) (*domain.DocumentType, error)
}

// BucketRepository — бакетированный append-only лог.
type BucketRepository interface {
	// AppendDocument кладет документ в самый свежий открытый бакет процесса
	// (fill < capacity) или атомарно создает новый. Условие по вместимости
	// проверяется тем же запросом, что и вставка.
	AppendDocument(ctx context.Context, doc domain.Document) error

	// GetByTC ищет документ по глобальному номеру транзакции,
	// вне зависимости от процесса (нужно hash chain).
	GetByTC(ctx context.Context, tc int64) (*domain.Document, error)

	// GetDocument — точечная выборка по id внутри процесса. nil, nil если нет.
	GetDocument(ctx context.Context, pid, docID string) (*domain.Document, error)

	// RemoveDocument — best-effort компенсация: выкидывает осиротевший
	// документ, у которого не срослись последующие шаги записи.
	RemoveDocument(ctx context.Context, pid, docID string) error

	// FirstBucket — бакет в начале запрошенного порядка сортировки,
	// пересекающийся с диапазоном дат. nil, nil если таких нет.
	FirstBucket(ctx context.Context, pid string, order domain.SortOrder, from, to time.Time) (*domain.Bucket, error)

	// Buckets возвращает бакеты процесса, пересекающиеся с диапазоном дат,
	// отсортированные по from_ts в заданном порядке, пропустив skip штук,
	// не более limit.
	Buckets(ctx context.Context, pid string, order domain.SortOrder, from, to time.Time, skip, limit int) ([]domain.Bucket, error)

	// DocumentsByTC — для офлайн-верификации цепочки: документы с tc >= fromTC
	// по возрастанию, не более limit.
	DocumentsByTC(ctx context.Context, fromTC int64, limit int) ([]domain.Document, error)

	// DeleteProcessData удаляет все бакеты процесса (административная операция).
	DeleteProcessData(ctx context.Context, pid string) error
}
