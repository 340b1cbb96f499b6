// Package clearing — ядро клирингового центра: оркестрация пути логирования
// (реестр → секвенсер → цепочка → vault → codec → бакеты → квитанция)
// и пути выборки (реестр → бакеты → vault → codec).
package clearing

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/xela07ax/clearing-house/internal/audit"
	"github.com/xela07ax/clearing-house/internal/chain"
	"github.com/xela07ax/clearing-house/internal/codec"
	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/receipt"
	"github.com/xela07ax/clearing-house/internal/registry"
	"github.com/xela07ax/clearing-house/internal/repository"
	"github.com/xela07ax/clearing-house/internal/vault"
	"go.uber.org/zap"
)

// DefaultDocType — тип документа, под которым пишутся сообщения /messages/log.
const DefaultDocType = "message"

// Имена шифруемых полей документа.
const (
	PartHeader  = "header"
	PartPayload = "payload"
)

// DefaultDocTypeParts — его шифруемые поля.
var DefaultDocTypeParts = []string{PartHeader, PartPayload}

// ProcessGuard закрывает горячий путь от административно заблокированных
// процессов. Реализуется registry.BlockList; в dev-режиме без Redis — заглушкой.
type ProcessGuard interface {
	IsBlocked(pid string) bool
}

// NoopGuard — пропускает всех (сборка без Redis).
type NoopGuard struct{}

func (NoopGuard) IsBlocked(string) bool { return false }

type Service struct {
	registry *registry.Service
	guard    ProcessGuard
	seq      repository.SequenceRepository
	buckets  repository.BucketRepository
	keys     vault.KeyProvider
	signer   *receipt.Signer
	linker   *chain.Linker
	journal  audit.Recorder
	metrics  *Metrics
	logger   *zap.Logger
}

func NewService(
	reg *registry.Service,
	guard ProcessGuard,
	seq repository.SequenceRepository,
	buckets repository.BucketRepository,
	keys vault.KeyProvider,
	signer *receipt.Signer,
	journal audit.Recorder,
	metrics *Metrics,
	logger *zap.Logger,
) *Service {
	if guard == nil {
		guard = NoopGuard{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{
		registry: reg,
		guard:    guard,
		seq:      seq,
		buckets:  buckets,
		keys:     keys,
		signer:   signer,
		linker:   chain.NewLinker(buckets),
		journal:  journal,
		metrics:  metrics,
		logger:   logger.Named("clearing"),
	}
}

// CreateProcess — явное создание процесса с дополнительными владельцами.
func (s *Service) CreateProcess(ctx context.Context, pid string, id domain.Identity, additionalOwners []string) (*domain.Process, error) {
	start := time.Now()
	p, err := s.registry.Create(ctx, pid, id.ClientID, additionalOwners)
	s.observe(ctx, audit.OpProcessCreate, id, pid, "", start, err)
	return p, err
}

// LogMessage — полный путь логирования. Возвращает подписанную квитанцию.
func (s *Service) LogMessage(ctx context.Context, pid string, id domain.Identity, parts map[string][]byte) (*domain.Receipt, error) {
	start := time.Now()

	rcpt, err := s.logMessage(ctx, pid, id, parts)
	s.observe(ctx, audit.OpLog, id, pid, receiptDocID(rcpt), start, err)
	if err == nil {
		s.metrics.LoggedDocuments.Inc()
	}
	return rcpt, err
}

func (s *Service) logMessage(ctx context.Context, pid string, id domain.Identity, parts map[string][]byte) (*domain.Receipt, error) {
	const op = "clearing.log"

	if len(parts[PartPayload]) == 0 {
		return nil, domain.E(domain.KindValidation, op, "payload is missing or empty")
	}
	if s.guard.IsBlocked(pid) {
		return nil, domain.E(domain.KindUnauthorized, op, "process is blocked")
	}

	// 1. Авторизация (неизвестный процесс автосоздается под вызывающим)
	if _, err := s.registry.AuthorizeOrCreate(ctx, pid, id.ClientID); err != nil {
		return nil, err
	}

	// 2. Резервируем глобальный номер транзакции. Без уникального tc запись
	// не существует — любая ошибка здесь фатальна для всей операции.
	tc, err := s.seq.Next(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "sequence counter failed", err)
	}

	// 3. Хэш предшественника (глобальный, по tc, не по процессу)
	chainHash, err := s.linker.PredecessorHash(ctx, tc)
	if err != nil {
		s.metrics.ChainLinkFailures.Inc()
		return nil, err
	}

	// 4. Свежие ключи полей из vault + их завернутый шифртекст
	km, wrapped, err := s.keys.GenerateFieldKeys(ctx, DefaultDocType)
	if err != nil {
		return nil, err
	}
	defer km.Zero()

	// 5. Шифруем поля
	cipherParts, err := codec.EncryptParts(parts, km)
	if err != nil {
		return nil, err
	}

	doc := domain.Document{
		ID:          uuid.New().String(),
		PID:         pid,
		TC:          tc,
		TS:          time.Now(),
		ChainHash:   chainHash,
		DocType:     DefaultDocType,
		Parts:       cipherParts,
		WrappedKeys: wrapped,
	}

	// 6. Кладем в открытый бакет (условный атомарный апдейт на стороне БД)
	if err := s.buckets.AppendDocument(ctx, doc); err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "bucket append failed", err)
	}

	// 7. Подписываем квитанцию. Если не вышло — документ уже персистентен,
	// но без квитанции он для клиента не существует: компенсируем удалением
	payloadHash := chain.HashContent(&doc)
	rcpt, err := s.signer.Sign(&doc, payloadHash, id.ClientID)
	if err != nil {
		s.compensate(ctx, pid, doc.ID)
		return nil, err
	}

	return rcpt, nil
}

// compensate best-effort удаляет осиротевший документ. Отказ самой
// компенсации логируется, но исходную ошибку не подменяет.
func (s *Service) compensate(ctx context.Context, pid, docID string) {
	if err := s.buckets.RemoveDocument(ctx, pid, docID); err != nil {
		s.logger.Error("orphan cleanup failed",
			zap.String("pid", pid),
			zap.String("doc_id", docID),
			zap.Error(err),
		)
	}
}

// Query — постраничная выборка с расшифровкой.
func (s *Service) Query(ctx context.Context, pid string, id domain.Identity, opts domain.QueryOptions) (*domain.QueryResult, error) {
	start := time.Now()
	res, err := s.query(ctx, pid, id, opts)
	s.observe(ctx, audit.OpQuery, id, pid, "", start, err)
	return res, err
}

func (s *Service) query(ctx context.Context, pid string, id domain.Identity, opts domain.QueryOptions) (*domain.QueryResult, error) {
	if s.guard.IsBlocked(pid) {
		return nil, domain.E(domain.KindUnauthorized, "clearing.query", "process is blocked")
	}
	if _, err := s.registry.GetAndAuthorize(ctx, pid, id.ClientID); err != nil {
		return nil, err
	}

	result := &domain.QueryResult{
		DateFrom:  opts.DateFrom.Format("2006-01-02"),
		DateTo:    opts.DateTo.Format("2006-01-02"),
		Page:      opts.Page,
		Size:      opts.Size,
		Order:     string(opts.Sort),
		Documents: []domain.PlainDocument{},
	}

	// 1-2. Первый релевантный бакет задает поправку offset для страницы 1
	first, err := s.buckets.FirstBucket(ctx, pid, opts.Sort, opts.DateFrom, opts.DateTo)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "clearing.query", "bucket lookup failed", err)
	}
	if first == nil {
		return result, nil
	}

	// 3-4. Сколько бакетов пропустить и с какой записи начать
	skip, startEntry := repository.PageWindow(opts.Page, opts.Size, first.Capacity, repository.CountMatching(first, opts))

	// 5. Окно не шире двух бакетов: страница пересекает максимум одну границу
	window, err := s.buckets.Buckets(ctx, pid, opts.Sort, opts.DateFrom, opts.DateTo, skip, 2)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "clearing.query", "bucket window fetch failed", err)
	}

	docs := repository.FlattenPage(window, opts, startEntry)
	if len(docs) == 0 {
		return result, nil
	}

	// Батч-разворачивание ключей: частичный отказ недопустим
	items := make([]vault.WrappedItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, vault.WrappedItem{DocumentID: d.ID, Wrapped: d.WrappedKeys})
	}
	keyMaps, err := s.keys.UnwrapMany(ctx, DefaultDocType, items)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, km := range keyMaps {
			km.Zero()
		}
	}()

	for i := range docs {
		plain, derr := s.decryptDocument(&docs[i], keyMaps[docs[i].ID])
		if derr != nil {
			// Нерасшифровываемый документ молча исключаем из выдачи:
			// наружу не должно утекать различие "нет" / "испорчен"
			s.logger.Warn("document excluded from result set",
				zap.String("pid", pid),
				zap.String("doc_id", docs[i].ID),
				zap.Error(derr),
			)
			continue
		}
		result.Documents = append(result.Documents, *plain)
	}

	return result, nil
}

// QueryByID — точечная выборка. Отсутствие и нерасшифровываемость неразличимы.
func (s *Service) QueryByID(ctx context.Context, pid, docID string, id domain.Identity) (*domain.PlainDocument, error) {
	start := time.Now()

	plain, err := s.queryByID(ctx, pid, docID, id)
	s.observe(ctx, audit.OpQuery, id, pid, docID, start, err)
	return plain, err
}

func (s *Service) queryByID(ctx context.Context, pid, docID string, id domain.Identity) (*domain.PlainDocument, error) {
	const op = "clearing.query_by_id"

	if s.guard.IsBlocked(pid) {
		return nil, domain.E(domain.KindUnauthorized, op, "process is blocked")
	}
	if _, err := s.registry.GetAndAuthorize(ctx, pid, id.ClientID); err != nil {
		return nil, err
	}

	doc, err := s.buckets.GetDocument(ctx, pid, docID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "document lookup failed", err)
	}
	if doc == nil {
		return nil, domain.E(domain.KindNotFound, op, "document not found")
	}

	km, err := s.keys.UnwrapFieldKeys(ctx, doc.DocType, doc.WrappedKeys)
	if err != nil {
		return nil, domain.E(domain.KindNotFound, op, "document not found")
	}
	defer km.Zero()

	plain, err := s.decryptDocument(doc, km)
	if err != nil {
		return nil, domain.E(domain.KindNotFound, op, "document not found")
	}
	return plain, nil
}

func (s *Service) decryptDocument(doc *domain.Document, km domain.KeyMap) (*domain.PlainDocument, error) {
	if km == nil {
		return nil, domain.E(domain.KindInternal, "clearing.decrypt", "no keys for document "+doc.ID)
	}
	plainParts, err := codec.DecryptParts(doc.Parts, km)
	if err != nil {
		return nil, err
	}
	return &domain.PlainDocument{
		ID:        doc.ID,
		PID:       doc.PID,
		TC:        doc.TC,
		TS:        doc.TS,
		ChainHash: doc.ChainHash,
		DocType:   doc.DocType,
		Parts:     plainParts,
	}, nil
}

// DeleteProcess — административное удаление процесса вместе с данными.
func (s *Service) DeleteProcess(ctx context.Context, pid string, id domain.Identity) error {
	const op = "clearing.delete_process"
	start := time.Now()

	err := s.deleteProcess(ctx, pid, id)
	s.observe(ctx, audit.OpProcessDelete, id, pid, "", start, err)
	return err
}

func (s *Service) deleteProcess(ctx context.Context, pid string, id domain.Identity) error {
	if _, err := s.registry.GetAndAuthorize(ctx, pid, id.ClientID); err != nil {
		return err
	}
	if err := s.buckets.DeleteProcessData(ctx, pid); err != nil {
		return domain.Wrap(domain.KindInternal, "clearing.delete_process", "bucket purge failed", err)
	}
	return s.registry.Delete(ctx, pid)
}

// observe — единая точка журналирования и метрик для операций ядра.
func (s *Service) observe(ctx context.Context, op audit.Operation, id domain.Identity, pid, docID string, start time.Time, err error) {
	status := "SUCCESS"
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		switch domain.KindOf(err) {
		case domain.KindUnauthorized:
			status = "DENIED"
		default:
			status = "FAILED"
		}
		s.metrics.ErrorTotal.WithLabelValues(domain.KindOf(err).String()).Inc()
	}

	s.metrics.RequestDuration.WithLabelValues(string(op), status).Observe(time.Since(start).Seconds())

	if s.journal != nil {
		s.journal.Record(audit.AccessEvent{
			ID:         uuid.New().String(),
			TraceID:    middleware.GetReqID(ctx),
			ClientID:   id.ClientID,
			PID:        pid,
			DocumentID: docID,
			Operation:  op,
			Status:     status,
			Error:      errMsg,
			Timestamp:  start,
			DurationMs: time.Since(start).Milliseconds(),
		})
	}
}

func receiptDocID(r *domain.Receipt) string {
	if r == nil {
		return ""
	}
	return r.DocumentID
}
