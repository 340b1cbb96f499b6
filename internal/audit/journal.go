package audit

/*
Журнал доступа: каждая операция логирования, выборки и расшифровки
фиксируется асинхронно, чтобы задержки записи в БД не влияли на Hot Path.

- Non-blocking: события уходят через буферизованный канал; при переполнении
  срабатывает Load Shedding — событие уходит в zap, а не теряется молча.
- Batching: накопление в памяти и пакетная запись (Bulk Insert) по таймеру
  или при достижении лимита.
- Drain Pattern: при остановке канал закрывается, воркер вычитывает остатки
  и делает финальный flush — перезапуск сервиса не теряет события.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняется журнал
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AccessEvent) error
}

type Recorder interface {
	Record(event AccessEvent)
}

type Journal struct {
	ch            chan AccessEvent
	repo          StorageInterface
	logger        *zap.Logger
	wg            sync.WaitGroup
	flushInterval time.Duration

	// mu закрывает гонку Record/Stop: канал закрывается под write-lock,
	// отправка идет под read-lock, так что send в закрытый канал невозможен.
	mu     sync.RWMutex
	closed bool
}

func NewJournal(repo StorageInterface, logger *zap.Logger, bufferSize int, flushInterval time.Duration) *Journal {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Journal{
		ch:            make(chan AccessEvent, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "journal")),
		flushInterval: flushInterval,
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
// Повторные вызовы — no-op.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Record(event AccessEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("access event dropped: journal is stopped", zap.String("id", event.ID))
		return
	}

	select {
	case j.ch <- event:
	default:
		// Канал переполнен (Backpressure) — хотя бы фиксируем в логах
		j.logger.Error("journal_buffer_overflow",
			zap.String("client_id", event.ClientID),
			zap.String("pid", event.PID),
			zap.String("operation", string(event.Operation)),
		)
	}
}

// Fill — текущая заполненность буфера (для метрик).
func (j *Journal) Fill() int { return len(j.ch) }

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]AccessEvent, 0, 100)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст может быть уже закрыт
			if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
				j.logger.Error("journal flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали всё, финальный сброс, выходим
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
