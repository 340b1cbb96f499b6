package clearing

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/clearing-house/internal/audit"
	"github.com/xela07ax/clearing-house/internal/chain"
	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/receipt"
	"github.com/xela07ax/clearing-house/internal/registry"
	"github.com/xela07ax/clearing-house/internal/repository/memory"
	"github.com/xela07ax/clearing-house/internal/vault"
)

var (
	testRSAOnce sync.Once
	testRSAKey  *rsa.PrivateKey
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testRSAOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testRSAKey = k
	})
	return testRSAKey
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	journal *audit.Journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	logger := zap.NewNop()

	kv := vault.NewService(store, store, logger)
	require.NoError(t, kv.Bootstrap(ctx))
	require.NoError(t, kv.EnsureDocumentType(ctx, domain.DocumentType{
		ID:    DefaultDocType,
		PID:   domain.ReservedPID,
		Parts: DefaultDocTypeParts,
	}))

	signer, err := receipt.NewSigner(testKey(t))
	require.NoError(t, err)

	journal := audit.NewJournal(store, logger, 100, time.Hour)
	journal.Start()
	t.Cleanup(journal.Stop)

	svc := NewService(
		registry.NewService(store, logger),
		nil, // guard
		store, store, kv, signer, journal, nil, logger,
	)
	return &fixture{svc: svc, store: store, journal: journal}
}

func alice() domain.Identity { return domain.Identity{ClientID: "alice"} }
func bob() domain.Identity   { return domain.Identity{ClientID: "bob"} }

func msg(payload string) map[string][]byte {
	return map[string][]byte{
		PartHeader:  []byte(`{"src":"test"}`),
		PartPayload: []byte(payload),
	}
}

func queryAll(opts ...func(*domain.QueryOptions)) domain.QueryOptions {
	q := domain.QueryOptions{
		Page:     1,
		Size:     10,
		Sort:     domain.SortAsc,
		DateFrom: time.Now().Add(-time.Hour),
		DateTo:   time.Now().Add(time.Hour),
	}
	for _, o := range opts {
		o(&q)
	}
	return q
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProcess(ctx, "p1", alice(), nil)
	require.NoError(t, err)

	// Первая запись: генезис
	r1, err := f.svc.LogMessage(ctx, "p1", alice(), msg(`{"msg":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), r1.TC)
	assert.Equal(t, domain.GenesisHash, r1.ChainHash)
	assert.NotEmpty(t, r1.Token)

	// Вторая: ссылка на содержимое первой
	r2, err := f.svc.LogMessage(ctx, "p1", alice(), msg(`{"msg":"world"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), r2.TC)

	d0, err := f.store.GetByTC(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, chain.HashContent(d0), r2.ChainHash)

	// Выборка desc: свежая запись первой, plaintext восстановлен
	res, err := f.svc.Query(ctx, "p1", alice(), queryAll(func(q *domain.QueryOptions) {
		q.Sort = domain.SortDesc
	}))
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, int64(1), res.Documents[0].TC)
	assert.Equal(t, int64(0), res.Documents[1].TC)
	assert.Equal(t, []byte(`{"msg":"world"}`), res.Documents[0].Parts[PartPayload])
	assert.Equal(t, []byte(`{"msg":"hello"}`), res.Documents[1].Parts[PartPayload])

	// Цепочка проходит офлайн-верификацию
	checked, err := chain.Verify(ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, int64(2), checked)
}

func TestLogValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.LogMessage(ctx, "p1", alice(), map[string][]byte{PartHeader: []byte("{}")})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.svc.LogMessage(ctx, domain.ReservedPID, alice(), msg("x"))
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestLogAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Неизвестный процесс автосоздается под пишущим
	_, err := f.svc.LogMessage(ctx, "ghost", alice(), msg("a"))
	require.NoError(t, err)

	// Чужому писать нельзя
	_, err = f.svc.LogMessage(ctx, "ghost", bob(), msg("b"))
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	// И читать тоже
	_, err = f.svc.Query(ctx, "ghost", bob(), queryAll())
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	// Несуществующий процесс при чтении — NotFound, не Unauthorized
	_, err = f.svc.Query(ctx, "never-created", alice(), queryAll())
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestQueryByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rcpt, err := f.svc.LogMessage(ctx, "p1", alice(), msg("payload-x"))
	require.NoError(t, err)

	doc, err := f.svc.QueryByID(ctx, "p1", rcpt.DocumentID, alice())
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-x"), doc.Parts[PartPayload])

	_, err = f.svc.QueryByID(ctx, "p1", "no-such-doc", alice())
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = f.svc.QueryByID(ctx, "p1", rcpt.DocumentID, bob())
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
}

func TestUndecryptableDocumentLooksAbsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rcpt, err := f.svc.LogMessage(ctx, "p1", alice(), msg("secret"))
	require.NoError(t, err)

	// Портим завернутый key map прямо в хранилище
	doc, err := f.store.GetDocument(ctx, "p1", rcpt.DocumentID)
	require.NoError(t, err)
	require.NoError(t, f.store.RemoveDocument(ctx, "p1", doc.ID))
	doc.WrappedKeys[len(doc.WrappedKeys)-1] ^= 0xFF
	require.NoError(t, f.store.AppendDocument(ctx, *doc))

	// Точечная выборка неотличима от отсутствия
	_, err = f.svc.QueryByID(ctx, "p1", rcpt.DocumentID, alice())
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, "document not found", domain.PublicMessage(err))
}

func TestBlockedProcessRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blocked := blockGuard{"p1": true}
	f.svc.guard = blocked

	_, err := f.svc.LogMessage(ctx, "p1", alice(), msg("x"))
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	_, err = f.svc.Query(ctx, "p1", alice(), queryAll())
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
}

type blockGuard map[string]bool

func (g blockGuard) IsBlocked(pid string) bool { return g[pid] }

func TestDeleteProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rcpt, err := f.svc.LogMessage(ctx, "p1", alice(), msg("x"))
	require.NoError(t, err)

	// Посторонний удалить не может
	err = f.svc.DeleteProcess(ctx, "p1", bob())
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	require.NoError(t, f.svc.DeleteProcess(ctx, "p1", alice()))

	_, err = f.svc.Query(ctx, "p1", alice(), queryAll())
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	doc, err := f.store.GetDocument(ctx, "p1", rcpt.DocumentID)
	require.NoError(t, err)
	assert.Nil(t, doc, "данные процесса удалены вместе с ним")
}

func TestConcurrentLoggingSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProcess(ctx, "p1", alice(), nil)
	require.NoError(t, err)

	// Несколько параллельных писателей; глубина одновременно зарезервированных
	// tc остается в пределах окна ожидания предшественника.
	const workers = 3
	const perWorker = 10
	const total = workers * perWorker

	results := make(chan int64, total)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				rcpt, err := f.svc.LogMessage(ctx, "p1", alice(), msg("concurrent"))
				if assert.NoError(t, err) {
					results <- rcpt.TC
				}
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for tc := range results {
		require.False(t, seen[tc], "duplicate tc %d", tc)
		seen[tc] = true
	}
	require.Len(t, seen, total)
	for i := int64(0); i < total; i++ {
		assert.True(t, seen[i], "gap at tc %d", i)
	}

	// Конкурентная запись не рвет цепочку
	checked, err := chain.Verify(ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, int64(total), checked)
}

func TestAccessJournalRecordsOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProcess(ctx, "p1", alice(), nil)
	require.NoError(t, err)
	_, err = f.svc.LogMessage(ctx, "p1", alice(), msg("x"))
	require.NoError(t, err)
	_, err = f.svc.Query(ctx, "p1", bob(), queryAll())
	require.Error(t, err)

	// Журнал пишется асинхронно; Stop дописывает буфер
	f.journal.Stop()

	events := f.store.JournalEvents()
	require.NotEmpty(t, events)

	byOp := make(map[audit.Operation][]audit.AccessEvent)
	for _, e := range events {
		byOp[e.Operation] = append(byOp[e.Operation], e)
	}
	require.Len(t, byOp[audit.OpProcessCreate], 1)
	assert.Equal(t, "SUCCESS", byOp[audit.OpProcessCreate][0].Status)
	require.Len(t, byOp[audit.OpLog], 1)
	assert.NotEmpty(t, byOp[audit.OpLog][0].DocumentID)
	require.Len(t, byOp[audit.OpQuery], 1)
	assert.Equal(t, "bob", byOp[audit.OpQuery][0].ClientID)
	assert.NotEqual(t, "SUCCESS", byOp[audit.OpQuery][0].Status)
}
