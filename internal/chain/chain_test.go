package chain

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/repository/memory"
)

func TestHashContentDeterministic(t *testing.T) {
	doc := &domain.Document{
		ID:        "d1",
		PID:       "p1",
		TC:        3,
		TS:        time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC),
		ChainHash: "abc",
		DocType:   "message",
		Parts:     map[string][]byte{"payload": {1, 2, 3}},
	}
	assert.Equal(t, HashContent(doc), HashContent(doc))

	tampered := *doc
	tampered.Parts = map[string][]byte{"payload": {1, 2, 4}}
	assert.NotEqual(t, HashContent(doc), HashContent(&tampered))
}

func TestPredecessorHashGenesis(t *testing.T) {
	l := NewLinker(memory.NewStore())
	h, err := l.PredecessorHash(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, domain.GenesisHash, h)
}

func TestPredecessorHashLinks(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	first := domain.Document{ID: "d0", PID: "p1", TC: 0, TS: time.Now(), ChainHash: domain.GenesisHash}
	require.NoError(t, store.AppendDocument(ctx, first))

	l := NewLinker(store)
	h, err := l.PredecessorHash(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, HashContent(&first), h)
}

func TestPredecessorMissingFailsFatally(t *testing.T) {
	l := NewLinker(memory.NewStore())
	_, err := l.PredecessorHash(context.Background(), 5)
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
}

func appendChain(t *testing.T, store *memory.Store, n int) []domain.Document {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var docs []domain.Document
	for i := 0; i < n; i++ {
		doc := domain.Document{
			ID:      fmt.Sprintf("d%d", i),
			PID:     "p1",
			TC:      int64(i),
			TS:      base.Add(time.Duration(i) * time.Second),
			DocType: "message",
			Parts:   map[string][]byte{"payload": []byte(fmt.Sprintf("m%d", i))},
		}
		if i == 0 {
			doc.ChainHash = domain.GenesisHash
		} else {
			doc.ChainHash = HashContent(&docs[i-1])
		}
		require.NoError(t, store.AppendDocument(ctx, doc))
		docs = append(docs, doc)
	}
	return docs
}

func TestVerifyWellFormedChain(t *testing.T) {
	store := memory.NewStore()
	appendChain(t, store, 25)

	checked, err := chainVerify(t, store)
	require.NoError(t, err)
	assert.Equal(t, int64(25), checked)
}

func TestVerifyDetectsTampering(t *testing.T) {
	store := memory.NewStore()
	docs := appendChain(t, store, 10)

	// Подмена содержимого задним числом: переписываем документ tc=4
	ctx := context.Background()
	require.NoError(t, store.RemoveDocument(ctx, "p1", docs[4].ID))
	forged := docs[4]
	forged.Parts = map[string][]byte{"payload": []byte("forged")}
	require.NoError(t, store.AppendDocument(ctx, forged))

	_, err := chainVerify(t, store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tc=5")
}

func TestVerifyDetectsGap(t *testing.T) {
	store := memory.NewStore()
	docs := appendChain(t, store, 6)

	require.NoError(t, store.RemoveDocument(context.Background(), "p1", docs[3].ID))

	_, err := chainVerify(t, store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gap")
}

func chainVerify(t *testing.T, store *memory.Store) (int64, error) {
	t.Helper()
	return Verify(context.Background(), store)
}
