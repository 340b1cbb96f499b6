// Package chain — хэш-цепочка поверх глобального порядка транзакций.
// Каждая запись несет хэш содержимого предшественника (по tc, независимо от
// процесса), так что задним числом подменить или переупорядочить лог нельзя.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/repository"
)

// hashView — каноническое представление документа для хэширования.
// Шифртексты входят в хэш: ретроактивная правка любого байта ломает цепочку.
type hashView struct {
	ID          string            `json:"id"`
	PID         string            `json:"pid"`
	TC          int64             `json:"tc"`
	TS          int64             `json:"ts"` // unix nano, без зависимости от формата time.Time
	ChainHash   string            `json:"chain_hash"`
	DocType     string            `json:"doc_type"`
	Parts       map[string][]byte `json:"parts"`
	WrappedKeys []byte            `json:"wrapped_keys"`
}

// HashContent — SHA-256 (hex) канонического JSON документа.
// json.Marshal сортирует ключи map, представление детерминировано.
func HashContent(doc *domain.Document) string {
	view := hashView{
		ID:          doc.ID,
		PID:         doc.PID,
		TC:          doc.TC,
		TS:          doc.TS.UnixNano(),
		ChainHash:   doc.ChainHash,
		DocType:     doc.DocType,
		Parts:       doc.Parts,
		WrappedKeys: doc.WrappedKeys,
	}
	b, _ := json.Marshal(view)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type Linker struct {
	buckets repository.BucketRepository
}

func NewLinker(buckets repository.BucketRepository) *Linker {
	return &Linker{buckets: buckets}
}

// PredecessorHash возвращает chain_hash для записи с номером tc.
// tc == 0 → константа генезиса. Иначе ищем запись tc-1: из-за того, что
// резервирование tc и запись tc-1 — разные транзакции, сосед может быть
// еще не виден. Даем ему короткое окно (ретраи), после чего фейлимся —
// выдумывать или пропускать звено цепочки нельзя.
func (l *Linker) PredecessorHash(ctx context.Context, tc int64) (string, error) {
	const op = "chain.link"

	if tc == 0 {
		return domain.GenesisHash, nil
	}

	var pred *domain.Document
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(4),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
	).Do(func() error {
		d, err := l.buckets.GetByTC(ctx, tc-1)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("predecessor tc=%d not yet visible", tc-1)
		}
		pred = d
		return nil
	})
	if err != nil {
		return "", domain.Wrap(domain.KindInternal, op, fmt.Sprintf("predecessor for tc=%d missing", tc), err)
	}

	return HashContent(pred), nil
}

// Verify — офлайн-проверка всей цепочки: пересчитываем хэш каждого
// предшественника и сравниваем с сохраненным chain_hash. Любое расхождение —
// свидетельство подмены или переупорядочивания.
func Verify(ctx context.Context, buckets repository.BucketRepository) (checked int64, err error) {
	const pageSize = 500

	var prev *domain.Document
	var fromTC int64

	for {
		docs, err := buckets.DocumentsByTC(ctx, fromTC, pageSize)
		if err != nil {
			return checked, fmt.Errorf("chain verify: fetch from tc=%d: %w", fromTC, err)
		}
		if len(docs) == 0 {
			return checked, nil
		}

		for i := range docs {
			doc := &docs[i]
			switch {
			case doc.TC == 0:
				if doc.ChainHash != domain.GenesisHash {
					return checked, fmt.Errorf("chain verify: tc=0 carries %q instead of genesis", doc.ChainHash)
				}
			case prev == nil || prev.TC != doc.TC-1:
				return checked, fmt.Errorf("chain verify: gap before tc=%d", doc.TC)
			default:
				if want := HashContent(prev); doc.ChainHash != want {
					return checked, fmt.Errorf("chain verify: mismatch at tc=%d: stored %s, recomputed %s", doc.TC, doc.ChainHash, want)
				}
			}
			prev = doc
			checked++
		}

		fromTC = docs[len(docs)-1].TC + 1
	}
}
