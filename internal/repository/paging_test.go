package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/clearing-house/internal/domain"
)

func makeBuckets(t *testing.T, total int, base time.Time) []domain.Bucket {
	t.Helper()
	var buckets []domain.Bucket
	for i := 0; i < total; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		if i%domain.MaxBucketSize == 0 {
			buckets = append(buckets, domain.Bucket{
				ID:       domain.BucketID("p1", ts),
				PID:      "p1",
				Capacity: domain.MaxBucketSize,
				FromTS:   ts,
				ToTS:     ts,
			})
		}
		b := &buckets[len(buckets)-1]
		b.Documents = append(b.Documents, domain.Document{
			ID:  fmt.Sprintf("doc-%d", i),
			PID: "p1",
			TC:  int64(i),
			TS:  ts,
		})
		b.Fill++
		b.ToTS = ts
	}
	return buckets
}

func reversed(in []domain.Bucket) []domain.Bucket {
	out := make([]domain.Bucket, len(in))
	for i := range in {
		out[i] = in[len(in)-1-i]
	}
	return out
}

// fetchPage повторяет путь сервиса: первый релевантный бакет, окно из двух,
// flatten. Позволяет проверить математику страниц без хранилища.
func fetchPage(ordered []domain.Bucket, opts domain.QueryOptions) []domain.Document {
	var first *domain.Bucket
	for i := range ordered {
		if !ordered[i].FromTS.After(opts.DateTo) && !ordered[i].ToTS.Before(opts.DateFrom) {
			first = &ordered[i]
			break
		}
	}
	if first == nil {
		return nil
	}

	skip, startEntry := PageWindow(opts.Page, opts.Size, first.Capacity, CountMatching(first, opts))

	var window []domain.Bucket
	n := 0
	for i := range ordered {
		if ordered[i].FromTS.After(opts.DateTo) || ordered[i].ToTS.Before(opts.DateFrom) {
			continue
		}
		if n < skip {
			n++
			continue
		}
		window = append(window, ordered[i])
		if len(window) == 2 {
			break
		}
	}
	return FlattenPage(window, opts, startEntry)
}

func TestPageWindowFirstBucket(t *testing.T) {
	// Окно в первом бакете: бакеты не пропускаются, пропуск записей
	// равен количеству записей предыдущих страниц.
	skip, start := PageWindow(1, 10, domain.MaxBucketSize, domain.MaxBucketSize)
	assert.Equal(t, 0, skip)
	assert.Equal(t, 0, start)

	skip, start = PageWindow(3, 10, domain.MaxBucketSize, domain.MaxBucketSize)
	assert.Equal(t, 0, skip)
	assert.Equal(t, 20, start)
}

func TestPageWindowCrossesBucketBoundary(t *testing.T) {
	// Полностью совпавший первый бакет, страница 101 размера 10:
	// позиции 1000..1009 лежат во втором бакете.
	skip, start := PageWindow(101, 10, domain.MaxBucketSize, domain.MaxBucketSize)
	assert.Equal(t, 1, skip)
	assert.Equal(t, 0, start)

	// Частично совпавший первый бакет (в диапазоне только 400 записей):
	// страница 41 начинается сразу за ним.
	skip, start = PageWindow(41, 10, domain.MaxBucketSize, 400)
	assert.Equal(t, 1, skip)
	assert.Equal(t, 0, start)
}

func TestPaginationCompleteness(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	const total = 2350 // три бакета, последний открыт
	buckets := makeBuckets(t, total, base)
	require.Len(t, buckets, 3)

	for _, order := range []domain.SortOrder{domain.SortAsc, domain.SortDesc} {
		t.Run(string(order), func(t *testing.T) {
			opts := domain.QueryOptions{
				Size:     10,
				Sort:     order,
				DateFrom: base,
				DateTo:   base.Add(time.Duration(total) * time.Second),
			}
			ordered := buckets
			if order == domain.SortDesc {
				ordered = reversed(buckets)
			}

			var collected []string
			for page := 1; ; page++ {
				opts.Page = page
				docs := fetchPage(ordered, opts)
				if len(docs) == 0 {
					break
				}
				for _, d := range docs {
					collected = append(collected, d.ID)
				}
			}

			require.Len(t, collected, total, "no gaps, no duplicates")
			seen := make(map[string]struct{}, total)
			for _, id := range collected {
				_, dup := seen[id]
				require.False(t, dup, "duplicate %s", id)
				seen[id] = struct{}{}
			}
			// Порядок сквозной: проверяем стыки страниц по первым/последним
			if order == domain.SortAsc {
				assert.Equal(t, "doc-0", collected[0])
				assert.Equal(t, fmt.Sprintf("doc-%d", total-1), collected[total-1])
			} else {
				assert.Equal(t, fmt.Sprintf("doc-%d", total-1), collected[0])
				assert.Equal(t, "doc-0", collected[total-1])
			}
		})
	}
}

func TestPaginationPartialFirstBucket(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	const total = 1600
	buckets := makeBuckets(t, total, base)

	// Диапазон отрезает первые 600 записей первого бакета
	opts := domain.QueryOptions{
		Size:     25,
		Sort:     domain.SortAsc,
		DateFrom: base.Add(600 * time.Second),
		DateTo:   base.Add(time.Duration(total) * time.Second),
	}

	var collected []string
	for page := 1; ; page++ {
		opts.Page = page
		docs := fetchPage(buckets, opts)
		if len(docs) == 0 {
			break
		}
		for _, d := range docs {
			collected = append(collected, d.ID)
		}
	}

	require.Len(t, collected, total-600)
	assert.Equal(t, "doc-600", collected[0])
	assert.Equal(t, fmt.Sprintf("doc-%d", total-1), collected[len(collected)-1])
}
