package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/clearing-house/internal/domain"
)

func TestSequenceStartsAtZero(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	first, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first)

	second, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second)
}

func TestSequenceConcurrent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	const workers = 50
	const perWorker = 20

	results := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v, err := s.Next(ctx)
				assert.NoError(t, err)
				results <- v
			}
		}()
	}
	wg.Wait()
	close(results)

	var all []int64
	for v := range results {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	// Строго возрастающие, без дыр и дублей
	require.Len(t, all, workers*perWorker)
	for i, v := range all {
		require.Equal(t, int64(i), v)
	}
}

func TestBucketCapacityRollover(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	total := domain.MaxBucketSize + 5
	for i := 0; i < total; i++ {
		err := s.AppendDocument(ctx, domain.Document{
			ID:  fmt.Sprintf("doc-%d", i),
			PID: "p1",
			TC:  int64(i),
			TS:  base.Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
	}

	buckets, err := s.Buckets(ctx, "p1", domain.SortAsc, base.Add(-time.Hour), base.Add(time.Hour), 0, 10)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, domain.MaxBucketSize, buckets[0].Fill)
	assert.Equal(t, 5, buckets[1].Fill)
	for _, b := range buckets {
		assert.LessOrEqual(t, b.Fill, b.Capacity)
		assert.Len(t, b.Documents, b.Fill)
	}
}

func TestBucketCapacityUnderConcurrentAppend(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Конкурентные писатели проталкивают лог через границу бакета
	const workers = 8
	const perWorker = 300 // 2400 документов, минимум два переполнения
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := s.AppendDocument(ctx, domain.Document{
					ID:  fmt.Sprintf("w%d-doc-%d", w, i),
					PID: "p1",
					TS:  base.Add(time.Duration(w*perWorker+i) * time.Millisecond),
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	buckets, err := s.Buckets(ctx, "p1", domain.SortAsc, base.Add(-time.Hour), base.Add(time.Hour), 0, 100)
	require.NoError(t, err)

	seen := make(map[string]bool)
	totalFill := 0
	for _, b := range buckets {
		assert.LessOrEqual(t, b.Fill, b.Capacity, "бакет %s переполнен", b.ID)
		assert.Len(t, b.Documents, b.Fill)
		totalFill += b.Fill
		for _, d := range b.Documents {
			assert.False(t, seen[d.ID], "документ %s попал в бакеты дважды", d.ID)
			seen[d.ID] = true
		}
	}
	assert.Equal(t, workers*perWorker, totalFill, "ни один документ не потерян")
}

func TestBucketHoleRefilledBeforeNewBucket(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < domain.MaxBucketSize; i++ {
		require.NoError(t, s.AppendDocument(ctx, domain.Document{
			ID:  fmt.Sprintf("doc-%d", i),
			PID: "p1",
			TS:  base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	// Компенсация открывает дыру в заполненном бакете —
	// следующая запись уходит в нее, а не в новый бакет
	require.NoError(t, s.RemoveDocument(ctx, "p1", "doc-500"))
	require.NoError(t, s.AppendDocument(ctx, domain.Document{
		ID: "refill", PID: "p1", TS: base.Add(time.Hour),
	}))

	buckets, err := s.Buckets(ctx, "p1", domain.SortAsc, base.Add(-time.Hour), base.Add(2*time.Hour), 0, 10)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, domain.MaxBucketSize, buckets[0].Fill)
}

func TestGetByTCAndRemove(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	ts := time.Now()

	require.NoError(t, s.AppendDocument(ctx, domain.Document{ID: "a", PID: "p1", TC: 7, TS: ts}))

	doc, err := s.GetByTC(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "a", doc.ID)

	missing, err := s.GetByTC(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.RemoveDocument(ctx, "p1", "a"))
	doc, err = s.GetDocument(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Nil(t, doc)

	buckets, err := s.Buckets(ctx, "p1", domain.SortAsc, ts.Add(-time.Hour), ts.Add(time.Hour), 0, 10)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 0, buckets[0].Fill)
}

func TestMasterKeySingleton(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	created, err := s.InsertMasterKey(ctx, domain.MasterKey{ID: "master", Key: []byte("k1")})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.InsertMasterKey(ctx, domain.MasterKey{ID: "master", Key: []byte("k2")})
	require.NoError(t, err)
	assert.False(t, created)

	n, err := s.CountMasterKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mk, err := s.GetMasterKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("k1"), mk.Key, "существующий ключ не перезаписывается")
}
