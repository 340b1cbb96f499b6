package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureStorage struct {
	mu     sync.Mutex
	events []AccessEvent
}

func (c *captureStorage) WriteBatch(ctx context.Context, events []AccessEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return nil
}

func (c *captureStorage) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestJournalDrainsOnStop(t *testing.T) {
	store := &captureStorage{}
	j := NewJournal(store, zap.NewNop(), 1000, time.Hour) // тикер не успеет сработать
	j.Start()

	const total = 250
	for i := 0; i < total; i++ {
		j.Record(AccessEvent{ID: fmt.Sprintf("e%d", i), Operation: OpLog, Status: "SUCCESS"})
	}
	j.Stop()

	assert.Equal(t, total, store.count(), "Stop дописывает все буферизованные события")
}

func TestJournalFlushesByInterval(t *testing.T) {
	store := &captureStorage{}
	j := NewJournal(store, zap.NewNop(), 1000, 20*time.Millisecond)
	j.Start()
	defer j.Stop()

	j.Record(AccessEvent{ID: "e1", Operation: OpQuery, Status: "SUCCESS"})

	require.Eventually(t, func() bool {
		return store.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestJournalStopConcurrentWithRecord(t *testing.T) {
	store := &captureStorage{}
	j := NewJournal(store, zap.NewNop(), 10000, time.Hour)
	j.Start()

	// Писатели молотят в журнал, пока Stop закрывает канал: send в закрытый
	// канал запаниковал бы, повторный Stop — тоже.
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				j.Record(AccessEvent{ID: fmt.Sprintf("w%d-e%d", w, i), Operation: OpLog})
			}
		}(w)
	}
	time.Sleep(time.Millisecond)
	j.Stop()
	wg.Wait()
	j.Stop() // идемпотентен

	// Всё, что успело войти до закрытия, дописано; остальное отброшено с логом
	assert.LessOrEqual(t, store.count(), 8*500)
}

func TestJournalDropsAfterStop(t *testing.T) {
	store := &captureStorage{}
	j := NewJournal(store, zap.NewNop(), 10, time.Hour)
	j.Start()
	j.Stop()

	// Запись после остановки не паникует и не попадает в хранилище
	j.Record(AccessEvent{ID: "late"})
	assert.Equal(t, 0, store.count())
}
