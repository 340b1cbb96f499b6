package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/infra"
	"go.uber.org/zap"
)

// BlockList — административная блокировка процессов. Состояние лежит в Redis
// (переживает рестарт и разделяется между инстансами), рабочая проверка идет
// по локальному потокобезопасному кэшу, который обновляется через Pub/Sub.
type BlockList struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
	rdb     *redis.Client
	logger  *zap.Logger
}

func NewBlockList(rdb *redis.Client, logger *zap.Logger) *BlockList {
	return &BlockList{
		blocked: make(map[string]struct{}),
		rdb:     rdb,
		logger:  logger.Named("blocklist"),
	}
}

// Init загружает текущее множество блокировок при старте сервиса
func (b *BlockList) Init(ctx context.Context) error {
	pids, err := b.rdb.SMembers(ctx, infra.RedisKeyBlockedProcesses).Result()
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.blocked = make(map[string]struct{}, len(pids))
	for _, pid := range pids {
		b.blocked[pid] = struct{}{}
	}
	b.mu.Unlock()
	return nil
}

func (b *BlockList) IsBlocked(pid string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocked[pid]
	return ok
}

// Block помечает процесс заблокированным: Redis — источник правды,
// Pub/Sub разносит сигнал по остальным инстансам.
func (b *BlockList) Block(ctx context.Context, pid string) error {
	if err := b.rdb.SAdd(ctx, infra.RedisKeyBlockedProcesses, pid).Err(); err != nil {
		return domain.Wrap(domain.KindInternal, "blocklist.block", "redis update failed", err)
	}
	b.apply(pid, true)
	return b.publish(ctx, pid, true)
}

func (b *BlockList) Unblock(ctx context.Context, pid string) error {
	if err := b.rdb.SRem(ctx, infra.RedisKeyBlockedProcesses, pid).Err(); err != nil {
		return domain.Wrap(domain.KindInternal, "blocklist.unblock", "redis update failed", err)
	}
	b.apply(pid, false)
	return b.publish(ctx, pid, false)
}

func (b *BlockList) publish(ctx context.Context, pid string, blocked bool) error {
	payload := fmt.Sprintf("%s:%t", pid, blocked)
	if err := b.rdb.Publish(ctx, infra.RedisChanProcessBlock, payload).Err(); err != nil {
		return domain.Wrap(domain.KindInternal, "blocklist.publish", "redis publish failed", err)
	}
	return nil
}

func (b *BlockList) apply(pid string, blocked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if blocked {
		b.blocked[pid] = struct{}{}
	} else {
		delete(b.blocked, pid)
	}
}

// StartListener — "живучая" подписка на сигналы блокировки: переподключение
// с ресинхронизацией состояния при каждом успешном коннекте.
func (b *BlockList) StartListener(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := b.rdb.Subscribe(ctx, infra.RedisChanProcessBlock)

		if _, err := pubsub.Receive(ctx); err != nil {
			b.logger.Error("failed to subscribe", zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Ресинхронизация при каждом (пере)подключении
		if err := b.Init(ctx); err != nil {
			b.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Формат "pid:true" / "pid:false"
				parts := strings.Split(msg.Payload, ":")
				if len(parts) != 2 {
					b.logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				b.apply(parts[0], parts[1] == "true" || parts[1] == "on")
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
