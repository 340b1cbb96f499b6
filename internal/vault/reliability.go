package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/clearing-house/internal/domain"
	"golang.org/x/time/rate"
)

// KeyProvider — контракт, через который ядро логирования ходит за ключами.
// Его реализуют и встроенный Service, и удаленный Client; ReliabilityWrapper
// добавляет поверх Retries, Circuit Breaker и Rate Limiter (для remote-режима).
type KeyProvider interface {
	GenerateFieldKeys(ctx context.Context, docTypeID string) (domain.KeyMap, []byte, error)
	UnwrapFieldKeys(ctx context.Context, docTypeID string, wrapped []byte) (domain.KeyMap, error)
	UnwrapMany(ctx context.Context, docTypeID string, items []WrappedItem) (map[string]domain.KeyMap, error)
}

type ReliabilityWrapper struct {
	next    KeyProvider
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

func NewReliabilityWrapper(next KeyProvider, timeout time.Duration) *ReliabilityWrapper {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "clearing-vault",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// Бизнес-отказы (NotFound, Validation) не считаются падением vault
		IsSuccessful: func(err error) bool {
			return err == nil || domain.KindOf(err) != domain.KindInternal
		},
	})

	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(200), 50),
		timeout: timeout,
	}
}

// State — текущее состояние предохранителя (для метрик).
func (w *ReliabilityWrapper) State() gobreaker.State { return w.cb.State() }

func (w *ReliabilityWrapper) GenerateFieldKeys(ctx context.Context, docTypeID string) (domain.KeyMap, []byte, error) {
	var keys domain.KeyMap
	var wrapped []byte
	err := w.call(ctx, func(ctx context.Context) error {
		var callErr error
		keys, wrapped, callErr = w.next.GenerateFieldKeys(ctx, docTypeID)
		return callErr
	})
	if err != nil {
		return nil, nil, err
	}
	return keys, wrapped, nil
}

func (w *ReliabilityWrapper) UnwrapFieldKeys(ctx context.Context, docTypeID string, wrapped []byte) (domain.KeyMap, error) {
	var keys domain.KeyMap
	err := w.call(ctx, func(ctx context.Context) error {
		var callErr error
		keys, callErr = w.next.UnwrapFieldKeys(ctx, docTypeID, wrapped)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (w *ReliabilityWrapper) UnwrapMany(ctx context.Context, docTypeID string, items []WrappedItem) (map[string]domain.KeyMap, error) {
	var keys map[string]domain.KeyMap
	err := w.call(ctx, func(ctx context.Context) error {
		var callErr error
		keys, callErr = w.next.UnwrapMany(ctx, docTypeID, items)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (w *ReliabilityWrapper) call(ctx context.Context, fn func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return domain.Wrap(domain.KindInternal, "vault.reliability", "rate limit exceeded", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.RetryIf(func(err error) bool {
				// Бизнес-ошибки (NotFound, Validation) ретраить бессмысленно —
				// повтор имеет смысл только для инфраструктурных отказов
				return domain.KindOf(err) == domain.KindInternal
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()
			return fn(tCtx)
		})

		return nil, retryErr
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Wrap(domain.KindInternal, "vault.reliability", fmt.Sprintf("vault circuit open: %v", err), err)
		}
		return err
	}
	return nil
}
