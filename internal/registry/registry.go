// Package registry — реестр процессов (тенантов) и авторизация владельцев.
package registry

import (
	"context"
	"time"

	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/repository"
	"go.uber.org/zap"
)

type Service struct {
	repo   repository.ProcessRepository
	logger *zap.Logger
}

func NewService(repo repository.ProcessRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger.Named("registry")}
}

// Create заводит процесс. Ответ различает "уже существует" (владельцу) и
// "запрещено" (постороннему): владелец узнает состояние своего процесса,
// посторонний не получает деталей. Сам факт существования pid при этом
// различим — осознанный компромисс, унаследованный от протокола.
func (s *Service) Create(ctx context.Context, pid, requestor string, additionalOwners []string) (*domain.Process, error) {
	const op = "registry.create"

	if pid == "" {
		return nil, domain.E(domain.KindValidation, op, "process id is empty")
	}
	if pid == domain.ReservedPID {
		return nil, domain.E(domain.KindValidation, op, "process id is reserved")
	}

	existing, err := s.repo.Get(ctx, pid)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "process lookup failed", err)
	}
	if existing != nil {
		return nil, s.duplicateError(existing, requestor)
	}

	p := domain.Process{
		ID:        pid,
		Owners:    unionOwners(requestor, additionalOwners),
		CreatedAt: time.Now(),
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			// Гонка с конкурентным создателем: перечитываем и отвечаем так же,
			// как если бы процесс существовал с самого начала
			existing, gerr := s.repo.Get(ctx, pid)
			if gerr == nil && existing != nil {
				return nil, s.duplicateError(existing, requestor)
			}
		}
		return nil, domain.Wrap(domain.KindInternal, op, "process insert failed", err)
	}

	s.logger.Info("process created", zap.String("pid", pid), zap.Int("owners", len(p.Owners)))
	return &p, nil
}

func (s *Service) duplicateError(existing *domain.Process, requestor string) error {
	const op = "registry.create"
	if existing.IsOwner(requestor) {
		return domain.E(domain.KindConflict, op, "process already exists")
	}
	return domain.E(domain.KindUnauthorized, op, "forbidden")
}

// GetAndAuthorize возвращает процесс, если клиент — владелец.
// NotFound и Unauthorized никогда не смешиваются.
func (s *Service) GetAndAuthorize(ctx context.Context, pid, clientID string) (*domain.Process, error) {
	const op = "registry.authorize"

	p, err := s.repo.Get(ctx, pid)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, "process lookup failed", err)
	}
	if p == nil {
		return nil, domain.E(domain.KindNotFound, op, "process not found")
	}
	if !p.IsOwner(clientID) {
		return nil, domain.E(domain.KindUnauthorized, op, "forbidden")
	}
	return p, nil
}

// AuthorizeOrCreate — путь логирования: неизвестный процесс автосоздается
// с вызывающим в качестве единственного владельца. Ровно одна повторная
// проверка на случай, если параллельный вызов создал процесс первым.
func (s *Service) AuthorizeOrCreate(ctx context.Context, pid, clientID string) (*domain.Process, error) {
	const op = "registry.authorize_or_create"

	if pid == domain.ReservedPID {
		return nil, domain.E(domain.KindValidation, op, "process id is reserved")
	}

	p, err := s.GetAndAuthorize(ctx, pid, clientID)
	if err == nil {
		return p, nil
	}
	if domain.KindOf(err) != domain.KindNotFound {
		return nil, err
	}

	created := domain.Process{
		ID:        pid,
		Owners:    []string{clientID},
		CreatedAt: time.Now(),
	}
	if insErr := s.repo.Insert(ctx, created); insErr != nil {
		if domain.KindOf(insErr) != domain.KindConflict {
			return nil, domain.Wrap(domain.KindInternal, op, "process auto-create failed", insErr)
		}
		// Доброкачественная гонка: процесс появился между Get и Insert
		return s.GetAndAuthorize(ctx, pid, clientID)
	}

	s.logger.Info("process auto-created", zap.String("pid", pid), zap.String("owner", clientID))
	return &created, nil
}

// Delete удаляет процесс (без его данных — их сносит вызывающий слой).
func (s *Service) Delete(ctx context.Context, pid string) error {
	if err := s.repo.Delete(ctx, pid); err != nil {
		return domain.Wrap(domain.KindInternal, "registry.delete", "process delete failed", err)
	}
	return nil
}

func unionOwners(requestor string, additional []string) []string {
	owners := []string{requestor}
	seen := map[string]struct{}{requestor: {}}
	for _, o := range additional {
		if o == "" {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		owners = append(owners, o)
	}
	return owners
}
