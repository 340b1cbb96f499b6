package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/clearing-house/internal/clearing"
	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/infra"
	"github.com/xela07ax/clearing-house/internal/infra/auth"
	"github.com/xela07ax/clearing-house/internal/repository"
	"github.com/xela07ax/clearing-house/internal/repository/memory"
	mongorepo "github.com/xela07ax/clearing-house/internal/repository/mongo"
	"github.com/xela07ax/clearing-house/internal/repository/postgres"
	"github.com/xela07ax/clearing-house/internal/vault"
)

// keyStorage — контракты, нужные выделенному vault.
type keyStorage interface {
	repository.MasterKeyRepository
	repository.DocumentTypeRepository
}

// Выделенный сервис хранилища ключей. Клиринговый центр ходит сюда
// по HTTP с короткоживущим сервисным токеном (vault.mode=remote).
func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, cleanup, err := openStorage(appCtx, cfg)
	if err != nil {
		logger.Fatal("storage init failed", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer cleanup()

	svc := vault.NewService(store, store, logger)
	// Conflict означает, что мастер-ключ уже создан прошлым запуском
	if err := svc.Bootstrap(appCtx); err != nil && domain.KindOf(err) != domain.KindConflict {
		logger.Fatal("vault bootstrap failed", zap.Error(err))
	}
	err = svc.EnsureDocumentType(appCtx, domain.DocumentType{
		ID:    clearing.DefaultDocType,
		PID:   domain.ReservedPID,
		Parts: clearing.DefaultDocTypeParts,
	})
	if err != nil {
		logger.Fatal("document type bootstrap failed", zap.Error(err))
	}

	verifyKey, err := auth.ParseRSAPublicKey(cfg.Vault.PublicKey)
	if err != nil {
		logger.Fatal("service token public key unreadable", zap.Error(err))
	}
	handler := vault.NewHandler(svc, auth.NewServiceTokenVerifier(verifyKey), logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/internal/keys", handler.Routes())

	srv := &http.Server{
		Addr:         cfg.Vault.ListenAddr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("vault started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("vault stopping")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func openStorage(ctx context.Context, cfg *infra.Config) (keyStorage, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		st, err := postgres.NewStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, nil, err
		}
		return st, st.Close, nil
	case "mongo":
		st, err := mongorepo.NewStore(ctx, cfg.Database.MongoURI, cfg.Database.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close(context.Background()) }, nil
	case "memory":
		return memory.NewStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
