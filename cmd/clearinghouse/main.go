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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/clearing-house/internal/audit"
	"github.com/xela07ax/clearing-house/internal/clearing"
	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/infra"
	"github.com/xela07ax/clearing-house/internal/infra/auth"
	"github.com/xela07ax/clearing-house/internal/receipt"
	"github.com/xela07ax/clearing-house/internal/registry"
	"github.com/xela07ax/clearing-house/internal/repository"
	"github.com/xela07ax/clearing-house/internal/repository/memory"
	mongorepo "github.com/xela07ax/clearing-house/internal/repository/mongo"
	"github.com/xela07ax/clearing-house/internal/repository/postgres"
	"github.com/xela07ax/clearing-house/internal/server"
	"github.com/xela07ax/clearing-house/internal/vault"
)

// storageBackend — объединение контрактов, которые обязан закрывать
// каждый бэкенд (postgres / mongo / memory).
type storageBackend interface {
	repository.SequenceRepository
	repository.ProcessRepository
	repository.MasterKeyRepository
	repository.DocumentTypeRepository
	repository.BucketRepository
	audit.StorageInterface
}

func main() {
	// 1. Конфигурация и логгер
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

	// 2. Хранилище
	store, cleanup, err := openStorage(appCtx, cfg)
	if err != nil {
		logger.Fatal("storage init failed", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer cleanup()

	// 3. Redis: блок-лист процессов с Pub/Sub синхронизацией реплик
	var blocklist *registry.BlockList
	var guard clearing.ProcessGuard = clearing.NoopGuard{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		blocklist = registry.NewBlockList(rdb, logger)
		if err := blocklist.Init(appCtx); err != nil {
			logger.Fatal("blocklist init failed", zap.Error(err))
		}
		go blocklist.StartListener(appCtx)
		guard = blocklist
	}

	// 4. Граница Key Vault: встроенная или удаленная
	keys, err := buildKeyProvider(appCtx, cfg, store, logger)
	if err != nil {
		logger.Fatal("vault init failed", zap.String("mode", cfg.Vault.Mode), zap.Error(err))
	}
	safeKeys := vault.NewReliabilityWrapper(keys, cfg.Vault.Timeout)

	// 5. Подпись квитанций
	receiptKey, err := auth.ParseRSAPrivateKey(cfg.Receipt.PrivateKey)
	if err != nil {
		logger.Fatal("receipt key unreadable", zap.Error(err))
	}
	signer, err := receipt.NewSigner(receiptKey)
	if err != nil {
		logger.Fatal("receipt signer init failed", zap.Error(err))
	}

	// 6. Журнал доступа (пакетная запись в то же хранилище)
	journal := audit.NewJournal(store, logger,
		cfg.Clearing.JournalBufferSize, cfg.Clearing.JournalFlushInterval)
	journal.Start()
	defer journal.Stop()

	// 7. Метрики
	promReg := prometheus.NewRegistry()
	metrics := clearing.NewMetrics(promReg)
	go watchGauges(appCtx, metrics, safeKeys, journal)

	// 8. Сборка ядра
	procRegistry := registry.NewService(store, logger)
	core := clearing.NewService(procRegistry, guard, store, store, safeKeys, signer, journal, metrics, logger)

	// 9. HTTP-поверхность
	authKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key unreadable", zap.Error(err))
	}
	srv := server.NewServer(
		logger,
		auth.NewBaseValidator(authKey),
		server.NewHandler(core, blocklist, logger),
		receipt.JWKSHandler(signer.PublicKey(), signer.KeyID()),
		promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("clearing house started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("clearing house stopping")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func openStorage(ctx context.Context, cfg *infra.Config) (storageBackend, func(), error) {
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

// buildKeyProvider собирает границу vault. В embedded режиме мастер-ключ
// создается на месте при первом старте; в remote за него отвечает cmd/vault.
func buildKeyProvider(ctx context.Context, cfg *infra.Config, store storageBackend, logger *zap.Logger) (vault.KeyProvider, error) {
	switch cfg.Vault.Mode {
	case "embedded":
		svc := vault.NewService(store, store, logger)
		if err := svc.Bootstrap(ctx); err != nil && domain.KindOf(err) != domain.KindConflict {
			return nil, err
		}
		err := svc.EnsureDocumentType(ctx, domain.DocumentType{
			ID:    clearing.DefaultDocType,
			PID:   domain.ReservedPID,
			Parts: clearing.DefaultDocTypeParts,
		})
		if err != nil {
			return nil, err
		}
		return svc, nil
	case "remote":
		signKey, err := auth.ParseRSAPrivateKey(cfg.Vault.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("vault service token key: %w", err)
		}
		issuer := auth.NewServiceTokenIssuer(signKey, cfg.Vault.TokenTTL)
		return vault.NewClient(cfg.Vault.URL, issuer, cfg.Vault.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown vault mode %q", cfg.Vault.Mode)
	}
}

// watchGauges периодически снимает состояние предохранителя vault
// и заполненность буфера журнала.
func watchGauges(ctx context.Context, m *clearing.Metrics, keys *vault.ReliabilityWrapper, j *audit.Journal) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.VaultBreakerState.Set(float64(keys.State()))
			m.JournalBufferFill.Set(float64(j.Fill()))
		}
	}
}
