package postgres

/*
Файл postgres.go отвечает за подключение к PostgreSQL и реализацию
простых контрактов хранилища: счетчик транзакций, процессы, мастер-ключ
и типы документов. Бакетированный лог живет в buckets.go, журнал
доступа — в journal.go.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/clearing-house/internal/domain"
)

type Store struct {
	pool *pgxpool.Pool
}

// NewStore открывает пул и проверяет соединение.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 25
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate создает схему при старте. Счетчик сеется значением -1,
// чтобы первый Next вернул 0.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tx_counter (
			id INT PRIMARY KEY,
			value BIGINT NOT NULL
		)`,
		`INSERT INTO tx_counter (id, value) VALUES (1, -1) ON CONFLICT (id) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS processes (
			id TEXT PRIMARY KEY,
			owners JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS master_keys (
			id TEXT PRIMARY KEY,
			key BYTEA NOT NULL,
			salt BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			singleton BOOL NOT NULL DEFAULT TRUE UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS doc_types (
			id TEXT PRIMARY KEY,
			pid TEXT NOT NULL,
			parts JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS buckets (
			id TEXT PRIMARY KEY,
			pid TEXT NOT NULL,
			fill INT NOT NULL,
			capacity INT NOT NULL,
			from_ts TIMESTAMPTZ NOT NULL,
			to_ts TIMESTAMPTZ NOT NULL,
			documents JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_buckets_pid_from ON buckets (pid, from_ts)`,
		`CREATE TABLE IF NOT EXISTS access_journal (
			id TEXT PRIMARY KEY,
			trace_id TEXT,
			client_id TEXT,
			pid TEXT,
			document_id TEXT,
			operation TEXT,
			status TEXT,
			error TEXT,
			timestamp TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT
		)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Next атомарно инкрементирует глобальный счетчик одной командой.
func (s *Store) Next(ctx context.Context) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx,
		`UPDATE tx_counter SET value = value + 1 WHERE id = 1 RETURNING value`,
	).Scan(&v)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (s *Store) Insert(ctx context.Context, p domain.Process) error {
	owners, _ := json.Marshal(p.Owners)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processes (id, owners, created_at) VALUES ($1, $2, $3)`,
		p.ID, owners, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.E(domain.KindConflict, "postgres.process", "process already exists")
	}
	return err
}

func (s *Store) Get(ctx context.Context, pid string) (*domain.Process, error) {
	p := &domain.Process{}
	var owners []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, owners, created_at FROM processes WHERE id = $1`, pid,
	).Scan(&p.ID, &owners, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // nil для 404 в сервисе
		}
		return nil, err
	}
	if err := json.Unmarshal(owners, &p.Owners); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) Delete(ctx context.Context, pid string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM processes WHERE id = $1`, pid)
	return err
}

// InsertMasterKey вставляет мастер-ключ, только если его еще нет.
// Уникальность колонки singleton делает проверку и вставку одной командой.
func (s *Store) InsertMasterKey(ctx context.Context, key domain.MasterKey) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO master_keys (id, key, salt, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (singleton) DO NOTHING`,
		key.ID, key.Key, key.Salt, key.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetMasterKey(ctx context.Context) (*domain.MasterKey, error) {
	mk := &domain.MasterKey{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, key, salt, created_at FROM master_keys LIMIT 1`,
	).Scan(&mk.ID, &mk.Key, &mk.Salt, &mk.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return mk, nil
}

func (s *Store) CountMasterKeys(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM master_keys`).Scan(&n)
	return n, err
}

func (s *Store) UpsertDocumentType(ctx context.Context, dt domain.DocumentType) error {
	parts, _ := json.Marshal(dt.Parts)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO doc_types (id, pid, parts) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET parts = EXCLUDED.parts`,
		dt.ID, dt.PID, parts,
	)
	return err
}

func (s *Store) GetDocumentType(ctx context.Context, id string) (*domain.DocumentType, error) {
	dt := &domain.DocumentType{}
	var parts []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, pid, parts FROM doc_types WHERE id = $1`, id,
	).Scan(&dt.ID, &dt.PID, &parts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(parts, &dt.Parts); err != nil {
		return nil, err
	}
	return dt, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
