package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/clearing-house/internal/domain"
)

// AppendDocument кладет документ в открытый бакет процесса или заводит новый.
// Условие fill < capacity стоит во ВНЕШНЕМ WHERE того же UPDATE, который пишет
// документ: при READ COMMITTED Postgres перепроверяет внешние условия на свежей
// версии строки после ожидания блокировки, а подзапрос — нет. Писатель,
// дождавшийся уже заполненного бакета, получает RowsAffected == 0 и уходит
// на ветку создания нового бакета.
func (s *Store) AppendDocument(ctx context.Context, doc domain.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	// Редкий ретрай нужен на случай гонки двух писателей, одновременно
	// открывающих новый бакет (конфликт первичного ключа по id с точностью
	// до миллисекунды). Если конкуренты всё же открыли два бакета в разные
	// миллисекунды, их интервалы времени могут пересечься: это допустимо —
	// выборка идет по пересечению интервалов, а ORDER BY from_ts ASC в
	// подзапросе дополняет сначала более старый бакет, так что лишний
	// быстро закрывается и незаполненным не остается.
	for attempt := 0; attempt < 3; attempt++ {
		tag, err := s.pool.Exec(ctx, `
			UPDATE buckets
			SET documents = documents || $1::jsonb,
			    fill = fill + 1,
			    to_ts = GREATEST(to_ts, $2)
			WHERE fill < capacity AND id = (
				SELECT id FROM buckets
				WHERE pid = $3 AND fill < capacity
				ORDER BY from_ts ASC
				LIMIT 1
			)`,
			raw, doc.TS, doc.PID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		// Открытого бакета нет — создаем новый с этим документом.
		_, err = s.pool.Exec(ctx, `
			INSERT INTO buckets (id, pid, fill, capacity, from_ts, to_ts, documents)
			VALUES ($1, $2, 1, $3, $4, $4, jsonb_build_array($5::jsonb))`,
			domain.BucketID(doc.PID, doc.TS), doc.PID, domain.MaxBucketSize, doc.TS, raw,
		)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return err
		}
		// Конкурент успел первым — на следующей итерации его бакет
		// подхватится как открытый.
	}
	return fmt.Errorf("postgres: bucket append contention for pid %s", doc.PID)
}

func (s *Store) GetByTC(ctx context.Context, tc int64) (*domain.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT d.value
		FROM buckets b, jsonb_array_elements(b.documents) d
		WHERE (d.value->>'tc')::bigint = $1
		LIMIT 1`, tc,
	)
	return scanDocument(row)
}

func (s *Store) GetDocument(ctx context.Context, pid, docID string) (*domain.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT d.value
		FROM buckets b, jsonb_array_elements(b.documents) d
		WHERE b.pid = $1 AND d.value->>'id' = $2
		LIMIT 1`, pid, docID,
	)
	return scanDocument(row)
}

// RemoveDocument — компенсация неудачной записи: выкидывает документ
// из бакета и откатывает счетчик заполнения.
func (s *Store) RemoveDocument(ctx context.Context, pid, docID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE buckets
		SET documents = (
			SELECT COALESCE(jsonb_agg(d.value), '[]'::jsonb)
			FROM jsonb_array_elements(documents) d
			WHERE d.value->>'id' <> $2
		),
		fill = fill - 1
		WHERE pid = $1 AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(documents) d WHERE d.value->>'id' = $2
		)`, pid, docID,
	)
	return err
}

func (s *Store) FirstBucket(ctx context.Context, pid string, order domain.SortOrder, from, to time.Time) (*domain.Bucket, error) {
	list, err := s.Buckets(ctx, pid, order, from, to, 0, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) Buckets(ctx context.Context, pid string, order domain.SortOrder, from, to time.Time, skip, limit int) ([]domain.Bucket, error) {
	dir := "ASC"
	if order == domain.SortDesc {
		dir = "DESC"
	}
	// Пересечение диапазонов: бакет попадает, если [from_ts, to_ts]
	// задевает [from, to].
	query := fmt.Sprintf(`
		SELECT id, pid, fill, capacity, from_ts, to_ts, documents
		FROM buckets
		WHERE pid = $1 AND from_ts <= $2 AND to_ts >= $3
		ORDER BY from_ts %s
		OFFSET $4 LIMIT $5`, dir)

	rows, err := s.pool.Query(ctx, query, pid, to, from, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Bucket
	for rows.Next() {
		var b domain.Bucket
		var docs []byte
		if err := rows.Scan(&b.ID, &b.PID, &b.Fill, &b.Capacity, &b.FromTS, &b.ToTS, &docs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(docs, &b.Documents); err != nil {
			return nil, err
		}
		results = append(results, b)
	}
	return results, rows.Err()
}

// DocumentsByTC постранично отдает глобальный лог для верификации цепочки.
func (s *Store) DocumentsByTC(ctx context.Context, fromTC int64, limit int) ([]domain.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.value
		FROM buckets b, jsonb_array_elements(b.documents) d
		WHERE (d.value->>'tc')::bigint >= $1
		ORDER BY (d.value->>'tc')::bigint ASC
		LIMIT $2`, fromTC, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc domain.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, rows.Err()
}

func (s *Store) DeleteProcessData(ctx context.Context, pid string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM buckets WHERE pid = $1`, pid)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	doc := &domain.Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
