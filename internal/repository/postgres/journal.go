package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/clearing-house/internal/audit"
)

// WriteBatch сохраняет пачку событий журнала доступа одним запросом.
func (s *Store) WriteBatch(ctx context.Context, events []audit.AccessEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице access_journal
	numFields := 10
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		vals = append(vals,
			e.ID, e.TraceID, e.ClientID, e.PID, e.DocumentID,
			string(e.Operation), e.Status, e.Error, e.Timestamp, e.DurationMs,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO access_journal (id, trace_id, client_id, pid, document_id, operation, status, error, timestamp, duration_ms) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := s.pool.Exec(ctx, query, vals...)
	return err
}
