package audit

import "time"

// Operation — тип операции, попадающей в журнал доступа.
type Operation string

const (
	OpProcessCreate Operation = "process_create"
	OpProcessDelete Operation = "process_delete"
	OpLog           Operation = "log"
	OpQuery         Operation = "query"
	OpDecrypt       Operation = "decrypt" // каждая расшифровка ключей в vault — аудируема
)

// AccessEvent — одна запись журнала доступа: кто, с каким процессом и
// документом, что делал и чем кончилось. Сами payload'ы сюда не пишем —
// они лежат зашифрованными в основном логе.
type AccessEvent struct {
	ID         string    `json:"id"`       // UUID события
	TraceID    string    `json:"trace_id"` // Сквозной ID запроса
	ClientID   string    `json:"client_id"`
	PID        string    `json:"pid"`
	DocumentID string    `json:"document_id,omitempty"`
	Operation  Operation `json:"operation"`

	// Результат
	Status     string    `json:"status"` // "SUCCESS", "DENIED", "FAILED"
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}
