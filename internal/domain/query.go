package domain

import "time"

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// QueryOptions — нормализованные параметры постраничной выборки.
// Диапазон дат уже раскрыт в конкретные моменты времени (см. server/dates.go).
type QueryOptions struct {
	Page     int
	Size     int
	Sort     SortOrder
	DateFrom time.Time
	DateTo   time.Time
}

// QueryResult — конверт ответа на range-запрос.
type QueryResult struct {
	DateFrom  string          `json:"date_from"`
	DateTo    string          `json:"date_to"`
	Page      int             `json:"page"`
	Size      int             `json:"size"`
	Order     string          `json:"order"`
	Documents []PlainDocument `json:"documents"`
}
