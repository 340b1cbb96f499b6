package domain

import (
	"fmt"
	"time"
)

// MaxBucketSize — фиксированная вместимость бакета. Ограничивает накладные
// расходы на запись и задает шаг пагинации (см. repository.PageWindow).
const MaxBucketSize = 1000

// Bucket группирует последовательные документы одного процесса.
// Инвариант: Fill <= Capacity; FromTS/ToTS накрывают таймстемпы всех
// вложенных документов; бакеты процесса тотально упорядочены по FromTS.
type Bucket struct {
	ID        string     `json:"id" bson:"_id"`
	PID       string     `json:"pid" bson:"pid"`
	Fill      int        `json:"fill" bson:"fill"`
	Capacity  int        `json:"capacity" bson:"capacity"`
	FromTS    time.Time  `json:"from_ts" bson:"from_ts"`
	ToTS      time.Time  `json:"to_ts" bson:"to_ts"`
	Documents []Document `json:"documents" bson:"documents"`
}

// BucketID строит ключ бакета: pid + момент открытия.
func BucketID(pid string, from time.Time) string {
	return fmt.Sprintf("%s_%d", pid, from.UnixMilli())
}
