package domain

import "time"

// ReceiptVersion попадает в подписанную квитанцию, чтобы проверяющая сторона
// знала формат claims.
const ReceiptVersion = "2.0"

// Receipt — подписанное подтверждение логирования. Token содержит JWS
// (PS256), который клиент может проверить офлайн через /.well-known/jwks.json.
type Receipt struct {
	Token      string    `json:"receipt"`
	DocumentID string    `json:"document_id"`
	PID        string    `json:"pid"`
	TC         int64     `json:"tc"`
	ChainHash  string    `json:"chain_hash"`
	Timestamp  time.Time `json:"timestamp"`
}
