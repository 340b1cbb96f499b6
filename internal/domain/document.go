package domain

import "time"

// GenesisHash — значение chain_hash для самой первой записи (tc == 0).
const GenesisHash = "genesis"

// Document — одна залогированная единица улики. После записи неизменяема.
// Parts хранит шифртексты полей (имя поля -> ciphertext), ключи к ним
// лежат рядом в завернутом виде (WrappedKeys) и раскрываются только в Vault.
type Document struct {
	ID          string            `json:"id" bson:"id"`
	PID         string            `json:"pid" bson:"pid"`
	TC          int64             `json:"tc" bson:"tc"` // глобальный номер транзакции
	TS          time.Time         `json:"ts" bson:"ts"`
	ChainHash   string            `json:"chain_hash" bson:"chain_hash"`
	DocType     string            `json:"doc_type" bson:"doc_type"`
	Parts       map[string][]byte `json:"parts" bson:"parts"`
	WrappedKeys []byte            `json:"wrapped_keys" bson:"wrapped_keys"`
}

// PlainDocument — расшифрованная форма для выдачи клиенту.
type PlainDocument struct {
	ID        string            `json:"id"`
	PID       string            `json:"pid"`
	TC        int64             `json:"tc"`
	TS        time.Time         `json:"ts"`
	ChainHash string            `json:"chain_hash"`
	DocType   string            `json:"doc_type"`
	Parts     map[string][]byte `json:"parts"`
}
