package domain

import "time"

// MasterKey — единственный корневой секрет хранилища ключей.
// Инвариант: в vault существует не более одной записи; вторая попытка
// bootstrap отклоняется, существующий ключ никогда не перезаписывается.
type MasterKey struct {
	ID        string    `json:"id" bson:"_id"`
	Key       []byte    `json:"key" bson:"key"`
	Salt      []byte    `json:"salt" bson:"salt"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// DocumentType описывает, какие именованные поля сообщения шифруются
// по отдельности.
type DocumentType struct {
	ID    string   `json:"id" bson:"_id"`
	PID   string   `json:"pid" bson:"pid"`
	Parts []string `json:"parts" bson:"parts"`
}

// FieldKey — симметричный ключ и nonce для одного поля документа.
type FieldKey struct {
	Key   []byte `json:"key"`
	Nonce []byte `json:"nonce"`
}

// KeyMap — эфемерный набор ключей полей одного документа.
// В открытом виде живет только в памяти на время операции; персистится
// исключительно завернутый под мастер-ключом шифртекст.
type KeyMap map[string]FieldKey

// Zero затирает ключевой материал после использования.
func (km KeyMap) Zero() {
	for _, fk := range km {
		for i := range fk.Key {
			fk.Key[i] = 0
		}
		for i := range fk.Nonce {
			fk.Nonce[i] = 0
		}
	}
}
