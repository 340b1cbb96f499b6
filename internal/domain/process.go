package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReservedPID — служебный идентификатор, под которым нельзя завести процесс.
const ReservedPID = "default"

// PID — идентификатор процесса (тенанта). Клиенты присылают его либо простой
// строкой ("p1"), либо объектом ({"id": "p1"}). Храним как тегированную сумму,
// разбор — только на границе сериализации, никакого duck-typing.
type PID struct {
	ID      string
	Complex bool // true, если пришла структурная форма {"id": ...}
}

func SimplePID(id string) PID { return PID{ID: id} }

func (p PID) String() string { return p.ID }

func (p PID) MarshalJSON() ([]byte, error) {
	if p.Complex {
		return json.Marshal(struct {
			ID string `json:"id"`
		}{ID: p.ID})
	}
	return json.Marshal(p.ID)
}

func (p *PID) UnmarshalJSON(b []byte) error {
	// Сначала пробуем простую форму
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		p.ID = s
		p.Complex = false
		return nil
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("pid: unsupported identifier form: %w", err)
	}
	if obj.ID == "" {
		return fmt.Errorf("pid: empty structured identifier")
	}
	p.ID = obj.ID
	p.Complex = true
	return nil
}

// Process — тенант клирингового центра. Owners контролируют запись и чтение.
// Набор владельцев только растет (через явное создание), молча не сужается.
type Process struct {
	ID        string    `json:"id" bson:"_id"`
	Owners    []string  `json:"owners" bson:"owners"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// IsOwner проверяет вхождение клиента в owners.
func (p *Process) IsOwner(clientID string) bool {
	for _, o := range p.Owners {
		if o == clientID {
			return true
		}
	}
	return false
}
