package domain

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибку. Компоненты возвращают только такие ошибки,
// а в HTTP-статусы их переводит исключительно внешний слой (server).
type Kind int

const (
	KindInternal     Kind = iota // 500: хранилище, криптография, секвенсер
	KindValidation               // 400: битый payload, зарезервированный pid, кривые даты
	KindUnauthorized             // 403: вызывающий не входит в owners
	KindNotFound                 // 404: неизвестный pid/документ или нерасшифровываемый документ
	KindConflict                 // 400: pid или мастер-ключ уже существует
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

type Error struct {
	Kind Kind
	Op   string // компонент.операция, напр. "vault.bootstrap"
	Msg  string // сообщение для клиента (для Internal наружу уходит заглушка)
	Err  error  // причина, только для серверных логов
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E создает ошибку без вложенной причины.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap оборачивает причину, сохраняя классификацию.
func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf достает классификацию из цепочки ошибок.
// Всё неклассифицированное считаем Internal — наружу деталей не отдаем.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// PublicMessage возвращает текст, который безопасно показать клиенту.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Kind != KindInternal {
		return de.Msg
	}
	return "internal error"
}
