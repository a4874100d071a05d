package models

import (
	"errors"
	"fmt"
)

// ErrorKind закрытый перечень видов ошибок синхронизации.
// Вызывающий код может исчерпывающе обработать каждый вид через KindOf.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindValidation некорректная мутация, отклоняется без повторов
	KindValidation
	// KindDuplicateID мутация с таким id уже есть в outbox (ошибка клиента)
	KindDuplicateID
	// KindBatchInFlight предыдущий пакет ещё не получил ответа
	KindBatchInFlight
	// KindConflict base_sync_token не совпал с текущим токеном сущности
	KindConflict
	// KindNotFound сущность удалена или никогда не существовала
	KindNotFound
	// KindTransient временная ошибка, повторяется с backoff
	KindTransient
	// KindUnauthenticated учётные данные отсутствуют или недействительны
	KindUnauthenticated
	// KindForbidden роль вызывающего не позволяет изменять сущность
	KindForbidden
	// KindAlreadyExists create для уже существующего id
	KindAlreadyExists
	// KindBatchRejected сервер отклонил весь пакет (некорректный конверт)
	KindBatchRejected
)

var kindNames = map[ErrorKind]string{
	KindUnknown:         "unknown",
	KindValidation:      "validation",
	KindDuplicateID:     "duplicate_id",
	KindBatchInFlight:   "batch_in_flight",
	KindConflict:        "conflict",
	KindNotFound:        "not_found",
	KindTransient:       "transient",
	KindUnauthenticated: "unauthenticated",
	KindForbidden:       "forbidden",
	KindAlreadyExists:   "already_exists",
	KindBatchRejected:   "batch_rejected",
}

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SyncError is the single error type of the synchronization core.
type SyncError struct {
	Err    error
	Detail string
	Kind   ErrorKind
}

// Error implements error.
func (e *SyncError) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches any *SyncError of the same kind, so errors.Is(err, ErrConflict) works
// regardless of detail or cause.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation      = &SyncError{Kind: KindValidation}
	ErrDuplicateID     = &SyncError{Kind: KindDuplicateID}
	ErrBatchInFlight   = &SyncError{Kind: KindBatchInFlight}
	ErrConflict        = &SyncError{Kind: KindConflict}
	ErrNotFound        = &SyncError{Kind: KindNotFound}
	ErrTransient       = &SyncError{Kind: KindTransient}
	ErrUnauthenticated = &SyncError{Kind: KindUnauthenticated}
	ErrForbidden       = &SyncError{Kind: KindForbidden}
	ErrAlreadyExists   = &SyncError{Kind: KindAlreadyExists}
	ErrBatchRejected   = &SyncError{Kind: KindBatchRejected}
)

// NewError создает ошибку заданного вида
func NewError(kind ErrorKind, detail string, cause error) *SyncError {
	return &SyncError{Kind: kind, Detail: detail, Err: cause}
}

// Validationf создает ошибку валидации с форматированным описанием
func Validationf(format string, args ...any) *SyncError {
	return &SyncError{Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

// KindOf возвращает вид ошибки или KindUnknown для ошибок вне таксономии
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Retriable reports whether a record that failed with err may be retried with the same id.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUnknown:
		return true
	}
	return false
}
