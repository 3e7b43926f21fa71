package sipcore

import (
	"errors"
	"fmt"
)

// ErrorKind — машиночитаемый вид ошибки ядра.
// Хост получает его в неизменном виде в результате команды.
type ErrorKind string

const (
	// ErrorKindNotFound — аккаунт или вызов с указанным id не существует
	ErrorKindNotFound ErrorKind = "NotFound"

	// ErrorKindInvalidArgument — некорректные данные команды
	ErrorKindInvalidArgument ErrorKind = "InvalidArgument"

	// ErrorKindInvalidTransition — недопустимый переход состояния вызова
	ErrorKindInvalidTransition ErrorKind = "InvalidTransition"

	// ErrorKindEngine — протокольный движок отклонил операцию или упал
	ErrorKindEngine ErrorKind = "EngineError"

	// ErrorKindDuplicateResolution — повторное или неизвестное разрешение токена.
	// Только логируется, наружу как ошибка команды не выходит.
	ErrorKindDuplicateResolution ErrorKind = "DuplicateResolution"
)

// String возвращает строковое представление вида ошибки
func (k ErrorKind) String() string {
	return string(k)
}

// CoreError структурированная ошибка ядра с видом и человекочитаемым сообщением
type CoreError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewError создает CoreError с форматированным сообщением
func NewError(kind ErrorKind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError оборачивает err в CoreError, сохраняя причину для Unwrap
func WrapError(kind ErrorKind, err error, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf извлекает вид ошибки. Любая ошибка без CoreError в цепочке
// считается ошибкой движка.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrorKindEngine
}

// MessageOf извлекает человекочитаемое сообщение ошибки
func MessageOf(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}
