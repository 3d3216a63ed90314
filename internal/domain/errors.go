package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStatus — значение вне перечисления статусов.
	ErrInvalidStatus = errors.New("invalid content status")
	// ErrIllegalTransition — переход отсутствует в таблице.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrTerminalStatus — попытка изменить статус failed или expired.
	ErrTerminalStatus = errors.New("status is terminal")
	// ErrInvalidContentType — тип вне фиксированного набора.
	ErrInvalidContentType = errors.New("invalid content type")
	// ErrInvalidBlock — нарушен инвариант блока.
	ErrInvalidBlock = errors.New("invalid content block")
	// ErrBlockNotFound — блок с таким идентификатором отсутствует.
	ErrBlockNotFound = errors.New("content block not found")
	// ErrNotRequeueable — блок нельзя вернуть в повтор из текущего статуса.
	ErrNotRequeueable = errors.New("content block cannot be requeued")
	// ErrConcurrentUpdate — условная запись не применилась, блок изменён другим воркером.
	ErrConcurrentUpdate = errors.New("content block was updated concurrently")
)

// TransitionError описывает отклонённый переход.
type TransitionError struct {
	From ContentStatus
	To   ContentStatus
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s -> %s: %v", e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// IsValidation сообщает, относится ли ошибка к ошибкам валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrTerminalStatus) ||
		errors.Is(err, ErrInvalidContentType) ||
		errors.Is(err, ErrInvalidBlock)
}
