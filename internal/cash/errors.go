// Package cash реализует жизненный цикл кассовой смены и сверку наличных:
// машину состояний, книгу продаж, журнал движений, пересчёты и расчёт ожидаемой суммы.
//
// Функции пакета работают с одной сменой в памяти и не выполняют ввода-вывода.
// Сериализацию изменений по смене обеспечивает вызывающая сторона.
package cash

import (
	"errors"
	"fmt"
)

// Виды ошибок кассового модуля. Конкретные ошибки оборачивают их через %w.
var (
	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = errors.New("validation error")
	// ErrState возвращается, если операция недопустима в текущем состоянии смены.
	ErrState = errors.New("invalid state")
	// ErrConflict возвращается при попытке открыть вторую активную смену на кассе.
	ErrConflict = errors.New("conflict")
	// ErrConcurrency возвращается, если изменение проиграло гонку; операцию можно повторить.
	ErrConcurrency = errors.New("concurrent modification")
	// ErrNotFound возвращается, если смена, движение или пересчёт не найдены.
	ErrNotFound = errors.New("not found")
)

// IsRetryable сообщает, может ли вызывающая сторона повторить операцию.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency)
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func stateError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

var errSessionClosed = stateError("session is closed")
