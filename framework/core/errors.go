// Package core предоставляет систему ошибок фреймворка.
package core

import (
	"fmt"
	"runtime"
	"strings"
)

// Коды ошибок фреймворка
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvariantViolation = "INVARIANT_VIOLATION"
	CodeConcurrency        = "CONCURRENCY_CONFLICT"
	CodeUnknownEventType   = "UNKNOWN_EVENT_TYPE"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidConfig      = "INVALID_CONFIG"
)

// Классы ошибок. Сравнение через errors.Is совпадает по коду с любой ошибкой класса.
var (
	ErrValidation         = &FrameworkError{Code: CodeValidation}
	ErrInvariantViolation = &FrameworkError{Code: CodeInvariantViolation}
	ErrConcurrency        = &FrameworkError{Code: CodeConcurrency}
	ErrUnknownEventType   = &FrameworkError{Code: CodeUnknownEventType}
	ErrNotFound           = &FrameworkError{Code: CodeNotFound}
	ErrInvalidConfig      = &FrameworkError{Code: CodeInvalidConfig}
)

// FrameworkError базовый тип ошибки фреймворка
type FrameworkError struct {
	Code       string
	Message    string
	Cause      error
	StackTrace string
}

// Error реализует интерфейс error
func (e *FrameworkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	if e.Message == "" {
		return fmt.Sprintf("[%s]", e.Code)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap возвращает причину ошибки
func (e *FrameworkError) Unwrap() error {
	return e.Cause
}

// Is сравнивает с целевой ошибкой: цель без сообщения совпадает по коду,
// цель с сообщением требует совпадения и кода, и сообщения.
func (e *FrameworkError) Is(target error) bool {
	t, ok := target.(*FrameworkError)
	if !ok {
		return false
	}
	if t.Message == "" {
		return e.Code == t.Code
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewError создает новую ошибку фреймворка
func NewError(code, message string) *FrameworkError {
	return &FrameworkError{
		Code:       code,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// Errorf создает ошибку с форматированным сообщением
func Errorf(code, format string, args ...interface{}) *FrameworkError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap оборачивает существующую ошибку
func Wrap(err error, code, message string) *FrameworkError {
	if err == nil {
		return nil
	}
	return &FrameworkError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// CodeOf возвращает код первой FrameworkError в цепочке или пустую строку
func CodeOf(err error) string {
	for err != nil {
		if fe, ok := err.(*FrameworkError); ok {
			return fe.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// captureStackTrace захватывает stack trace
func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// Убираем первые строки (сама функция captureStackTrace)
	lines := strings.Split(stack, "\n")
	if len(lines) > 4 {
		lines = lines[4:]
	}
	return strings.Join(lines, "\n")
}
