// Package apperr содержит типизированные ошибки для границы API.
// Репозитории заворачивают ошибки как fmt.Errorf("op: %w", err); здесь — только
// классы, которые обработчики переводят в HTTP-статусы: 400, 403, 404, 502.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound — операция над отсутствующим сообщением/чатом/отложенным сообщением.
// Удаление отсутствующего — no-op; чтение отсутствующего — 404.
var ErrNotFound = errors.New("not found")

// ValidationError — некорректный ввод пользователя: пустой или слишком длинный
// текст, нераспознанное или слишком близкое время отправки, отсутствующий чат-адресат.
// Восстановимая: возвращается вызывающему для исправления, без повторов.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// Validationf создаёт ValidationError с форматированной причиной.
func Validationf(format string, v ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, v...)}
}

// IsValidation сообщает, является ли ошибка (или её обёртка) ошибкой валидации.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PermissionError — действие запрещено: удаление для всех не автором сообщения.
type PermissionError struct {
	Action string
}

func (e *PermissionError) Error() string { return "permission denied: " + e.Action }

// IsPermission сообщает, является ли ошибка ошибкой прав.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// UpstreamError — отказ внешнего коллаборатора (хранилище, blob, auth).
// Ядро не повторяет операцию само; вызывающий может повторить целиком.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return "upstream " + e.Op + ": " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream заворачивает ошибку внешней подсистемы с именем операции.
func Upstream(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}

// IsUpstream сообщает, является ли ошибка отказом внешней подсистемы.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
