package sync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoShop            = errors.New("shop not found for caller")
	ErrItemNotFound      = errors.New("queue item not found")
	ErrEntityNotFound    = errors.New("entity not found")
	ErrRevisionMismatch  = errors.New("entity revision changed")
	ErrInvalidTransition = errors.New("invalid queue item status transition")
	ErrEntityBusy        = errors.New("entity has an in-flight change")
	ErrPermanent         = errors.New("permanent apply failure")
	ErrNoApplier         = errors.New("no applier registered for entity type")

	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrUnknownAction     = errors.New("unknown action")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrUnknownResolution = errors.New("unknown resolution")
)

// FieldError ошибка валидации конкретного поля.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationError набор ошибок валидации запроса или отдельного изменения.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string, value any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message, Value: value})
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Permanent помечает ошибку применения как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent сообщает, что повтор применения бесполезен.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) || errors.Is(err, ErrEntityNotFound)
}
