package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hay-kot/criterio"
)

var (
	// ErrValidation marks a message rejected for bad or missing fields.
	// The wrapped error is a criterio.FieldErrors naming every field.
	ErrValidation = errors.New("invalid message")

	// ErrMalformed marks a body that is not a JSON object of the
	// expected shape.
	ErrMalformed = errors.New("malformed message body")
)

// Decode parses a request body for the given category, fills defaults
// and validates it. The returned message has no ID.
func Decode(category Category, data []byte, now time.Time) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	m := w.message(category)
	m.Normalize(now)

	var errs criterio.FieldErrorsBuilder
	if w.Type != "" && w.Type != category {
		errs = errs.Append("type", fmt.Errorf("body type %q does not match %q", w.Type, category))
	}
	errs = m.validate(errs)
	if err := errs.ToError(); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return m, nil
}

// Normalize applies defaults: timestamp falls back to now, times are
// UTC, informational priority defaults to "normal".
func (m *Message) Normalize(now time.Time) {
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.Timestamp = m.Timestamp.UTC()
	if m.Alert != nil && m.Alert.ExpiresAt != nil {
		exp := m.Alert.ExpiresAt.UTC()
		m.Alert.ExpiresAt = &exp
	}
	if m.Informational != nil && m.Informational.Priority == "" {
		m.Informational.Priority = DefaultPriority
	}
}

// Validate checks required fields and category constraints, reporting
// every violation at once.
func (m Message) Validate() error {
	var errs criterio.FieldErrorsBuilder
	errs = m.validate(errs)
	if err := errs.ToError(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

func (m Message) validate(errs criterio.FieldErrorsBuilder) criterio.FieldErrorsBuilder {
	if _, ok := ParseCategory(string(m.Category)); !ok {
		errs = errs.Append("type", fmt.Errorf("unknown category %q", m.Category))
	}
	if strings.TrimSpace(m.Title) == "" {
		errs = errs.Append("title", errors.New("title is required"))
	}
	switch m.Value.Kind() {
	case ValueNone:
		errs = errs.Append("value", errors.New("value is required"))
	case ValueUnsupported:
		errs = errs.Append("value", errors.New("value must be text, number, mapping or list"))
	}
	if !m.Presentation.Valid() {
		errs = errs.Append("presentation_method", fmt.Errorf("unsupported presentation method %q", m.Presentation))
	}
	if m.Timestamp.IsZero() {
		errs = errs.Append("timestamp", errors.New("timestamp is required"))
	}

	if m.Category == CategoryAlert {
		switch {
		case m.Alert == nil || m.Alert.Severity == "":
			errs = errs.Append("severity", errors.New("severity is required for alerts"))
		case !m.Alert.Severity.Valid():
			errs = errs.Append("severity", fmt.Errorf("unsupported severity %q", m.Alert.Severity))
		}
		if m.Alert != nil && m.Alert.ExpiresAt != nil && !m.Alert.ExpiresAt.After(m.Timestamp) {
			errs = errs.Append("expires_at", errors.New("expires_at must be after timestamp"))
		}
	}
	return errs
}

// FieldErrors extracts the per-field violations from a validation error.
func FieldErrors(err error) criterio.FieldErrors {
	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		return fieldErrs
	}
	return nil
}
