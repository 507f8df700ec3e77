package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError is returned when a draft or patch fails field checks.
type ValidationError struct {
	Message string
	// field namespace -> failed tag
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	msg := e.Message
	if msg == "" {
		msg = "invalid document"
	}
	return msg + " (" + strings.Join(parts, ", ") + ")"
}

// NotAllowedError reports an action rejected by the lifecycle policy, locally or by the server.
type NotAllowedError struct {
	Type      DocumentType
	Action    Action
	Status    DocumentStatus
	Converted bool
	// server-provided reason, surfaced verbatim
	Message string
}

func (e *NotAllowedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Converted {
		return fmt.Sprintf("%s is not allowed on a converted %s", e.Action, e.Type.Label())
	}
	return fmt.Sprintf("%s is not allowed on %s in status %q", e.Action, e.Type.Label(), e.Status)
}

func IsNotAllowed(err error) bool {
	var target *NotAllowedError
	return errors.As(err, &target)
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
