package tools

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to the model and to callers.
const (
	KindUnknownTool     = "unknown_tool"
	KindToolDisabled    = "tool_disabled"
	KindToolNotAllowed  = "tool_not_allowed"
	KindInvalidArgument = "invalid_argument"
	KindPathNotAllowed  = "path_not_allowed"
	KindProtected       = "protected"
	KindNotFound        = "not_found"
	KindIO              = "io_error"
	KindToolError       = "tool_error"
)

// Error is a value-level tool failure with a stable kind.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return e.Kind + ": " + e.Message }

// Errorf builds an *Error.
func Errorf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a tool error, or "" for other errors.
func KindOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsPolicy reports whether err is a policy refusal that must be audited.
func IsPolicy(err error) bool {
	switch KindOf(err) {
	case KindToolDisabled, KindToolNotAllowed, KindPathNotAllowed, KindProtected:
		return true
	}
	return false
}
