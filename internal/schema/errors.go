package schema

import (
	"errors"
	"fmt"
)

// Error reports a schema or query-construction problem. Schema errors are
// programming or configuration mistakes and are never retried.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Label is the entity type involved, if any.
	Label string

	// Property is the property or relationship role involved, if any.
	Property string

	// Message is a human-readable description.
	Message string
}

// ErrorCode categorizes schema errors.
type ErrorCode string

const (
	// ErrCodeDuplicateProperty indicates a type declares a name twice.
	ErrCodeDuplicateProperty ErrorCode = "DUPLICATE_PROPERTY"

	// ErrCodeUnknownType indicates a label that is not registered.
	ErrCodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// ErrCodeUnknownProperty indicates a property the type does not declare.
	ErrCodeUnknownProperty ErrorCode = "UNKNOWN_PROPERTY"

	// ErrCodeInvalidTraversal indicates a type that is not on the query path.
	ErrCodeInvalidTraversal ErrorCode = "INVALID_TRAVERSAL"

	// ErrCodeMultipleParents indicates a type claimed as child by two parents.
	ErrCodeMultipleParents ErrorCode = "MULTIPLE_PARENTS"

	// ErrCodeUnknownChild indicates a relationship to an unregistered type.
	ErrCodeUnknownChild ErrorCode = "UNKNOWN_CHILD"

	// ErrCodeInvalidOperator indicates a filter operator outside the whitelist.
	ErrCodeInvalidOperator ErrorCode = "INVALID_OPERATOR"

	// ErrCodeInvalidType indicates a malformed type declaration.
	ErrCodeInvalidType ErrorCode = "INVALID_TYPE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Label != "" && e.Property != "":
		return fmt.Sprintf("%s: %s (type=%s, property=%s)", e.Code, e.Message, e.Label, e.Property)
	case e.Label != "":
		return fmt.Sprintf("%s: %s (type=%s)", e.Code, e.Message, e.Label)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HasCode reports whether err is a schema Error with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsDuplicateProperty returns true for DUPLICATE_PROPERTY errors.
func IsDuplicateProperty(err error) bool { return HasCode(err, ErrCodeDuplicateProperty) }

// IsUnknownType returns true for UNKNOWN_TYPE errors.
func IsUnknownType(err error) bool { return HasCode(err, ErrCodeUnknownType) }

// IsUnknownProperty returns true for UNKNOWN_PROPERTY errors.
func IsUnknownProperty(err error) bool { return HasCode(err, ErrCodeUnknownProperty) }

// IsInvalidTraversal returns true for INVALID_TRAVERSAL errors.
func IsInvalidTraversal(err error) bool { return HasCode(err, ErrCodeInvalidTraversal) }

// IsInvalidOperator returns true for INVALID_OPERATOR errors.
func IsInvalidOperator(err error) bool { return HasCode(err, ErrCodeInvalidOperator) }

// NewUnknownType creates an UNKNOWN_TYPE error.
func NewUnknownType(label string) *Error {
	return &Error{Code: ErrCodeUnknownType, Label: label, Message: "type is not registered"}
}

// NewUnknownProperty creates an UNKNOWN_PROPERTY error.
func NewUnknownProperty(label, prop string) *Error {
	return &Error{Code: ErrCodeUnknownProperty, Label: label, Property: prop, Message: "type does not declare property"}
}

func newDuplicate(label, name string) *Error {
	return &Error{Code: ErrCodeDuplicateProperty, Label: label, Property: name, Message: "name declared more than once"}
}
