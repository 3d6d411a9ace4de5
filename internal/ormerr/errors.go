// Package ormerr defines the error kinds raised by the ORM core.
// Every concrete failure unwraps to one of the sentinel kinds so callers can
// use errors.Is without parsing messages.
package ormerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModelNotReady indicates a model still has unresolved forward references.
	ErrModelNotReady = errors.New("model not ready")
	// ErrFieldNotFound indicates a path segment does not name a field or relation.
	ErrFieldNotFound = errors.New("field not found")
	// ErrQueryDefinition indicates a structurally invalid query.
	ErrQueryDefinition = errors.New("invalid query definition")
	// ErrMultipleMatches indicates get() matched more than one object.
	ErrMultipleMatches = errors.New("multiple objects matched")
	// ErrNoMatch indicates get() matched nothing.
	ErrNoMatch = errors.New("no object matched")
	// ErrModelDefinition indicates an invalid model declaration.
	ErrModelDefinition = errors.New("invalid model definition")
	// ErrRelationship indicates a relation operation that the relation kind does not support.
	ErrRelationship = errors.New("invalid relationship operation")
	// ErrValidation indicates a field value failed coercion or constraints.
	ErrValidation = errors.New("validation failed")
)

// Error carries the model and path a failure refers to.
type Error struct {
	Kind    error
	Model   string
	Path    string
	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Model != "" {
		b.WriteString(": model ")
		b.WriteString(e.Model)
	}
	if e.Path != "" {
		b.WriteString(": path ")
		b.WriteString(fmt.Sprintf("%q", e.Path))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// New builds an Error of the given kind.
func New(kind error, model, path, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Model: model, Path: path, Message: msg}
}

// NotReady reports a model that still has pending forward references.
func NotReady(model string, pending []string) *Error {
	return New(ErrModelNotReady, model, "", "unresolved references to %s; call Resolve after declaring them", strings.Join(pending, ", "))
}

// FieldNotFound reports a path segment that does not resolve on model.
func FieldNotFound(model, path, segment string) *Error {
	return New(ErrFieldNotFound, model, path, "no field or relation named %q", segment)
}

// QueryDefinition reports an invalid combination of query options.
func QueryDefinition(model, format string, args ...any) *Error {
	return New(ErrQueryDefinition, model, "", format, args...)
}

// ModelDefinition reports an invalid declaration.
func ModelDefinition(model, format string, args ...any) *Error {
	return New(ErrModelDefinition, model, "", format, args...)
}

// Validation reports a rejected field value.
func Validation(model, field, format string, args ...any) *Error {
	return New(ErrValidation, model, field, format, args...)
}
