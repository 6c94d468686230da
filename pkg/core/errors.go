package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a CompilationError.
type ErrorKind string

// Compilation error kinds.
const (
	KindSyntax                  ErrorKind = "syntax"
	KindUndefined               ErrorKind = "undefined"
	KindReservedName            ErrorKind = "reserved_name"
	KindMaterializationArgument ErrorKind = "materialization_argument"
	KindEvaluation              ErrorKind = "evaluation"
	KindStatement               ErrorKind = "statement"
)

// CompilationError is the single error type produced by template compilation
// and rendering. It identifies the node being compiled and keeps the
// underlying message.
type CompilationError struct {
	NodeID  string
	Path    string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CompilationError) Error() string {
	loc := e.NodeID
	if loc == "" {
		loc = e.Path
	}
	if loc == "" {
		return fmt.Sprintf("compilation error (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("compilation error in %s (%s): %s", loc, e.Kind, e.Message)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// IsCompilationError reports whether err is a CompilationError of the given
// kind. An empty kind matches any CompilationError.
func IsCompilationError(err error, kind ErrorKind) bool {
	var ce *CompilationError
	if !errors.As(err, &ce) {
		return false
	}
	return kind == "" || ce.Kind == kind
}
