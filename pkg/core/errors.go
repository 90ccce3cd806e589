package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks.
var (
	ErrUndefinedConcept = errors.New("undefined concept")
	ErrNoDatasource     = errors.New("no datasource")
	ErrUnresolvable     = errors.New("unresolvable query")
	ErrInvalidSyntax    = errors.New("invalid syntax")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// UndefinedConceptError reports a reference to an address that is not in
// the environment.
type UndefinedConceptError struct {
	Address     string
	Suggestions []string
	Line        int
}

func (e *UndefinedConceptError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "undefined concept: %s", e.Address)
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	if len(e.Suggestions) > 0 {
		fmt.Fprintf(&b, ", did you mean: %s?", strings.Join(e.Suggestions, ", "))
	}
	return b.String()
}

func (e *UndefinedConceptError) Unwrap() error { return ErrUndefinedConcept }

// NoDatasourceError reports concepts that no source could provide.
type NoDatasourceError struct {
	Concepts []string
}

func (e *NoDatasourceError) Error() string {
	return "could not find any datasource for concepts: " + strings.Join(e.Concepts, ", ")
}

func (e *NoDatasourceError) Unwrap() error { return ErrNoDatasource }

// UnresolvableQueryError reports a combination of concepts that cannot be
// reconciled into one result.
type UnresolvableQueryError struct {
	Reason string
}

func (e *UnresolvableQueryError) Error() string { return "unresolvable query: " + e.Reason }

func (e *UnresolvableQueryError) Unwrap() error { return ErrUnresolvable }

// InvalidSyntaxError is an internal invariant violation on query structures.
type InvalidSyntaxError struct {
	Message string
}

func (e *InvalidSyntaxError) Error() string { return e.Message }

func (e *InvalidSyntaxError) Unwrap() error { return ErrInvalidSyntax }

// InvalidArgumentError rejects a malformed function call at construction.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string { return e.Message }

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }
