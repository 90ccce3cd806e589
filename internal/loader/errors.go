package loader

import (
	"errors"
	"fmt"
)

// ErrUnknownQuery is returned for a query name the model does not define.
var ErrUnknownQuery = errors.New("unknown query")

// ParseError reports a model file that is not valid YAML or carries
// unknown fields.
type ParseError struct {
	File    string
	Message string
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// DefinitionError reports a definition that cannot be resolved. Err is
// often a *core.UndefinedConceptError carrying suggestions.
type DefinitionError struct {
	File string
	Line int
	// Kind is "concept", "datasource", "merge" or "query".
	Kind string
	Name string
	Err  error
}

func (e *DefinitionError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.File, e.Line)
	}
	if loc != "" {
		return fmt.Sprintf("%s: %s %q: %v", loc, e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *DefinitionError) Unwrap() error { return e.Err }
