// Package dialect renders processed queries into SQL.
//
// A Dialect is pure data: identifier quoting, limit syntax, function and
// window templates, and type names. Concrete dialects are registered from
// pkg/dialects/*/ packages; the ANSI dialect is built in and is the default.
package dialect

import (
	"maps"
	"slices"
	"strings"

	"github.com/leapstack-labs/grainql/pkg/core"
)

// NormalizationStrategy defines how unquoted identifiers are normalized.
type NormalizationStrategy int

const (
	// NormCaseInsensitive keeps identifiers as written (DuckDB).
	NormCaseInsensitive NormalizationStrategy = iota
	// NormLowercase folds unquoted identifiers to lowercase (Postgres).
	NormLowercase
	// NormUppercase folds unquoted identifiers to uppercase (Snowflake).
	NormUppercase
)

// IdentifierConfig defines identifier quoting.
type IdentifierConfig struct {
	Quote         string
	QuoteEnd      string
	Escape        string
	Normalization NormalizationStrategy
}

// LimitStyle selects how row limits are written.
type LimitStyle int

const (
	// LimitClause appends LIMIT n.
	LimitClause LimitStyle = iota
	// LimitFetch appends FETCH FIRST n ROWS ONLY.
	LimitFetch
)

// FunctionRenderer renders a function call from its rendered arguments.
type FunctionRenderer func(args []string) string

// WindowRenderer renders a window function. concept is empty for ranking
// functions; offset is zero when unset.
type WindowRenderer func(concept, partition, sort string, offset int) string

// Dialect is a SQL dialect configuration.
type Dialect struct {
	Name        string
	Identifiers IdentifierConfig
	Limit       LimitStyle
	// Explain prefixes a show statement.
	Explain string

	functions  map[core.FunctionType]FunctionRenderer
	grainMatch map[core.FunctionType]FunctionRenderer
	windows    map[core.WindowType]WindowRenderer
	datatypes  map[string]string
	reserved   map[string]struct{}
	persist    func(table string) string
}

// QuoteIdentifier quotes an identifier using the dialect's quote characters.
func (d *Dialect) QuoteIdentifier(name string) string {
	q, end := d.Identifiers.Quote, d.Identifiers.QuoteEnd
	if end == "" {
		end = q
	}
	escaped := name
	if d.Identifiers.Escape != "" {
		escaped = strings.ReplaceAll(name, end, d.Identifiers.Escape)
	}
	return q + escaped + end
}

// IsReservedWord returns true if the word needs quoting when used as an identifier.
func (d *Dialect) IsReservedWord(word string) bool {
	_, ok := d.reserved[strings.ToLower(word)]
	return ok
}

// QuoteIdentifierIfNeeded quotes an identifier only if it's a reserved word.
func (d *Dialect) QuoteIdentifierIfNeeded(name string) string {
	if d.IsReservedWord(name) {
		return d.QuoteIdentifier(name)
	}
	return name
}

// NormalizeName normalizes an identifier according to dialect rules.
func (d *Dialect) NormalizeName(name string) string {
	switch d.Identifiers.Normalization {
	case NormLowercase:
		return strings.ToLower(name)
	case NormUppercase:
		return strings.ToUpper(name)
	}
	return name
}

// Function returns the renderer for op. When grouped is false the query is
// already at the aggregate's grain and aggregates collapse to their input.
func (d *Dialect) Function(op core.FunctionType, grouped bool) (FunctionRenderer, bool) {
	if !grouped {
		if fn, ok := d.grainMatch[op]; ok {
			return fn, true
		}
	}
	fn, ok := d.functions[op]
	return fn, ok
}

// Window returns the renderer for a window function.
func (d *Dialect) Window(t core.WindowType) (WindowRenderer, bool) {
	fn, ok := d.windows[t]
	return fn, ok
}

// Datatype returns the dialect's name for a type.
func (d *Dialect) Datatype(t core.DataType) string {
	switch v := t.(type) {
	case core.ListType:
		return d.Datatype(v.Elem) + "[]"
	case core.NumericType:
		return v.String()
	}
	if name, ok := d.datatypes[t.String()]; ok {
		return name
	}
	return t.String()
}

// PersistPrefix is the statement prefix writing a query into table.
func (d *Dialect) PersistPrefix(table string) string {
	return d.persist(table)
}

// Functions returns the supported function names, sorted.
func (d *Dialect) Functions() []string {
	out := make([]string, 0, len(d.functions))
	for op := range d.functions {
		out = append(out, string(op))
	}
	slices.Sort(out)
	return out
}

// Builder provides a fluent API for constructing dialects. A new builder
// starts from the ANSI templates.
type Builder struct {
	d *Dialect
}

// NewDialect creates a new dialect builder with the given name.
func NewDialect(name string) *Builder {
	return &Builder{d: &Dialect{
		Name:        name,
		Identifiers: IdentifierConfig{Quote: `"`, QuoteEnd: `"`, Escape: `""`},
		Explain:     "EXPLAIN",
		functions:   maps.Clone(baseFunctions),
		grainMatch:  maps.Clone(baseGrainMatch),
		windows:     maps.Clone(baseWindows),
		datatypes:   maps.Clone(baseDatatypes),
		reserved:    map[string]struct{}{},
		persist:     func(table string) string { return "CREATE TABLE " + table + " AS\n" },
	}}
}

// From creates a builder copying an existing dialect under a new name.
func From(base *Dialect, name string) *Builder {
	d := *base
	d.Name = name
	d.functions = maps.Clone(base.functions)
	d.grainMatch = maps.Clone(base.grainMatch)
	d.windows = maps.Clone(base.windows)
	d.datatypes = maps.Clone(base.datatypes)
	d.reserved = maps.Clone(base.reserved)
	return &Builder{d: &d}
}

// Identifiers configures identifier quoting and normalization.
func (b *Builder) Identifiers(quote, quoteEnd, escape string, norm NormalizationStrategy) *Builder {
	b.d.Identifiers = IdentifierConfig{Quote: quote, QuoteEnd: quoteEnd, Escape: escape, Normalization: norm}
	return b
}

// Limit sets the limit syntax.
func (b *Builder) Limit(style LimitStyle) *Builder {
	b.d.Limit = style
	return b
}

// Functions overrides function templates.
func (b *Builder) Functions(fns map[core.FunctionType]FunctionRenderer) *Builder {
	maps.Copy(b.d.functions, fns)
	return b
}

// Without removes function templates the dialect cannot express.
func (b *Builder) Without(ops ...core.FunctionType) *Builder {
	for _, op := range ops {
		delete(b.d.functions, op)
		delete(b.d.grainMatch, op)
	}
	return b
}

// GrainMatch overrides templates used when the query is already at the
// aggregate's grain.
func (b *Builder) GrainMatch(fns map[core.FunctionType]FunctionRenderer) *Builder {
	maps.Copy(b.d.grainMatch, fns)
	return b
}

// Windows overrides window templates.
func (b *Builder) Windows(fns map[core.WindowType]WindowRenderer) *Builder {
	maps.Copy(b.d.windows, fns)
	return b
}

// Datatypes overrides type names used in casts.
func (b *Builder) Datatypes(types map[string]string) *Builder {
	maps.Copy(b.d.datatypes, types)
	return b
}

// WithReservedWords adds reserved words requiring quotes.
func (b *Builder) WithReservedWords(words ...string) *Builder {
	for _, w := range words {
		b.d.reserved[strings.ToLower(w)] = struct{}{}
	}
	return b
}

// Explain sets the keyword prefixing show statements.
func (b *Builder) Explain(keyword string) *Builder {
	b.d.Explain = keyword
	return b
}

// Persist sets the statement prefix writing a query into a table.
func (b *Builder) Persist(fn func(table string) string) *Builder {
	b.d.persist = fn
	return b
}

// Build returns the dialect.
func (b *Builder) Build() *Dialect {
	return b.d
}
