package core

// Purpose classifies how a concept behaves with respect to grain.
type Purpose string

// Purpose values.
const (
	PurposeKey      Purpose = "key"
	PurposeProperty Purpose = "property"
	PurposeMetric   Purpose = "metric"
	PurposeConstant Purpose = "constant"
	PurposeUnknown  Purpose = "unknown"
)

// ParsePurpose converts a string into a Purpose.
func ParsePurpose(s string) (Purpose, bool) {
	switch Purpose(s) {
	case PurposeKey, PurposeProperty, PurposeMetric, PurposeConstant, PurposeUnknown:
		return Purpose(s), true
	}
	return "", false
}

// Derivation is the lineage class of a concept, used to pick a node generator.
type Derivation string

// Derivation values.
const (
	DerivationRoot        Derivation = "root"
	DerivationConstant    Derivation = "constant"
	DerivationBasic       Derivation = "basic"
	DerivationAggregate   Derivation = "aggregate"
	DerivationWindow      Derivation = "window"
	DerivationFilter      Derivation = "filter"
	DerivationUnnest      Derivation = "unnest"
	DerivationUnion       Derivation = "union"
	DerivationRowset      Derivation = "rowset"
	DerivationMultiSelect Derivation = "multiselect"
	DerivationMerge       Derivation = "merge"
)

// Granularity tells whether a concept can be cross joined safely.
type Granularity string

// Granularity values.
const (
	SingleRow Granularity = "single_row"
	MultiRow  Granularity = "multi_row"
)

// Modifier tags a column or concept with completeness information.
type Modifier string

// Modifier values.
const (
	ModifierPartial  Modifier = "partial"
	ModifierNullable Modifier = "nullable"
	ModifierHidden   Modifier = "hidden"
)

// JoinType is the SQL join flavor between two sources.
type JoinType string

// JoinType values.
const (
	JoinInner      JoinType = "inner"
	JoinLeftOuter  JoinType = "left outer"
	JoinRightOuter JoinType = "right outer"
	JoinFull       JoinType = "full"
	JoinCross      JoinType = "cross"
)

// SourceType records which strategy produced a QueryDatasource.
type SourceType string

// SourceType values.
const (
	SourceSelect      SourceType = "select"
	SourceGroup       SourceType = "group"
	SourceFilter      SourceType = "filter"
	SourceWindow      SourceType = "window"
	SourceMerge       SourceType = "merge"
	SourceConstant    SourceType = "constant"
	SourceUnion       SourceType = "union"
	SourceUnnest      SourceType = "unnest"
	SourceBasic       SourceType = "basic"
	SourceRowset      SourceType = "rowset"
	SourceMultiSelect SourceType = "multiselect"
)

// Ordering is the sort direction of an order by item.
type Ordering string

// Ordering values.
const (
	Ascending  Ordering = "asc"
	Descending Ordering = "desc"
)

// BooleanOperator joins conditions.
type BooleanOperator string

// BooleanOperator values.
const (
	BoolAnd BooleanOperator = "and"
	BoolOr  BooleanOperator = "or"
)

// ComparisonOperator compares two expressions.
type ComparisonOperator string

// ComparisonOperator values.
const (
	OpEq      ComparisonOperator = "="
	OpNe      ComparisonOperator = "!="
	OpLt      ComparisonOperator = "<"
	OpGt      ComparisonOperator = ">"
	OpLte     ComparisonOperator = "<="
	OpGte     ComparisonOperator = ">="
	OpIn      ComparisonOperator = "in"
	OpNotIn   ComparisonOperator = "not in"
	OpIs      ComparisonOperator = "is"
	OpIsNot   ComparisonOperator = "is not"
	OpLike    ComparisonOperator = "like"
	OpNotLike ComparisonOperator = "not like"
)

// ParseComparisonOperator converts a string into a ComparisonOperator.
func ParseComparisonOperator(s string) (ComparisonOperator, bool) {
	switch op := ComparisonOperator(s); op {
	case OpEq, OpNe, OpLt, OpGt, OpLte, OpGte, OpIn, OpNotIn, OpIs, OpIsNot, OpLike, OpNotLike:
		return op, true
	case "==":
		return OpEq, true
	case "<>":
		return OpNe, true
	}
	return "", false
}

// WindowType is the window function kind.
type WindowType string

// WindowType values.
const (
	WindowRowNumber WindowType = "row_number"
	WindowRank      WindowType = "rank"
	WindowDenseRank WindowType = "dense_rank"
	WindowLag       WindowType = "lag"
	WindowLead      WindowType = "lead"
	WindowSum       WindowType = "sum"
	WindowCount     WindowType = "count"
	WindowAvg       WindowType = "avg"
	WindowMax       WindowType = "max"
	WindowMin       WindowType = "min"
)

// ParseWindowType converts a string into a WindowType.
func ParseWindowType(s string) (WindowType, bool) {
	switch w := WindowType(s); w {
	case WindowRowNumber, WindowRank, WindowDenseRank, WindowLag, WindowLead,
		WindowSum, WindowCount, WindowAvg, WindowMax, WindowMin:
		return w, true
	}
	return "", false
}

// Internal concept naming.
const (
	DefaultNamespace  = "local"
	InternalNamespace = "__internal"
	AllRowsConcept    = "all_rows"
	PrePersistPrefix  = "_pre_persist_"
)
