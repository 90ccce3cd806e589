package dialect

func init() {
	Register(ANSI)
	SetDefault(ANSI)
}

// ANSI is the base dialect. Other dialects start from it with From.
var ANSI = NewDialect("ansi").
	Limit(LimitFetch).
	Identifiers(`"`, `"`, `""`, NormLowercase).
	WithReservedWords(
		"all", "and", "as", "asc", "between", "by", "case", "cast", "create",
		"cross", "current_date", "current_timestamp", "desc", "distinct", "else",
		"end", "exists", "false", "fetch", "from", "full", "group", "having", "in",
		"inner", "is", "join", "left", "like", "limit", "not", "null", "offset",
		"on", "or", "order", "outer", "right", "select", "table", "then", "true",
		"union", "user", "when", "where", "with",
	).
	Build()
