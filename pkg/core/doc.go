// Package core defines the semantic model shared by every GrainQL stage.
//
// This package contains:
//   - Concepts, their lineage sum type and grain algebra
//   - Conditions, statements and the Environment registry
//   - Datasources, QueryDatasources, joins and CTEs
//   - The error taxonomy returned by resolution
//
// The Golden Rule: pkg/core performs no I/O and imports only the standard
// library and golang.org/x/text. All other packages depend on core, not the
// reverse.
package core
