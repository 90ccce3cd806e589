package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"

	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/dialect"
	_ "github.com/leapstack-labs/grainql/pkg/dialects/duckdb"
	_ "github.com/leapstack-labs/grainql/pkg/dialects/postgres"
	_ "github.com/leapstack-labs/grainql/pkg/dialects/sqlite"
)

var documentedTypes = []core.DataType{
	core.TypeString, core.TypeInteger, core.TypeFloat, core.TypeBool, core.TypeDate, core.TypeTimestamp,
}

// generateDialectDocs writes an overview page with a function support
// matrix and one page per registered dialect.
func generateDialectDocs(outDir string) error {
	log.Printf("Generating dialect docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var dialects []*dialect.Dialect
	for _, name := range dialect.List() {
		d, _ := dialect.Get(name)
		dialects = append(dialects, d)
	}

	if err := generateDialectIndex(dialects, outDir); err != nil {
		return fmt.Errorf("failed to generate index: %w", err)
	}
	log.Printf("  Generated index.md")

	for _, d := range dialects {
		if err := generateDialectPage(d, outDir); err != nil {
			return fmt.Errorf("failed to generate page for %s: %w", d.Name, err)
		}
		log.Printf("  Generated %s.md", d.Name)
	}
	return nil
}

func generateDialectIndex(dialects []*dialect.Dialect, outDir string) error {
	w := NewMarkdownWriter()
	w.Frontmatter("SQL Dialects", "SQL dialects grainql renders")
	w.GeneratedMarker()

	w.Header(1, "SQL Dialects")
	w.Paragraph("The dialect is taken from --dialect, then from the target type, then defaults to ansi.")

	var rows [][]string
	for _, d := range dialects {
		rows = append(rows, []string{
			fmt.Sprintf("[%s](/dialects/%s)", InlineCode(d.Name), d.Name),
			InlineCode(d.Identifiers.Quote + "name" + d.Identifiers.QuoteEnd),
			limitStyle(d.Limit),
			fmt.Sprintf("%d", len(d.Functions())),
		})
	}
	w.Table([]string{"Dialect", "Quoting", "Limit", "Functions"}, rows)

	w.Header(2, "Function Support")
	var all []string
	for _, d := range dialects {
		for _, fn := range d.Functions() {
			if !slices.Contains(all, fn) {
				all = append(all, fn)
			}
		}
	}
	slices.Sort(all)

	headers := []string{"Function"}
	for _, d := range dialects {
		headers = append(headers, d.Name)
	}
	rows = rows[:0]
	for _, fn := range all {
		row := []string{InlineCode(fn)}
		for _, d := range dialects {
			if slices.Contains(d.Functions(), fn) {
				row = append(row, "yes")
			} else {
				row = append(row, "")
			}
		}
		rows = append(rows, row)
	}
	w.Table(headers, rows)

	return os.WriteFile(filepath.Join(outDir, "index.md"), w.Bytes(), 0600)
}

func generateDialectPage(d *dialect.Dialect, outDir string) error {
	w := NewMarkdownWriter()
	w.Frontmatter(d.Name, "SQL rendering rules of the "+d.Name+" dialect")
	w.GeneratedMarker()

	w.Header(1, d.Name)
	w.CodeBlock("bash", "grainql compile --dialect "+d.Name)

	w.Header(2, "Rendering")
	explain := d.Explain
	if explain == "" {
		explain = "unsupported"
	}
	w.Table([]string{"Setting", "Value"}, [][]string{
		{"Identifier quote", InlineCode(d.Identifiers.Quote + d.Identifiers.QuoteEnd)},
		{"Normalization", normalization(d.Identifiers.Normalization)},
		{"Row limit", limitStyle(d.Limit)},
		{"Explain", InlineCode(explain)},
		{"Persist", InlineCode(d.PersistPrefix("<table>"))},
	})

	w.Header(2, "Types")
	var rows [][]string
	for _, t := range documentedTypes {
		rows = append(rows, []string{InlineCode(t.String()), InlineCode(d.Datatype(t))})
	}
	w.Table([]string{"Concept type", "SQL type"}, rows)

	w.Header(2, "Functions")
	fns := d.Functions()
	items := make([]string, len(fns))
	for i, fn := range fns {
		items[i] = InlineCode(fn)
	}
	w.BulletList(items)

	return os.WriteFile(filepath.Join(outDir, d.Name+".md"), w.Bytes(), 0600)
}

func limitStyle(s dialect.LimitStyle) string {
	if s == dialect.LimitFetch {
		return InlineCode("FETCH FIRST n ROWS ONLY")
	}
	return InlineCode("LIMIT n")
}

func normalization(n dialect.NormalizationStrategy) string {
	switch n {
	case dialect.NormLowercase:
		return "lowercase"
	case dialect.NormUppercase:
		return "uppercase"
	default:
		return "as written"
	}
}
