package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/grainql/internal/dag"
	"github.com/leapstack-labs/grainql/pkg/core"
)

const logPrefix = "[LOADER]"

// Source is one model document.
type Source struct {
	Name    string
	Content []byte
}

// Query is a named statement defined in a model file. Statement is a
// *core.SelectStatement or a *core.PersistStatement.
type Query struct {
	Name      string
	File      string
	Line      int
	Statement any
}

// Model is a loaded semantic model.
type Model struct {
	Env     *core.Environment
	Queries map[string]*Query
	// Files lists the loaded documents, dependencies first.
	Files []string
}

// QueryNames returns the query names in sorted order.
func (m *Model) QueryNames() []string {
	names := make([]string, 0, len(m.Queries))
	for name := range m.Queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Query returns a named query.
func (m *Model) Query(name string) (*Query, error) {
	if q, ok := m.Queries[name]; ok {
		return q, nil
	}
	var similar []string
	for _, n := range m.QueryNames() {
		if strings.Contains(n, name) || strings.Contains(name, n) {
			similar = append(similar, n)
		}
	}
	if len(similar) > 0 {
		return nil, fmt.Errorf("%w %q, did you mean: %s?", ErrUnknownQuery, name, strings.Join(similar, ", "))
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownQuery, name)
}

// Loader reads model files.
type Loader struct {
	logger *slog.Logger
}

// New creates a loader. A nil logger discards output.
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{logger: logger}
}

// LoadDir loads every *.yaml and *.yml file under dir. Hidden files and
// directories are skipped.
func (l *Loader) LoadDir(dir string) (*Model, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan models directory: %w", err)
	}
	sort.Strings(paths)
	return l.LoadFiles(paths...)
}

// LoadFiles loads the given files as one model.
func (l *Loader) LoadFiles(paths ...string) (*Model, error) {
	sources := make([]Source, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read model file: %w", err)
		}
		sources = append(sources, Source{Name: p, Content: content})
	}
	return l.Load(sources...)
}

// document is a decoded source.
type document struct {
	name string
	ns   string
	def  fileDef
	pos  positions
}

// Load builds a model from in-memory sources.
func (l *Loader) Load(sources ...Source) (*Model, error) {
	docs := make([]*document, 0, len(sources))
	for _, src := range sources {
		doc, err := decode(src)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	st, err := l.register(docs)
	if err != nil {
		return nil, err
	}
	model, err := l.resolve(st)
	if err != nil {
		return nil, err
	}
	l.logger.Debug(logPrefix+" model loaded",
		"files", len(docs),
		"concepts", len(st.order),
		"datasources", len(model.Env.Datasources()),
		"queries", len(model.Queries))
	return model, nil
}

func decode(src Source) (*document, error) {
	doc := &document{name: src.Name}
	dec := yaml.NewDecoder(bytes.NewReader(src.Content))
	dec.KnownFields(true)
	if err := dec.Decode(&doc.def); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ParseError{File: src.Name, Message: fmt.Sprintf("invalid model: %v", err)}
	}
	if err := yaml.Unmarshal(src.Content, &doc.pos); err != nil {
		return nil, &ParseError{File: src.Name, Message: fmt.Sprintf("invalid model: %v", err)}
	}
	doc.ns = doc.def.Namespace
	if doc.ns == "" {
		doc.ns = core.DefaultNamespace
	}
	return doc, nil
}

// stub is a phase one entry: a concept name bound to its definition.
type stub struct {
	address string
	def     conceptDef
	doc     *document
	line    int
}

type symbolTable struct {
	docs  []*document
	stubs map[string]*stub
	order []*stub
	graph *dag.Graph
}

// register is phase one: every concept address becomes a stub, and the
// dependency graph between stubs is built.
func (l *Loader) register(docs []*document) (*symbolTable, error) {
	st := &symbolTable{docs: docs, stubs: map[string]*stub{}, graph: dag.NewGraph()}
	for _, doc := range docs {
		for i, def := range doc.def.Concepts {
			s := &stub{address: doc.ns + "." + def.Name, def: def, doc: doc, line: lineOf(doc.pos.Concepts, i)}
			if def.Name == "" {
				return nil, &DefinitionError{File: doc.name, Line: s.line, Kind: "concept", Err: errors.New("name is required")}
			}
			if prev, dup := st.stubs[s.address]; dup {
				return nil, &DefinitionError{
					File: doc.name, Line: s.line, Kind: "concept", Name: s.address,
					Err: fmt.Errorf("already defined in %s:%d", prev.doc.name, prev.line),
				}
			}
			st.stubs[s.address] = s
			st.graph.AddNode(s.address, "concept", s)
		}
	}
	for _, s := range st.stubs {
		for _, ref := range conceptRefs(s.def) {
			parent, ok := st.owner(st.qualify(ref, s.doc.ns))
			if !ok || parent == s.address {
				continue
			}
			if err := st.graph.AddEdge(parent, s.address); err != nil {
				return nil, err
			}
		}
	}

	nodes, err := st.graph.TopologicalSort()
	if err != nil {
		return nil, &DefinitionError{Kind: "concept", Name: "lineage", Err: err}
	}
	for _, n := range nodes {
		st.order = append(st.order, n.Data.(*stub))
	}
	l.logger.Debug(logPrefix+" phase one complete", "stubs", len(st.order))
	return st, nil
}

// qualify maps a reference written in namespace ns onto an address.
// Unknown references are qualified with ns so lookups report them.
func (st *symbolTable) qualify(ref, ns string) string {
	candidates := []string{ns + "." + ref, ref, core.DefaultNamespace + "." + ref}
	for _, c := range candidates {
		if _, ok := st.stubs[c]; ok {
			return c
		}
	}
	for _, c := range candidates {
		if _, ok := st.owner(c); ok {
			return c
		}
	}
	if head, _, ok := strings.Cut(ref, "."); ok && st.isNamespace(head) {
		return ref
	}
	return ns + "." + ref
}

func (st *symbolTable) isNamespace(ns string) bool {
	if ns == core.DefaultNamespace {
		return true
	}
	for _, doc := range st.docs {
		if doc.ns == ns {
			return true
		}
	}
	return false
}

// owner returns the stub that defines address, directly or as one of its
// generated date parts such as order_date.month.
func (st *symbolTable) owner(address string) (string, bool) {
	if _, ok := st.stubs[address]; ok {
		return address, true
	}
	idx := strings.LastIndex(address, ".")
	if idx <= 0 {
		return "", false
	}
	if _, ok := st.stubs[address[:idx]]; ok {
		if _, isFunc := core.ParseFunctionType(address[idx+1:]); isFunc {
			return address[:idx], true
		}
	}
	return "", false
}

// conceptRefs returns every concept name a definition depends on.
func conceptRefs(def conceptDef) []string {
	refs := append([]string{}, def.Keys...)
	lin := def.Lineage
	if lin == nil {
		return refs
	}
	for i := range lin.Args {
		refs = append(refs, nodeRefs(&lin.Args[i])...)
	}
	refs = append(refs, lin.By...)
	refs = append(refs, lin.Over...)
	for _, o := range lin.OrderBy {
		refs = append(refs, o.Concept)
	}
	if lin.Filter != "" {
		refs = append(refs, lin.Filter)
	}
	if lin.Content != "" {
		refs = append(refs, lin.Content)
	}
	refs = append(refs, conditionRefs(lin.Where)...)
	return refs
}

func conditionRefs(c *conditionDef) []string {
	if c == nil {
		return nil
	}
	refs := append(nodeRefs(&c.Left), nodeRefs(&c.Right)...)
	for i := range c.And {
		refs = append(refs, conditionRefs(&c.And[i])...)
	}
	for i := range c.Or {
		refs = append(refs, conditionRefs(&c.Or[i])...)
	}
	return refs
}

func nodeRefs(n *yaml.Node) []string {
	switch n.Kind {
	case yaml.ScalarNode:
		if isReference(n) {
			return []string{n.Value}
		}
	case yaml.SequenceNode:
		var refs []string
		for _, c := range n.Content {
			refs = append(refs, nodeRefs(c)...)
		}
		return refs
	case yaml.MappingNode:
		var refs []string
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == "args" {
				refs = append(refs, nodeRefs(n.Content[i+1])...)
			}
		}
		return refs
	}
	return nil
}

// isReference reports whether a scalar names a concept: plain strings are
// references, quoted strings are literals.
func isReference(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!str" && n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) == 0
}
