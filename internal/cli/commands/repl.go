package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/grainql/internal/cli/output"
	"github.com/leapstack-labs/grainql/internal/engine"
	"github.com/leapstack-labs/grainql/internal/state"
)

const (
	replPrompt     = "grainql> "
	replContPrompt = "     ...> "
)

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	var run bool

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Compile queries interactively",
		Long: `Start an interactive session against the semantic model.

Enter a query name, a comma separated list of concepts or a YAML query
mapping, terminated by a semicolon. Type .help for commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, r, cfg, err := setup(cmd, state.OriginREPL)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			s := &replSession{eng: eng, r: r, run: run, limit: 20}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          replPrompt,
				HistoryFile:     filepath.Join(filepath.Dir(cfg.StatePath), "repl_history"),
				AutoComplete:    s.completer(),
				InterruptPrompt: "^C",
				EOFPrompt:       ".quit",
				Stdin:           io.NopCloser(cmd.InOrStdin()),
				Stdout:          cmd.OutOrStdout(),
				Stderr:          cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize REPL: %w", err)
			}
			defer func() { _ = rl.Close() }()

			r.Println(fmt.Sprintf("grainql REPL (models: %s, dialect: %s)", eng.ModelsDir(), eng.Dialect().Name))
			r.Println("Type .help for commands, .quit to exit")
			r.Println()

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					s.buf.Reset()
					rl.SetPrompt(replPrompt)
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if s.eval(cmd.Context(), line) {
					return nil
				}
				if s.buf.Len() > 0 {
					rl.SetPrompt(replContPrompt)
				} else {
					rl.SetPrompt(replPrompt)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&run, "run", false, "Execute every query against the target")

	return cmd
}

// replSession evaluates REPL input against an engine.
type replSession struct {
	eng   *engine.Engine
	r     *output.Renderer
	run   bool
	limit int
	buf   strings.Builder
}

// eval handles one input line; it reports whether the session should end.
func (s *replSession) eval(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	if s.buf.Len() == 0 {
		if trimmed == "" {
			return false
		}
		if strings.HasPrefix(trimmed, ".") {
			return s.dotCommand(ctx, trimmed)
		}
	}

	s.buf.WriteString(line)
	if !strings.HasSuffix(trimmed, ";") {
		s.buf.WriteString("\n")
		return false
	}
	src := strings.TrimSuffix(strings.TrimSpace(s.buf.String()), ";")
	s.buf.Reset()
	s.execute(ctx, src)
	return false
}

func (s *replSession) execute(ctx context.Context, src string) {
	var (
		c   *engine.Compiled
		err error
	)
	if m, merr := s.eng.Model(); merr == nil {
		if _, ok := m.Queries[strings.TrimSpace(src)]; ok {
			c, err = s.eng.Compile(ctx, strings.TrimSpace(src))
		}
	}
	if c == nil && err == nil {
		c, err = s.eng.CompileSource(ctx, src)
	}
	if err != nil {
		s.r.Error(err.Error())
		return
	}
	if err := renderCompiled(s.r, s.eng.Dialect().Name, []*engine.Compiled{c}); err != nil {
		s.r.Error(err.Error())
		return
	}
	if !s.run {
		return
	}
	exec, err := s.eng.Run(ctx, c, s.limit)
	if err != nil {
		s.r.Error(err.Error())
		return
	}
	s.r.Println()
	if err := renderExecution(s.r, exec); err != nil {
		s.r.Error(err.Error())
	}
}

func (s *replSession) dotCommand(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true

	case ".help":
		s.r.Println(replHelp)

	case ".queries":
		m, err := s.eng.Model()
		if err != nil {
			s.r.Error(err.Error())
			break
		}
		for _, name := range m.QueryNames() {
			s.r.Println(name)
		}

	case ".concepts":
		filter := engine.ConceptFilter{}
		if len(parts) > 1 {
			filter.Purpose = parts[1]
		}
		concepts, err := s.eng.Concepts(filter)
		if err != nil {
			s.r.Error(err.Error())
			break
		}
		for _, c := range concepts {
			s.r.Println(s.r.Styles().Concept.Render(c.Address), s.r.Styles().Muted.Render(c.Purpose+" "+c.Datatype))
		}

	case ".explain":
		if len(parts) < 2 {
			s.r.Error("usage: .explain <query>")
			break
		}
		c, err := s.eng.Explain(ctx, parts[1])
		if err != nil {
			s.r.Error(err.Error())
			break
		}
		_ = renderCompiled(s.r, s.eng.Dialect().Name, []*engine.Compiled{c})

	case ".run":
		if len(parts) > 1 {
			s.run = parts[1] == "on" || parts[1] == "true"
		} else {
			s.run = !s.run
		}
		s.r.Muted(fmt.Sprintf("run mode %s", onOff(s.run)))

	case ".limit":
		if len(parts) < 2 {
			s.r.Muted(fmt.Sprintf("limit %d", s.limit))
			break
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 0 {
			s.r.Error("usage: .limit <rows>")
			break
		}
		s.limit = n

	case ".reload":
		m, err := s.eng.Load()
		if err != nil {
			s.r.Error("model not reloaded: " + err.Error())
			break
		}
		s.r.Success(fmt.Sprintf("reloaded %d queries", len(m.Queries)))

	default:
		s.r.Error(fmt.Sprintf("unknown command: %s (type .help for commands)", parts[0]))
	}
	return false
}

func (s *replSession) completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem(".help"),
		readline.PcItem(".queries"),
		readline.PcItem(".concepts"),
		readline.PcItem(".run", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem(".limit"),
		readline.PcItem(".reload"),
		readline.PcItem(".quit"),
	}
	if m, err := s.eng.Model(); err == nil {
		explain := make([]readline.PrefixCompleterInterface, 0, len(m.Queries))
		for _, name := range m.QueryNames() {
			items = append(items, readline.PcItem(name))
			explain = append(explain, readline.PcItem(name))
		}
		items = append(items, readline.PcItem(".explain", explain...))
		for _, c := range m.Env.Concepts() {
			items = append(items, readline.PcItem(c.Name))
		}
	}
	return readline.NewPrefixCompleter(items...)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

const replHelp = `
Commands:
  .help               Show this help message
  .queries            List the named queries
  .concepts [purpose] List concepts, optionally of one purpose
  .explain <query>    Compile a query wrapped in EXPLAIN
  .run [on|off]       Toggle executing queries against the target
  .limit <rows>       Rows to print when running
  .reload             Reload the model files
  .quit / .exit       Exit the REPL

Input:
  revenue_by_category;              compile a named query
  category_name, total_revenue;     compile an ad-hoc selection
  select: [order_id]                YAML queries may span lines
  limit: 5;
`
