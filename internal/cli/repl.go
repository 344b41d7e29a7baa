package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/soham407/sqlquest/internal/render"
	"github.com/soham407/sqlquest/internal/sandbox"
)

const (
	prompt     = "sqlquest> "
	contPrompt = "     ...> "
)

// lineReader is satisfied by *readline.Instance and by pipeReader.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(string)
}

// pipeReader reads piped input without echoing prompts.
type pipeReader struct {
	sc *bufio.Scanner
}

func newPipeReader(r io.Reader) *pipeReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &pipeReader{sc: sc}
}

func (p *pipeReader) Readline() (string, error) {
	if p.sc.Scan() {
		return p.sc.Text(), nil
	}
	if err := p.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (p *pipeReader) SetPrompt(string) {}

func newReplCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Open an interactive SQL shell",
		Long: `Open an interactive shell on a private sample database. Statements end
with a semicolon and may span lines. Type .help for shell commands.

When standard input is not a terminal the shell reads it line by line
without prompts, so scripts can be piped in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sb := a.newSandbox()
			defer sb.Close()

			var in lineReader
			if f, ok := cmd.InOrStdin().(*os.File); ok && isTerminal(f) {
				rl, err := readline.NewEx(&readline.Config{
					Prompt:          prompt,
					HistoryFile:     historyFile(),
					AutoComplete:    newCompleter(cmd.Context(), sb),
					InterruptPrompt: "^C",
					EOFPrompt:       ".quit",
				})
				if err != nil {
					return fmt.Errorf("start shell: %w", err)
				}
				defer rl.Close()
				fmt.Fprintf(cmd.OutOrStdout(), "sqlquest %s (%s engine)\nType .help for commands, .quit to exit\n\n", Version, a.cfg.Engine)
				in = rl
			} else {
				in = newPipeReader(cmd.InOrStdin())
			}

			r := &repl{
				sb:       sb,
				in:       in,
				out:      cmd.OutOrStdout(),
				errOut:   cmd.ErrOrStderr(),
				renderer: a.renderer,
			}
			return r.run(cmd.Context())
		},
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sqlquest_history")
}

func newCompleter(ctx context.Context, sb *sandbox.Sandbox) *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem(".help"),
		readline.PcItem(".tables"),
		readline.PcItem(".reset"),
		readline.PcItem(".mode", readline.PcItem("table"), readline.PcItem("json"), readline.PcItem("csv"), readline.PcItem("markdown")),
		readline.PcItem(".quit"),
	}
	if schema, err := sb.Schema(ctx); err == nil {
		var tables []readline.PrefixCompleterInterface
		for _, name := range schema.Names() {
			tables = append(tables, readline.PcItem(name))
		}
		items = append(items, readline.PcItem(".schema", tables...))
	}
	return readline.NewPrefixCompleter(items...)
}

type repl struct {
	sb       *sandbox.Sandbox
	in       lineReader
	out      io.Writer
	errOut   io.Writer
	renderer *render.Renderer
}

func (r *repl) run(ctx context.Context) error {
	var buf strings.Builder
	for {
		line, err := r.in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			r.in.SetPrompt(prompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			if strings.TrimSpace(buf.String()) != "" {
				r.execute(ctx, buf.String())
			}
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		trimmed := strings.TrimSpace(line)
		if buf.Len() == 0 {
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, ".") {
				if quit := r.dot(ctx, trimmed); quit {
					return nil
				}
				continue
			}
		}

		buf.WriteString(line)
		buf.WriteByte('\n')
		if !strings.HasSuffix(trimmed, ";") {
			r.in.SetPrompt(contPrompt)
			continue
		}
		r.in.SetPrompt(prompt)
		r.execute(ctx, buf.String())
		buf.Reset()
	}
}

func (r *repl) execute(ctx context.Context, sql string) {
	res := r.sb.Execute(ctx, sql)
	if err := r.renderer.Result(r.out, res); err != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", err)
	}
}

// dot runs a shell command and reports whether the shell should exit.
func (r *repl) dot(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true
	case ".help":
		fmt.Fprint(r.out, replHelp)
	case ".tables":
		schema, err := r.sb.Schema(ctx)
		if err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(r.out, strings.Join(schema.Names(), "  "))
	case ".schema":
		schema, err := r.sb.Schema(ctx)
		if err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return false
		}
		if len(parts) > 1 {
			t, ok := schema.Table(parts[1])
			if !ok {
				fmt.Fprintf(r.errOut, "Error: no such table: %s\n", parts[1])
				return false
			}
			schema = sandbox.Schema{Tables: []sandbox.TableSchema{t}}
		}
		if err := r.renderer.Schema(r.out, schema); err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
		}
	case ".reset":
		if err := r.sb.Reset(ctx); err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(r.out, "Sample data restored.")
	case ".mode":
		if len(parts) < 2 {
			fmt.Fprintf(r.out, "%s\n", r.renderer.Format)
			return false
		}
		nr, err := render.New(parts[1], r.renderer.Styles)
		if err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return false
		}
		r.renderer = nr
	default:
		fmt.Fprintf(r.errOut, "Unknown command: %s (type .help for commands)\n", parts[0])
	}
	return false
}

const replHelp = `Commands:
  .help            Show this message
  .tables          List tables
  .schema [table]  Describe all tables or one
  .mode [format]   Show or set the output format (table, json, csv, markdown)
  .reset           Restore the sample data
  .quit / .exit    Leave the shell

Statements end with a semicolon and may span several lines.
`
