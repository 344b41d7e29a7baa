// Package cli implements the sqlquest command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/soham407/sqlquest/internal/config"
	"github.com/soham407/sqlquest/internal/lesson"
	"github.com/soham407/sqlquest/internal/logging"
	"github.com/soham407/sqlquest/internal/render"
	"github.com/soham407/sqlquest/internal/sandbox"
)

// Version is set at build time.
var Version = "dev"

// ErrQueryFailed is returned by commands whose query did not succeed. The
// failure has already been printed, so callers only set the exit status.
var ErrQueryFailed = errors.New("query failed")

// app carries what every command needs once flags and config are loaded.
type app struct {
	cfgFile string

	cfg      *config.Config
	logger   *slog.Logger
	factory  sandbox.Factory
	renderer *render.Renderer
}

// NewRootCmd returns the sqlquest command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "sqlquest",
		Short: "Practice SQL against a private sample database",
		Long: `sqlquest runs SQL against a small in-memory company database
(employees and departments) that is rebuilt from scratch for every session.

Run queries directly, open an interactive shell, work through the bundled
lessons or serve the whole thing over HTTP and gRPC.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			return a.load(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default: ./sqlquest.yaml)")
	f.StringP("engine", "e", "", "execution engine ("+joinNames(sandbox.Substrates())+")")
	f.StringP("output", "o", "", "output format (table|json|csv|markdown)")
	f.String("log-level", "", "log level (debug|info|warn|error)")
	f.String("log-format", "", "log format (text|json)")
	f.Duration("timeout", 0, "per-query time limit, 0 for none")
	f.Int("max-statements", 0, "statements allowed per batch, 0 for no limit")
	f.Int("max-rows", 0, "rows a query may produce, 0 for no limit")
	f.String("lessons-dir", "", "directory of lesson YAML files (default: bundled lessons)")

	_ = root.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return render.Formats, cobra.ShellCompDirectiveNoFileComp
	})
	_ = root.RegisterFlagCompletionFunc("engine", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return sandbox.Substrates(), cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newExecCmd(a),
		newReplCmd(a),
		newSchemaCmd(a),
		newLessonsCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	factory, err := sandbox.Lookup(cfg.Engine)
	if err != nil {
		return err
	}
	styles := render.Plain()
	if isTerminal(cmd.OutOrStdout()) {
		styles = render.Colored()
	}
	renderer, err := render.New(cfg.Output, styles)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.factory, a.renderer = cfg, logger, factory, renderer
	if cfg.File != "" {
		logger.Debug("config loaded", "file", cfg.File)
	}
	return nil
}

func (a *app) sandboxOptions() []sandbox.Option {
	return []sandbox.Option{
		sandbox.WithSubstrate(a.factory),
		sandbox.WithLimits(a.cfg.SandboxLimits()),
		sandbox.WithLogger(a.logger),
	}
}

func (a *app) newSandbox() *sandbox.Sandbox {
	return sandbox.New(a.sandboxOptions()...)
}

func (a *app) catalog() (*lesson.Catalog, error) {
	if dir := a.cfg.Lessons.Dir; dir != "" {
		return lesson.NewCatalog(os.DirFS(dir))
	}
	return lesson.Bundled()
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, ErrQueryFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func joinNames(names []string) string { return strings.Join(names, "|") }

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sqlquest %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "engines: %s\n", joinNames(sandbox.Substrates()))
		},
	}
}
