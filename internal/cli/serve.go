package cli

import (
	"github.com/spf13/cobra"

	"github.com/soham407/sqlquest/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sandboxes over HTTP and gRPC",
		Long: `Serve the practice API. Every browser session gets its own sandbox,
identified by a signed cookie; gRPC clients pass a session id. Idle
sessions are dropped after --idle-timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.catalog()
			if err != nil {
				return err
			}
			sc := a.cfg.Server
			s, err := server.New(server.Options{
				Addr:          sc.Addr,
				GRPCAddr:      sc.GRPCAddr,
				SessionSecret: sc.SessionSecret,
				IdleTimeout:   sc.IdleTimeout,
				SweepSchedule: sc.SweepSchedule,
				LessonsDir:    a.cfg.Lessons.Dir,
				Sandbox:       a.sandboxOptions(),
			}, c, a.logger)
			if err != nil {
				return err
			}
			a.logger.Info("serving", "engine", a.cfg.Engine, "lessons", c.Len())
			return s.Serve(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address, empty to disable (default :8080)")
	f.String("grpc-addr", "", "gRPC listen address, empty to disable (default :9090)")
	f.Duration("idle-timeout", 0, "drop sessions idle for this long (default 30m)")
	return cmd
}
