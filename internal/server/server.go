// Package server exposes sandboxes over HTTP and gRPC, one sandbox per
// client session.
//
// Browsers are identified by a signed session cookie; RPC clients pass their
// session id with every call. Sessions idle for longer than
// Options.IdleTimeout are swept on a cron schedule.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/soham407/sqlquest/internal/lesson"
	"github.com/soham407/sqlquest/internal/sandbox"
)

const shutdownTimeout = 5 * time.Second

// Options configure a Server.
type Options struct {
	// Addr is the HTTP listen address. Empty disables HTTP.
	Addr string
	// GRPCAddr is the gRPC listen address. Empty disables gRPC.
	GRPCAddr string
	// SessionSecret signs session cookies. When empty a random key is used
	// and sessions do not survive a restart.
	SessionSecret string
	IdleTimeout   time.Duration
	SweepSchedule string
	// LessonsDir is watched for changes when set.
	LessonsDir string
	// Sandbox options apply to every session's sandbox and to the grader.
	Sandbox []sandbox.Option
}

// Server serves the practice API.
type Server struct {
	opts     Options
	logger   *slog.Logger
	registry *Registry
	sweeper  *Sweeper
	sessions *sessions.CookieStore
	catalog  *lesson.Catalog
	lessons  lesson.Source
	grader   *lesson.Grader
}

// New builds a server over catalog.
func New(opts Options, catalog *lesson.Catalog, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	secret := []byte(opts.SessionSecret)
	if len(secret) == 0 {
		secret = securecookie.GenerateRandomKey(32)
		if secret == nil {
			return nil, errors.New("generate session key")
		}
	}
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(opts.IdleTimeout / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	registry := NewRegistry(logger.With("component", "registry"), opts.Sandbox...)
	s := &Server{
		opts:     opts,
		logger:   logger,
		registry: registry,
		sessions: store,
		catalog:  catalog,
		lessons:  catalog,
		grader:   lesson.NewGrader(opts.Sandbox...),
	}
	if opts.IdleTimeout > 0 && opts.SweepSchedule != "" {
		sw, err := NewSweeper(registry, opts.SweepSchedule, opts.IdleTimeout, logger.With("component", "sweeper"))
		if err != nil {
			return nil, err
		}
		s.sweeper = sw
	}
	return s, nil
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry { return s.registry }

// RegisterGRPC registers the sandbox service on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	RegisterSandboxServer(gs, rpcService{registry: s.registry})
}

// Serve listens on the configured addresses and blocks until ctx is done or a
// listener fails. All sessions are closed on return.
func (s *Server) Serve(ctx context.Context) error {
	if s.opts.Addr == "" && s.opts.GRPCAddr == "" {
		return errors.New("server: no listen address configured")
	}
	defer s.registry.Close()

	var httpLn, grpcLn net.Listener
	if s.opts.Addr != "" {
		ln, err := net.Listen("tcp", s.opts.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
		}
		httpLn = ln
	}
	if s.opts.GRPCAddr != "" {
		ln, err := net.Listen("tcp", s.opts.GRPCAddr)
		if err != nil {
			if httpLn != nil {
				httpLn.Close()
			}
			return fmt.Errorf("listen %s: %w", s.opts.GRPCAddr, err)
		}
		grpcLn = ln
	}

	g, ctx := errgroup.WithContext(ctx)

	if httpLn != nil {
		srv := &http.Server{
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		g.Go(func() error {
			s.logger.Info("http listening", "addr", httpLn.Addr().String())
			if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if grpcLn != nil {
		gs := grpc.NewServer()
		s.RegisterGRPC(gs)
		g.Go(func() error {
			s.logger.Info("grpc listening", "addr", grpcLn.Addr().String())
			return gs.Serve(grpcLn)
		})
		g.Go(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	if s.sweeper != nil {
		s.sweeper.Start()
		defer s.sweeper.Stop()
	}

	if s.opts.LessonsDir != "" && s.catalog != nil {
		g.Go(func() error {
			return lesson.Watch(ctx, s.opts.LessonsDir, s.catalog, s.logger.With("component", "lessons"))
		})
	}

	return g.Wait()
}
