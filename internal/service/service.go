// Package service runs the download daemon: the download manager, its HTTP API and the metrics server.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Service runs the download manager next to the API and metrics servers, until one of them fails or
// it is asked to quit.
type Service struct {
	manager Runner
	servers []namedServer

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context requests a graceful stop of every sub-service.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc

	maxDegradedDuration time.Duration
	log                 *slog.Logger

	running chan struct{} // Channel to signal when the service is running.
}

// Runner runs until its context is done or it fails.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Server is an HTTP server, such as the API or the metrics server.
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Close() error
}

type namedServer struct {
	name string
	Server
}

type options struct {
	maxDegradedDuration time.Duration
	logger              *slog.Logger
}

// Option is a function which tweaks the creation of the Service.
type Option func(*options)

// WithLogger sets the logger of the service.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

var (
	// errServiceClosed is returned when the service is already closed.
	errServiceClosed = errors.New("service closed")

	// ErrTeardownTimeout is returned when the service takes too long to shut down.
	// A force Quit may be required to cleanup the service.
	ErrTeardownTimeout = errors.New("service teardown timed out")
)

// New creates the service running manager, the API server and the metrics server.
func New(ctx context.Context, manager Runner, apiServer, metricsServer Server, args ...Option) *Service {
	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	opts := options{
		maxDegradedDuration: 2 * time.Minute,
		logger:              slog.Default(),
	}
	for _, arg := range args {
		arg(&opts)
	}

	running := make(chan struct{})
	close(running) // Close immediately to avoid blocking on the channel.
	return &Service{
		manager: manager,
		servers: []namedServer{{name: "api", Server: apiServer}, {name: "metrics", Server: metricsServer}},

		ctx:            ctx,
		cancel:         cancel,
		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,

		maxDegradedDuration: opts.maxDegradedDuration,
		log:                 opts.logger,

		running: running,
	}
}

// Run starts every sub-service.
//
// Returns once all sub-services have completed, or after an extended time being in a degraded state.
func (s *Service) Run() error {
	s.log.Info("Download service started")

	select {
	case <-s.gracefulCtx.Done():
		return errServiceClosed
	default:
	}

	s.running = make(chan struct{})
	defer close(s.running)
	defer s.cancel() // Ensure we cancel the context when done, regardless of result.

	n := 1 + len(s.servers)
	done := make(chan error, n)
	go func() { done <- s.runManager() }()
	for _, srv := range s.servers {
		go func() { done <- s.runServer(srv) }()
	}

	// Ensure we don't get stuck in a degraded state if one of the services fails.
	err := <-done
	s.log.Info("Waiting for download services to finish")

	timeout := time.After(s.maxDegradedDuration)
	for range n - 1 {
		select {
		case <-timeout:
			// We've waited for teardown for too long, give up even though errors may be lost.
			s.log.Warn("Download service teardown timed out")
			return errors.Join(err, ErrTeardownTimeout)
		case e := <-done:
			err = errors.Join(err, e)
		}
	}

	return err
}

func (s *Service) runManager() error {
	s.log.Info("Starting download manager")
	defer s.gracefulCancel() // Request stop if the manager fails.

	if err := s.manager.Run(s.gracefulCtx); err != nil && !errors.Is(err, s.gracefulCtx.Err()) {
		s.log.Error("Download manager encountered an error", "err", err)
		return fmt.Errorf("download manager error: %v", err)
	}
	s.log.Info("Download manager stopped")
	return nil
}

func (s *Service) runServer(srv namedServer) error {
	s.log.Info("Starting server", "server", srv.name)
	defer s.gracefulCancel() // Request stop if the server fails.

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-s.ctx.Done():
		s.log.Info("Closing server", "server", srv.name, "reason", s.ctx.Err())
		srv.Close()
		return nil
	case <-s.gracefulCtx.Done():
		s.log.Info("Graceful shutdown initiated", "server", srv.name)
		if err := srv.Shutdown(s.ctx); err != nil {
			if s.ctx.Err() != nil {
				// Forced to stop while shutting down.
				s.log.Info("Closing server", "server", srv.name, "reason", s.ctx.Err())
				srv.Close()
				return nil
			}
			s.log.Error("Server graceful shutdown encountered error", "server", srv.name, "err", err)
			return fmt.Errorf("%s server shutdown error: %v", srv.name, err)
		}
	case err := <-errCh:
		// No need to shutdown or close, just propagate the error.
		if err != nil {
			s.log.Error("Server encountered error", "server", srv.name, "err", err)
			return fmt.Errorf("%s server error: %v", srv.name, err)
		}
	}
	s.log.Info("Server shut down gracefully", "server", srv.name)
	return nil
}

// Quit stops the service.
// Blocks until the service has finished running.
func (s *Service) Quit(force bool) {
	s.log.Info("Stopping download service")

	if force {
		s.cancel()
		for _, srv := range s.servers {
			srv.Close()
		}
	} else {
		s.gracefulCancel()
	}

	<-s.running // Wait for the service to finish running.
}
