package workerd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/opencode-ai/lgworker/internal/config"
	"github.com/opencode-ai/lgworker/internal/dispatcher"
	"github.com/opencode-ai/lgworker/internal/events"
	"github.com/opencode-ai/lgworker/internal/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// DefaultPort is the default daemon port.
const DefaultPort = 50151

// DefaultShutdownTimeout bounds graceful shutdown before open streams are cut.
const DefaultShutdownTimeout = 10 * time.Second

// Options configure the daemon runtime.
type Options struct {
	Hostname string
	Port     int
	Version  string

	// Listener, when set, is used instead of listening on Hostname:Port.
	Listener net.Listener

	// Journal records answered requests.
	Journal events.Repository

	ShutdownTimeout time.Duration
}

// Daemon is the long-running gRPC worker process.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger
	opts   Options

	server     *Server
	limiter    *RateLimiter
	grpcServer *grpc.Server
}

// New constructs a daemon with the provided configuration.
func New(cfg *config.Config, logger zerolog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.Hostname == "" {
		opts.Hostname = cfg.Daemon.Host
	}
	if opts.Hostname == "" {
		opts.Hostname = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = cfg.Daemon.Port
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	limiter := NewRateLimiter(
		WithEnabled(cfg.Daemon.RateLimit.Enabled),
		WithOperationLimit(RateLimitConfig{
			RequestsPerSecond: cfg.Daemon.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.Daemon.RateLimit.BurstSize,
		}),
	)

	serverOpts := []ServerOption{
		WithVersion(opts.Version),
		WithHandler(dispatcher.New(dispatcher.WithImportExtension(cfg.Worker.ImportExtension))),
		WithWorkerConfig(dispatcher.Config{
			QueueSize:           cfg.Worker.QueueSize,
			MaxConcurrentParses: cfg.Worker.MaxConcurrentParses,
		}),
		WithRateLimiter(limiter),
	}
	if opts.Journal != nil {
		serverOpts = append(serverOpts, WithJournal(opts.Journal))
	}
	server := NewServer(logger, serverOpts...)

	grpcServer := grpc.NewServer(
		grpc.ForceServerCodec(transport.JSON),
		grpc.ChainUnaryInterceptor(limiter.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(limiter.StreamServerInterceptor()),
	)
	RegisterTemplateWorkerServer(grpcServer, server)

	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		opts:       opts,
		server:     server,
		limiter:    limiter,
		grpcServer: grpcServer,
	}, nil
}

// Run starts the gRPC server and blocks until the context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	listener := d.opts.Listener
	if listener == nil {
		bindAddr := d.bindAddr()
		var err error
		listener, err = net.Listen("tcp", bindAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", bindAddr, err)
		}
	}

	d.logger.Info().
		Str("bind", listener.Addr().String()).
		Str("version", d.opts.Version).
		Bool("rate_limit", d.limiter.IsEnabled()).
		Msg("lgworker daemon starting")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		d.logger.Info().Msg("lgworker daemon shutting down...")
		d.shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	d.logger.Info().Msg("lgworker daemon shutdown complete")
	return nil
}

// shutdown stops gracefully, cutting open streams after the timeout.
func (d *Daemon) shutdown() {
	stopped := make(chan struct{})
	go func() {
		d.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(d.opts.ShutdownTimeout):
		d.logger.Warn().Dur("timeout", d.opts.ShutdownTimeout).Msg("graceful shutdown timed out, closing open streams")
		d.grpcServer.Stop()
	}
}

func (d *Daemon) bindAddr() string {
	return net.JoinHostPort(d.opts.Hostname, strconv.Itoa(d.opts.Port))
}

// Server returns the underlying gRPC service implementation.
// Useful for testing.
func (d *Daemon) Server() *Server {
	return d.server
}

// RateLimiter returns the daemon's rate limiter.
func (d *Daemon) RateLimiter() *RateLimiter {
	return d.limiter
}
