package workerd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencode-ai/lgworker/internal/dispatcher"
	"github.com/opencode-ai/lgworker/internal/events"
	"github.com/opencode-ai/lgworker/internal/models"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrRateLimited is the message of rate_limited responses.
var ErrRateLimited = errors.New("rate limit exceeded")

// Server implements TemplateWorkerServer. Each Dispatch stream gets its own
// Worker; the Handler is shared.
type Server struct {
	logger    zerolog.Logger
	handler   dispatcher.Handler
	worker    dispatcher.Config
	limiter   *RateLimiter
	journal   events.Repository
	startedAt time.Time
	hostname  string
	version   string

	mu            sync.Mutex
	activeStreams int
	totalStreams  int64
	answered      int64
	rateLimited   int64
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithVersion sets the daemon version.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// WithHandler overrides the request handler.
func WithHandler(handler dispatcher.Handler) ServerOption {
	return func(s *Server) {
		s.handler = handler
	}
}

// WithWorkerConfig sets the per-stream worker configuration.
func WithWorkerConfig(cfg dispatcher.Config) ServerOption {
	return func(s *Server) {
		s.worker = cfg
	}
}

// WithRateLimiter applies per-operation limits to streamed requests.
func WithRateLimiter(limiter *RateLimiter) ServerOption {
	return func(s *Server) {
		s.limiter = limiter
	}
}

// WithJournal records every answered request.
func WithJournal(repo events.Repository) ServerOption {
	return func(s *Server) {
		s.journal = repo
	}
}

// NewServer creates the TemplateWorker service implementation.
func NewServer(logger zerolog.Logger, opts ...ServerOption) *Server {
	hostname, _ := os.Hostname()

	s := &Server{
		logger:    logger,
		handler:   dispatcher.New(),
		worker:    dispatcher.DefaultConfig(),
		startedAt: time.Now(),
		hostname:  hostname,
		version:   "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status reports daemon health.
func (s *Server) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &StatusResponse{
		Version:       s.version,
		Hostname:      s.hostname,
		StartedAt:     s.startedAt.UTC(),
		ActiveStreams: s.activeStreams,
		TotalStreams:  s.totalStreams,
		Answered:      s.answered,
		RateLimited:   s.rateLimited,
	}, nil
}

// Dispatch serves one bidirectional request stream. Responses are sent as
// they complete and are correlated by the client using request ids.
func (s *Server) Dispatch(stream grpc.ServerStream) error {
	ctx := stream.Context()
	streamID := uuid.New().String()
	logger := s.logger.With().Str("stream_id", streamID).Logger()

	s.mu.Lock()
	s.activeStreams++
	s.totalStreams++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.activeStreams--
		s.mu.Unlock()
	}()

	sink := &grpcSink{stream: stream, onSend: s.countAnswered}
	opts := []dispatcher.WorkerOption{
		dispatcher.WithLogger(logger),
		dispatcher.WithWorkerID(streamID),
	}
	if s.journal != nil {
		opts = append(opts, dispatcher.WithJournal(s.journal))
	}

	worker := dispatcher.NewWorker(s.worker, s.handler, sink, opts...)
	if err := worker.Start(ctx); err != nil {
		return status.Errorf(codes.Internal, "failed to start worker: %v", err)
	}

	logger.Debug().Msg("dispatch stream opened")

	recvErr := s.receive(ctx, stream, worker, sink, logger)

	if err := worker.Stop(); err != nil {
		logger.Warn().Err(err).Msg("failed to stop stream worker")
	}
	_ = sink.Close()

	stats := worker.Stats()
	logger.Debug().
		Int64("received", stats.Received).
		Int64("failed", stats.Failed).
		Msg("dispatch stream closed")

	return recvErr
}

func (s *Server) receive(ctx context.Context, stream grpc.ServerStream, worker *dispatcher.Worker, sink *grpcSink, logger zerolog.Logger) error {
	for {
		var req models.Request
		if err := stream.RecvMsg(&req); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			logger.Warn().Err(err).Msg("failed to receive request")
			return err
		}

		if !s.limiter.AllowOperation(req.Type) {
			s.reject(ctx, sink, req, logger)
			continue
		}

		if err := worker.Submit(context.WithoutCancel(ctx), req); err != nil {
			return status.Errorf(codes.Internal, "failed to submit request %q: %v", req.ID, err)
		}
	}
}

// reject answers a request that exceeded its operation's rate limit.
func (s *Server) reject(ctx context.Context, sink *grpcSink, req models.Request, logger zerolog.Logger) {
	s.mu.Lock()
	s.rateLimited++
	s.mu.Unlock()

	resp := models.NewFailure(req.ID, req.Type, models.ErrorKindRateLimited,
		fmt.Errorf("%w for operation %s", ErrRateLimited, req.Type))
	if err := sink.Send(ctx, resp); err != nil {
		logger.Warn().Err(err).Str("request_id", req.ID).Msg("failed to send rate limit response")
	}

	if s.journal != nil {
		err := events.LogOperation(context.WithoutCancel(ctx), s.journal, events.Outcome{
			RequestID: req.ID,
			Operation: req.Type,
			Response:  resp,
		})
		if err != nil {
			logger.Warn().Err(err).Str("request_id", req.ID).Msg("failed to journal rate limited request")
		}
	}
}

func (s *Server) countAnswered() {
	s.mu.Lock()
	s.answered++
	s.mu.Unlock()
}

// grpcSink serialises responses onto a server stream. SendMsg is not safe
// for concurrent use.
type grpcSink struct {
	mu     sync.Mutex
	stream grpc.ServerStream
	closed bool
	onSend func()
}

func (g *grpcSink) Send(ctx context.Context, resp models.Response) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return dispatcher.ErrSinkClosed
	}
	if err := g.stream.SendMsg(&resp); err != nil {
		return err
	}
	if g.onSend != nil {
		g.onSend()
	}
	return nil
}

func (g *grpcSink) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}
