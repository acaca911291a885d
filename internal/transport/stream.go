package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/opencode-ai/lgworker/internal/dispatcher"
	"github.com/opencode-ai/lgworker/internal/logging"
	"github.com/opencode-ai/lgworker/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrStreamClosed is returned when writing to a closed stream sink.
var ErrStreamClosed = errors.New("response stream closed")

// StreamSink encodes responses onto a writer, one message per Send.
type StreamSink struct {
	mu      sync.Mutex
	encoder Encoder
	closer  io.Closer
	closed  bool
}

// NewStreamSink creates a sink writing to w with codec. If w is an
// io.Closer it is closed with the sink.
func NewStreamSink(codec Codec, w io.Writer) *StreamSink {
	sink := &StreamSink{encoder: codec.NewEncoder(w)}
	if closer, ok := w.(io.Closer); ok {
		sink.closer = closer
	}
	return sink
}

// Send writes a response to the stream.
func (s *StreamSink) Send(ctx context.Context, resp models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	return s.encoder.Encode(resp)
}

// Close closes the underlying writer if it is closable.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Options configures Serve.
type Options struct {
	// Codec frames the streams. Default: JSON.
	Codec Codec

	// Worker configures the hosted worker.
	Worker dispatcher.Config

	// Handler answers requests. Default: dispatcher.New().
	Handler dispatcher.Handler

	// WorkerOptions are passed to the worker, e.g. a journal.
	WorkerOptions []dispatcher.WorkerOption

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// Serve reads requests from in and writes responses to out until in reaches
// EOF or ctx is canceled. Every request read is answered before Serve
// returns. A frame that is well formed but does not decode into a request is
// answered with malformed_request and the stream continues. A broken frame
// (an ill-formed or truncated CBOR item, an overlong JSON line) cannot be
// skipped: it is answered with malformed_request and an empty id, and Serve
// returns the read error.
func Serve(ctx context.Context, in io.Reader, out io.Writer, opts Options) error {
	codec := opts.Codec
	if codec == nil {
		codec = JSON
	}
	logger := logging.Component("transport")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	sink := NewStreamSink(codec, out)
	workerOpts := append([]dispatcher.WorkerOption{dispatcher.WithLogger(logger)}, opts.WorkerOptions...)
	worker := dispatcher.NewWorker(opts.Worker, opts.Handler, sink, workerOpts...)
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	logger.Info().Str("codec", codec.Name()).Str("worker_id", worker.ID()).Msg("serving stream")

	readDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(readDone)
		return readRequests(gctx, codec.NewFrameReader(in), codec, worker, sink, logger)
	})

	// A blocked read can only be interrupted by closing its source.
	g.Go(func() error {
		select {
		case <-readDone:
		case <-gctx.Done():
			if closer, ok := in.(io.Closer); ok {
				_ = closer.Close()
			}
		}
		return nil
	})

	err := g.Wait()
	if stopErr := worker.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	stats := worker.Stats()
	logger.Info().
		Int64("received", stats.Received).
		Int64("succeeded", stats.Succeeded).
		Int64("failed", stats.Failed).
		Msg("stream closed")

	if closeErr := sink.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}

func readRequests(ctx context.Context, frames FrameReader, codec Codec, worker *dispatcher.Worker, sink dispatcher.ResponseSink, logger zerolog.Logger) error {
	for {
		frame, err := frames.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			logger.Warn().Err(err).Msg("unreadable request frame, closing stream")
			resp := models.NewFailure("", "", models.ErrorKindMalformedRequest, fmt.Errorf("failed to read request: %w", err))
			if sendErr := sink.Send(ctx, resp); sendErr != nil {
				logger.Warn().Err(sendErr).Msg("failed to answer unreadable frame")
			}
			return fmt.Errorf("failed to read request: %w", err)
		}

		var req models.Request
		if err := codec.Unmarshal(frame, &req); err != nil {
			id := recoverID(codec, frame)
			logger.Warn().Err(err).Str("request_id", id).Msg("malformed request")
			resp := models.NewFailure(id, "", models.ErrorKindMalformedRequest, fmt.Errorf("failed to decode request: %w", err))
			if sendErr := sink.Send(ctx, resp); sendErr != nil {
				return fmt.Errorf("failed to answer malformed request: %w", sendErr)
			}
			continue
		}

		// Once read, a request is always queued so it gets an answer, even
		// if that answer is canceled.
		if err := worker.Submit(context.WithoutCancel(ctx), req); err != nil {
			return fmt.Errorf("failed to submit request %q: %w", req.ID, err)
		}
	}
}

// recoverID extracts the request id from a message that failed to decode,
// so the caller can still correlate the error.
func recoverID(codec Codec, frame []byte) string {
	var partial struct {
		ID string `json:"id"`
	}
	_ = codec.Unmarshal(frame, &partial)
	return partial.ID
}
