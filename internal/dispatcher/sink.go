package dispatcher

import (
	"context"
	"errors"
	"sync"

	"github.com/opencode-ai/lgworker/internal/models"
)

// ErrSinkClosed is returned when sending to a closed sink.
var ErrSinkClosed = errors.New("response sink closed")

// ResponseSink receives responses produced by a Worker.
// Implementations must be safe for concurrent use.
type ResponseSink interface {
	Send(ctx context.Context, resp models.Response) error
	Close() error
}

// NoopSink discards all responses.
type NoopSink struct{}

// Send implements ResponseSink.
func (NoopSink) Send(context.Context, models.Response) error { return nil }

// Close implements ResponseSink.
func (NoopSink) Close() error { return nil }

// FuncSink adapts a function into a ResponseSink.
type FuncSink func(ctx context.Context, resp models.Response) error

// Send implements ResponseSink.
func (f FuncSink) Send(ctx context.Context, resp models.Response) error {
	return f(ctx, resp)
}

// Close implements ResponseSink.
func (f FuncSink) Close() error { return nil }

// ChannelSink delivers responses on a channel.
type ChannelSink struct {
	mu     sync.RWMutex
	ch     chan models.Response
	closed bool
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{ch: make(chan models.Response, buffer)}
}

// C returns the receive side of the sink.
func (s *ChannelSink) C() <-chan models.Response {
	return s.ch
}

// Send blocks until the response is accepted or ctx is done.
func (s *ChannelSink) Send(ctx context.Context, resp models.Response) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.ch <- resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel. Further sends return ErrSinkClosed.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}
