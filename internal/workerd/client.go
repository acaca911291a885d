package workerd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/opencode-ai/lgworker/internal/logging"
	"github.com/opencode-ai/lgworker/internal/models"
	"github.com/opencode-ai/lgworker/internal/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client errors.
var (
	ErrClientClosed       = errors.New("client closed")
	ErrMissingRequestID   = errors.New("request id is required")
	ErrDuplicateRequestID = errors.New("request id already in flight")
)

// Client sends requests over a single Dispatch stream and matches
// responses to callers by request id.
type Client struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	logger zerolog.Logger

	sendMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan models.Response
	closed  bool
	err     error
	done    chan struct{}
}

// Dial connects to a daemon at target and opens a Dispatch stream.
// Insecure transport credentials are used unless opts override them.
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(transport.JSON)),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}

	// The stream outlives the dial context; Close cancels it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := conn.NewStream(streamCtx, &ServiceDesc.Streams[0], DispatchMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to open dispatch stream: %w", err)
	}

	c := &Client{
		conn:    conn,
		stream:  stream,
		cancel:  cancel,
		logger:  logging.Component("workerd-client"),
		pending: make(map[string]chan models.Response),
		done:    make(chan struct{}),
	}
	go c.recvLoop()
	return c, nil
}

// Do sends req and waits for its response.
func (c *Client) Do(ctx context.Context, req models.Request) (models.Response, error) {
	if strings.TrimSpace(req.ID) == "" {
		return models.Response{}, ErrMissingRequestID
	}

	ch, err := c.register(req.ID)
	if err != nil {
		return models.Response{}, err
	}

	c.sendMu.Lock()
	err = c.stream.SendMsg(&req)
	c.sendMu.Unlock()
	if err != nil {
		c.unregister(req.ID)
		return models.Response{}, fmt.Errorf("failed to send request %q: %w", req.ID, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.unregister(req.ID)
		return models.Response{}, ctx.Err()
	case <-c.done:
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		return models.Response{}, c.closeErr()
	}
}

// DoAll sends every request concurrently, at most limit at a time, and
// returns the responses in request order.
func (c *Client) DoAll(ctx context.Context, reqs []models.Request, limit int) ([]models.Response, error) {
	responses := make([]models.Response, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := c.Do(gctx, req)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

// Status queries daemon health over the client's connection.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.conn.Invoke(ctx, StatusMethod, &StatusRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close half-closes the stream, waits for outstanding responses, and
// closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.sendMu.Lock()
	err := c.stream.CloseSend()
	c.sendMu.Unlock()

	<-c.done
	c.cancel()
	if closeErr := c.conn.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (c *Client) register(id string) (chan models.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	select {
	case <-c.done:
		return nil, c.errLocked()
	default:
	}
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateRequestID, id)
	}

	ch := make(chan models.Response, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errLocked()
}

func (c *Client) errLocked() error {
	if c.err != nil {
		return c.err
	}
	return ErrClientClosed
}

func (c *Client) recvLoop() {
	defer close(c.done)

	for {
		var resp models.Response
		if err := c.stream.RecvMsg(&resp); err != nil {
			c.mu.Lock()
			if !errors.Is(err, io.EOF) {
				c.err = fmt.Errorf("dispatch stream failed: %w", err)
			}
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if !ok {
			c.logger.Warn().Str("request_id", resp.ID).Msg("dropping uncorrelated response")
			continue
		}
		ch <- resp
	}
}
