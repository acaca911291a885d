package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencode-ai/lgworker/internal/events"
	"github.com/opencode-ai/lgworker/internal/logging"
	"github.com/opencode-ai/lgworker/internal/models"
	"github.com/rs/zerolog"
)

// Worker errors.
var (
	ErrWorkerAlreadyRunning = errors.New("worker already running")
	ErrWorkerNotRunning     = errors.New("worker not running")
	ErrWorkerCanceled       = errors.New("worker canceled before dispatch")
)

// Config contains worker configuration.
type Config struct {
	// QueueSize bounds the inbound request queue.
	// Default: 64.
	QueueSize int

	// MaxConcurrentParses limits how many parse operations run at once.
	// Default: 4.
	MaxConcurrentParses int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:           64,
		MaxConcurrentParses: 4,
	}
}

// DispatchEvent describes one answered request.
type DispatchEvent struct {
	// RequestID is the id echoed on the response.
	RequestID string

	// Operation is the requested kind, valid or not.
	Operation models.OperationKind

	// Success indicates if the response carried a payload.
	Success bool

	// ErrorKind is set when Success is false.
	ErrorKind models.ErrorKind

	// Timestamp is when dispatch began.
	Timestamp time.Time

	// Duration is how long the dispatch took.
	Duration time.Duration
}

// WorkerStats contains worker statistics.
type WorkerStats struct {
	// Running indicates if the worker is active.
	Running bool

	// StartedAt is when the worker was started.
	StartedAt *time.Time

	// Received is the number of requests accepted by Submit.
	Received int64

	// Succeeded is the number of success responses emitted.
	Succeeded int64

	// Failed is the number of error responses emitted.
	Failed int64

	// ByOperation counts answered requests per operation kind.
	ByOperation map[models.OperationKind]int64

	// ParsesInFlight is the number of parse operations currently running.
	ParsesInFlight int

	// LastDispatchAt is when the last response was emitted.
	LastDispatchAt *time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithJournal records every answered request in repo.
func WithJournal(repo events.Repository) WorkerOption {
	return func(w *Worker) {
		w.journal = repo
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithWorkerID sets the id used in journal lifecycle events.
func WithWorkerID(id string) WorkerOption {
	return func(w *Worker) {
		if id != "" {
			w.id = id
		}
	}
}

// Worker hosts a Handler behind an ordered inbound queue. Synchronous
// operations run on the loop goroutine in arrival order; parse operations
// run concurrently and may answer out of order.
type Worker struct {
	id      string
	config  Config
	handler Handler
	sink    ResponseSink
	journal events.Repository
	logger  zerolog.Logger

	// Runtime state
	mu       sync.RWMutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	inbound  chan models.Request
	loopDone chan struct{}
	parses   sync.WaitGroup
	parseSem chan struct{}

	// Stats
	stats      WorkerStats
	statsMu    sync.RWMutex
	dispatchCh chan DispatchEvent
}

// NewWorker creates a Worker that answers requests through sink.
func NewWorker(config Config, handler Handler, sink ResponseSink, opts ...WorkerOption) *Worker {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.MaxConcurrentParses <= 0 {
		config.MaxConcurrentParses = DefaultConfig().MaxConcurrentParses
	}
	if handler == nil {
		handler = New()
	}
	if sink == nil {
		sink = NoopSink{}
	}

	w := &Worker{
		id:         uuid.New().String(),
		config:     config,
		handler:    handler,
		sink:       sink,
		logger:     logging.Component("worker"),
		parseSem:   make(chan struct{}, config.MaxConcurrentParses),
		dispatchCh: make(chan DispatchEvent, 100),
		stats: WorkerStats{
			ByOperation: make(map[models.OperationKind]int64),
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker id.
func (w *Worker) ID() string {
	return w.id
}

// Start begins consuming submitted requests. Canceling ctx answers every
// request not yet dispatched with a canceled error.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrWorkerAlreadyRunning
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.inbound = make(chan models.Request, w.config.QueueSize)
	w.loopDone = make(chan struct{})
	w.running = true

	now := time.Now().UTC()
	w.statsMu.Lock()
	w.stats.Running = true
	w.stats.StartedAt = &now
	w.statsMu.Unlock()

	w.logger.Info().
		Str("worker_id", w.id).
		Int("queue_size", w.config.QueueSize).
		Int("max_concurrent_parses", w.config.MaxConcurrentParses).
		Msg("worker starting")

	w.journalLifecycle(models.EventTypeWorkerStarted)

	go w.runLoop(w.inbound, w.loopDone)
	return nil
}

// Stop closes the inbound queue, waits for every queued request to be
// answered, and waits for in-flight parses.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return ErrWorkerNotRunning
	}

	w.logger.Info().Str("worker_id", w.id).Msg("worker stopping")

	w.running = false
	close(w.inbound)
	loopDone := w.loopDone
	w.mu.Unlock()

	<-loopDone
	w.parses.Wait()
	w.cancel()

	w.statsMu.Lock()
	w.stats.Running = false
	w.statsMu.Unlock()

	w.journalLifecycle(models.EventTypeWorkerStopped)
	w.logger.Info().Str("worker_id", w.id).Msg("worker stopped")
	return nil
}

// Submit enqueues a request. It blocks while the queue is full until ctx is
// done. A nil return guarantees exactly one response on the sink.
func (w *Worker) Submit(ctx context.Context, req models.Request) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.running {
		return ErrWorkerNotRunning
	}

	select {
	case w.inbound <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.statsMu.Lock()
	w.stats.Received++
	w.statsMu.Unlock()
	return nil
}

// Stats returns current worker statistics.
func (w *Worker) Stats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	stats := w.stats
	stats.ByOperation = make(map[models.OperationKind]int64, len(w.stats.ByOperation))
	for kind, n := range w.stats.ByOperation {
		stats.ByOperation[kind] = n
	}
	return stats
}

// DispatchEvents returns the channel of dispatch events.
// Events are dropped when the channel is full.
func (w *Worker) DispatchEvents() <-chan DispatchEvent {
	return w.dispatchCh
}

// runLoop consumes the inbound queue until it is closed.
func (w *Worker) runLoop(inbound <-chan models.Request, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case req, ok := <-inbound:
			if !ok {
				return
			}
			if w.ctx.Err() != nil {
				w.reject(req)
				continue
			}
			w.handle(req)

		case <-w.ctx.Done():
			w.logger.Warn().Str("worker_id", w.id).Msg("worker context canceled, rejecting queued requests")
			for req := range inbound {
				w.reject(req)
			}
			return
		}
	}
}

// handle runs one request. Parse requests run on their own goroutine once a
// parse slot is free; the loop blocks until then so nothing is dropped.
func (w *Worker) handle(req models.Request) {
	if req.Type != models.OperationParse {
		w.process(req)
		return
	}

	w.parseSem <- struct{}{}
	w.parses.Add(1)
	w.adjustInFlight(1)
	go func() {
		defer w.parses.Done()
		defer func() { <-w.parseSem }()
		defer w.adjustInFlight(-1)

		w.process(req)
	}()
}

func (w *Worker) process(req models.Request) {
	start := time.Now()
	resp := w.handler.Dispatch(req)
	w.emit(req, resp, start)
}

func (w *Worker) reject(req models.Request) {
	start := time.Now()
	resp := models.NewFailure(req.ID, req.Type, models.ErrorKindCanceled, ErrWorkerCanceled)
	w.emit(req, resp, start)
}

// emit delivers resp and records it. Sends use a context detached from the
// worker's cancellation so canceled responses still reach the sink.
func (w *Worker) emit(req models.Request, resp models.Response, start time.Time) {
	ctx := context.WithoutCancel(w.ctx)

	if err := w.sink.Send(ctx, resp); err != nil {
		w.logger.Error().
			Err(err).
			Str("request_id", req.ID).
			Str("operation", string(req.Type)).
			Msg("failed to deliver response")
	}

	event := DispatchEvent{
		RequestID: req.ID,
		Operation: req.Type,
		Success:   resp.OK(),
		Timestamp: start,
		Duration:  time.Since(start),
	}
	if resp.Error != nil {
		event.ErrorKind = resp.Error.Kind
		w.logger.Debug().
			Str("request_id", req.ID).
			Str("operation", string(req.Type)).
			Str("error_kind", string(resp.Error.Kind)).
			Str("error", resp.Error.Message).
			Msg("request failed")
	} else {
		w.logger.Debug().
			Str("request_id", req.ID).
			Str("operation", string(req.Type)).
			Dur("duration", event.Duration).
			Msg("request answered")
	}
	w.recordDispatch(event)

	if w.journal != nil {
		err := events.LogOperation(ctx, w.journal, events.Outcome{
			RequestID: req.ID,
			Operation: req.Type,
			Response:  resp,
			Duration:  event.Duration,
		})
		if err != nil {
			w.logger.Warn().Err(err).Str("request_id", req.ID).Msg("failed to journal operation")
		}
	}
}

// recordDispatch records a dispatch event in stats.
func (w *Worker) recordDispatch(event DispatchEvent) {
	w.statsMu.Lock()
	if event.Success {
		w.stats.Succeeded++
	} else {
		w.stats.Failed++
	}
	w.stats.ByOperation[event.Operation]++
	now := event.Timestamp.Add(event.Duration)
	w.stats.LastDispatchAt = &now
	w.statsMu.Unlock()

	select {
	case w.dispatchCh <- event:
	default:
		// Channel full, drop event
	}
}

func (w *Worker) adjustInFlight(delta int) {
	w.statsMu.Lock()
	w.stats.ParsesInFlight += delta
	w.statsMu.Unlock()
}

func (w *Worker) journalLifecycle(eventType models.EventType) {
	if w.journal == nil {
		return
	}

	w.statsMu.RLock()
	received := w.stats.Received
	w.statsMu.RUnlock()

	err := events.LogWorkerLifecycle(context.Background(), w.journal, eventType, w.id, models.WorkerPayload{
		QueueSize:           w.config.QueueSize,
		MaxConcurrentParses: w.config.MaxConcurrentParses,
		Received:            received,
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to journal worker lifecycle")
	}
}
