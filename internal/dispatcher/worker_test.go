package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opencode-ai/lgworker/internal/lg"
	"github.com/opencode-ai/lgworker/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestWorker(config Config, handler Handler, sink ResponseSink, opts ...WorkerOption) *Worker {
	opts = append([]WorkerOption{WithLogger(zerolog.Nop())}, opts...)
	return NewWorker(config, handler, sink, opts...)
}

// collect reads n responses from sink, failing after a timeout.
func collect(t *testing.T, sink *ChannelSink, n int) []models.Response {
	t.Helper()

	out := make([]models.Response, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case resp := <-sink.C():
			out = append(out, resp)
		case <-timeout:
			t.Fatalf("timed out after %d of %d responses", len(out), n)
		}
	}
	return out
}

func ids(responses []models.Response) []string {
	out := make([]string, 0, len(responses))
	for _, resp := range responses {
		out = append(out, resp.ID)
	}
	return out
}

// gatedParser blocks parses of gated target ids until released.
type gatedParser struct {
	gates   map[string]chan struct{}
	entered chan string
}

func (p *gatedParser) Parse(content, targetID string, resolver lg.ImportResolver) (*models.ParseResult, error) {
	if p.entered != nil {
		p.entered <- targetID
	}
	if gate, ok := p.gates[targetID]; ok {
		<-gate
	}
	return lg.Parse(content, targetID, resolver)
}

// countingParser tracks the maximum number of concurrent parses.
type countingParser struct {
	mu      sync.Mutex
	current int
	max     int
}

func (p *countingParser) Parse(content, targetID string, resolver lg.ImportResolver) (*models.ParseResult, error) {
	p.mu.Lock()
	p.current++
	if p.current > p.max {
		p.max = p.current
	}
	p.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	p.mu.Lock()
	p.current--
	p.mu.Unlock()
	return lg.Parse(content, targetID, resolver)
}

// gatedHandler blocks the first dispatch until released.
type gatedHandler struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *gatedHandler) Dispatch(req models.Request) models.Response {
	h.once.Do(func() {
		close(h.entered)
		<-h.release
	})
	return models.NewSuccess(req.ID, &models.EditResult{Templates: []models.Template{}})
}

type memoryJournal struct {
	mu     sync.Mutex
	events []*models.Event
}

func (j *memoryJournal) Create(ctx context.Context, event *models.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
	return nil
}

func (j *memoryJournal) types() []models.EventType {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]models.EventType, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.Type)
	}
	return out
}

func TestWorkerDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.QueueSize != 64 {
		t.Errorf("expected QueueSize 64, got %d", cfg.QueueSize)
	}
	if cfg.MaxConcurrentParses != 4 {
		t.Errorf("expected MaxConcurrentParses 4, got %d", cfg.MaxConcurrentParses)
	}
}

func TestNewWorker_DefaultsApplied(t *testing.T) {
	w := newTestWorker(Config{}, nil, nil)

	if w.config != DefaultConfig() {
		t.Errorf("expected default config, got %+v", w.config)
	}
	if w.handler == nil || w.sink == nil {
		t.Fatal("expected default handler and sink")
	}
	if w.ID() == "" {
		t.Fatal("expected generated worker id")
	}
}

func TestWorker_StartStop(t *testing.T) {
	w := newTestWorker(DefaultConfig(), nil, nil)
	ctx := context.Background()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	stats := w.Stats()
	if !stats.Running || stats.StartedAt == nil {
		t.Fatalf("expected running worker with StartedAt, got %+v", stats)
	}

	if err := w.Start(ctx); err != ErrWorkerAlreadyRunning {
		t.Errorf("expected ErrWorkerAlreadyRunning, got %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop worker: %v", err)
	}
	if w.Stats().Running {
		t.Error("expected worker to be stopped")
	}
	if err := w.Stop(); err != ErrWorkerNotRunning {
		t.Errorf("expected ErrWorkerNotRunning, got %v", err)
	}
	if err := w.Submit(ctx, models.Request{ID: "late"}); err != ErrWorkerNotRunning {
		t.Errorf("expected ErrWorkerNotRunning from Submit, got %v", err)
	}
}

func TestWorker_AnswersEveryRequestOnce(t *testing.T) {
	sink := NewChannelSink(32)
	w := newTestWorker(DefaultConfig(), New(), sink)
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))

	requests := []models.Request{
		{ID: "1", Type: models.OperationAddTemplate, Payload: models.Payload{Content: greetingDoc, Template: &models.Template{Name: "Farewell", Body: "- Bye"}}},
		{ID: "2", Type: models.OperationRemoveTemplate, Payload: models.Payload{Content: greetingDoc, TemplateName: "Greeting"}},
		{ID: "3", Type: "bogus"},
		{ID: "4", Type: models.OperationParse, Payload: models.Payload{TargetID: "main", Content: greetingDoc}},
		{ID: "5", Type: models.OperationCopyTemplate, Payload: models.Payload{Content: greetingDoc, FromTemplateName: "Greeting", ToTemplateName: "Hello"}},
	}
	for _, req := range requests {
		require.NoError(t, w.Submit(ctx, req))
	}
	require.NoError(t, w.Stop())

	responses := collect(t, sink, len(requests))
	require.ElementsMatch(t, []string{"1", "2", "3", "4", "5"}, ids(responses))

	select {
	case extra := <-sink.C():
		t.Fatalf("unexpected extra response %+v", extra)
	default:
	}

	stats := w.Stats()
	require.EqualValues(t, 5, stats.Received)
	require.EqualValues(t, 4, stats.Succeeded)
	require.EqualValues(t, 1, stats.Failed)
	require.EqualValues(t, 1, stats.ByOperation[models.OperationParse])
	require.NotNil(t, stats.LastDispatchAt)
}

func TestWorker_SynchronousOperationsKeepOrder(t *testing.T) {
	sink := NewChannelSink(64)
	w := newTestWorker(DefaultConfig(), New(), sink)
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	want := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("rm-%02d", i)
		want = append(want, id)
		require.NoError(t, w.Submit(ctx, models.Request{
			ID:      id,
			Type:    models.OperationRemoveTemplate,
			Payload: models.Payload{Content: greetingDoc, TemplateName: "Greeting"},
		}))
	}

	require.Equal(t, want, ids(collect(t, sink, len(want))))
}

func TestWorker_ParseMayAnswerOutOfOrder(t *testing.T) {
	parser := &gatedParser{
		gates:   map[string]chan struct{}{"slow": make(chan struct{})},
		entered: make(chan string, 1),
	}
	sink := NewChannelSink(8)
	w := newTestWorker(DefaultConfig(), New(WithParser(parser)), sink)
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, w.Submit(ctx, models.Request{ID: "parse", Type: models.OperationParse, Payload: models.Payload{TargetID: "slow", Content: greetingDoc}}))
	require.Equal(t, "slow", <-parser.entered)

	require.NoError(t, w.Submit(ctx, models.Request{ID: "add", Type: models.OperationAddTemplate, Payload: models.Payload{Content: greetingDoc, Template: &models.Template{Name: "Farewell", Body: "- Bye"}}}))

	first := collect(t, sink, 1)[0]
	require.Equal(t, "add", first.ID)
	require.Eventually(t, func() bool { return w.Stats().ParsesInFlight == 1 }, time.Second, 5*time.Millisecond)

	close(parser.gates["slow"])
	second := collect(t, sink, 1)[0]
	require.Equal(t, "parse", second.ID)
	require.True(t, second.OK())
}

func TestWorker_BoundsConcurrentParses(t *testing.T) {
	parser := &countingParser{}
	sink := NewChannelSink(32)
	w := newTestWorker(Config{QueueSize: 32, MaxConcurrentParses: 2}, New(WithParser(parser)), sink)
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Submit(ctx, models.Request{
			ID:      fmt.Sprintf("p-%d", i),
			Type:    models.OperationParse,
			Payload: models.Payload{TargetID: "main", Content: greetingDoc},
		}))
	}
	require.NoError(t, w.Stop())

	require.Len(t, collect(t, sink, 10), 10)
	parser.mu.Lock()
	defer parser.mu.Unlock()
	require.LessOrEqual(t, parser.max, 2)
	require.Zero(t, w.Stats().ParsesInFlight)
}

func TestWorker_CancelRejectsQueuedRequests(t *testing.T) {
	handler := &gatedHandler{entered: make(chan struct{}), release: make(chan struct{})}
	sink := NewChannelSink(8)
	w := newTestWorker(DefaultConfig(), handler, sink)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, w.Submit(context.Background(), models.Request{ID: id, Type: models.OperationRemoveTemplate}))
	}

	<-handler.entered
	cancel()
	close(handler.release)
	require.NoError(t, w.Stop())

	byID := make(map[string]models.Response)
	for _, resp := range collect(t, sink, 3) {
		byID[resp.ID] = resp
	}
	require.True(t, byID["first"].OK(), "in-flight request must complete")
	for _, id := range []string{"second", "third"} {
		require.NotNil(t, byID[id].Error, id)
		require.Equal(t, models.ErrorKindCanceled, byID[id].Error.Kind)
	}
}

func TestWorker_SubmitHonorsContextWhenQueueFull(t *testing.T) {
	handler := &gatedHandler{entered: make(chan struct{}), release: make(chan struct{})}
	w := newTestWorker(Config{QueueSize: 1, MaxConcurrentParses: 1}, handler, NewChannelSink(8))
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Submit(context.Background(), models.Request{ID: "a", Type: models.OperationRemoveTemplate}))
	<-handler.entered
	require.NoError(t, w.Submit(context.Background(), models.Request{ID: "b", Type: models.OperationRemoveTemplate}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Submit(ctx, models.Request{ID: "c", Type: models.OperationRemoveTemplate})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(handler.release)
	require.NoError(t, w.Stop())
	require.EqualValues(t, 2, w.Stats().Received)
}

func TestWorker_DispatchEvents(t *testing.T) {
	w := newTestWorker(DefaultConfig(), New(), NoopSink{})
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Submit(context.Background(), models.Request{ID: "u", Type: "nope"}))
	require.NoError(t, w.Stop())

	select {
	case event := <-w.DispatchEvents():
		require.Equal(t, "u", event.RequestID)
		require.False(t, event.Success)
		require.Equal(t, models.ErrorKindUnknownOperation, event.ErrorKind)
		require.False(t, event.Timestamp.IsZero())
	default:
		t.Fatal("expected a dispatch event")
	}
}

func TestWorker_JournalsOperationsAndLifecycle(t *testing.T) {
	journal := &memoryJournal{}
	w := newTestWorker(DefaultConfig(), New(), NoopSink{}, WithJournal(journal), WithWorkerID("worker-1"))
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Submit(context.Background(), models.Request{ID: "1", Type: models.OperationRemoveTemplate, Payload: models.Payload{Content: greetingDoc, TemplateName: "Greeting"}}))
	require.NoError(t, w.Submit(context.Background(), models.Request{ID: "2", Type: models.OperationCopyTemplate, Payload: models.Payload{Content: greetingDoc, FromTemplateName: "Missing", ToTemplateName: "X"}}))
	require.NoError(t, w.Stop())

	require.Equal(t, []models.EventType{
		models.EventTypeWorkerStarted,
		models.EventTypeOperationSucceeded,
		models.EventTypeOperationFailed,
		models.EventTypeWorkerStopped,
	}, journal.types())

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Equal(t, "worker-1", journal.events[0].EntityID)
}

func TestChannelSinkClose(t *testing.T) {
	sink := NewChannelSink(1)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	require.ErrorIs(t, sink.Send(context.Background(), models.Response{ID: "x"}), ErrSinkClosed)

	_, ok := <-sink.C()
	require.False(t, ok)
}

func TestFuncSink(t *testing.T) {
	var got []string
	sink := FuncSink(func(ctx context.Context, resp models.Response) error {
		got = append(got, resp.ID)
		return nil
	})

	require.NoError(t, sink.Send(context.Background(), models.Response{ID: "a"}))
	require.NoError(t, sink.Close())
	require.Equal(t, []string{"a"}, got)
}
