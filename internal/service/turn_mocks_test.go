package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/turnforge/internal/config"
	"github.com/Strob0t/turnforge/internal/domain"
	"github.com/Strob0t/turnforge/internal/domain/conversation"
	"github.com/Strob0t/turnforge/internal/domain/event"
	"github.com/Strob0t/turnforge/internal/port/agentgraph"
	"github.com/Strob0t/turnforge/internal/port/counter"
	"github.com/Strob0t/turnforge/internal/port/messagequeue"
	"github.com/Strob0t/turnforge/internal/service"

	_ "github.com/Strob0t/turnforge/internal/adapter/anthropic"
	_ "github.com/Strob0t/turnforge/internal/adapter/openai"
)

var errBoom = errors.New("boom")

// memEventRepo is an in-memory database.EventRepository.
type memEventRepo struct {
	mu        sync.Mutex
	events    []event.StoredEvent
	insertErr error
	nextErr   error
	nextCalls int
}

func (m *memEventRepo) InsertEvent(_ context.Context, ev *event.StoredEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.events = append(m.events, *ev)
	return nil
}

func (m *memEventRepo) NextSequence(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCalls++
	if m.nextErr != nil {
		return 0, m.nextErr
	}
	next := int64(0)
	for i := range m.events {
		if m.events[i].SessionID == sessionID && m.events[i].SequenceNumber >= next {
			next = m.events[i].SequenceNumber + 1
		}
	}
	return next, nil
}

func (m *memEventRepo) ListEvents(_ context.Context, sessionID string, r event.SequenceRange) ([]event.StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.StoredEvent
	for i := range m.events {
		if m.events[i].SessionID == sessionID && r.Contains(m.events[i].SequenceNumber) {
			out = append(out, m.events[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *memEventRepo) ListUnprocessedEvents(_ context.Context, sessionID string) ([]event.StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.StoredEvent
	for i := range m.events {
		if m.events[i].SessionID == sessionID && !m.events[i].Processed {
			out = append(out, m.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memEventRepo) MarkEventProcessed(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == eventID {
			m.events[i].Processed = true
			return nil
		}
	}
	return fmt.Errorf("event %s: %w", eventID, domain.ErrNotFound)
}

func (m *memEventRepo) byType(sessionID string, typ event.StoredType) []event.StoredEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.StoredEvent
	for i := range m.events {
		if m.events[i].SessionID == sessionID && m.events[i].EventType == typ {
			out = append(out, m.events[i])
		}
	}
	return out
}

// memMessageStore is an in-memory database.MessageStore.
type memMessageStore struct {
	mu          sync.Mutex
	messages    []conversation.Message
	citations   []conversation.Citation
	fail        func(*conversation.Message) error
	citationErr error
}

func (m *memMessageStore) CreateMessage(_ context.Context, msg *conversation.Message) (*conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		if err := m.fail(msg); err != nil {
			return nil, err
		}
	}
	out := *msg
	out.ID = fmt.Sprintf("msg-%d", len(m.messages)+1)
	m.messages = append(m.messages, out)
	return &out, nil
}

func (m *memMessageStore) ListMessages(_ context.Context, sessionID string) ([]conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Message
	for i := range m.messages {
		if m.messages[i].SessionID == sessionID {
			out = append(out, m.messages[i])
		}
	}
	return out, nil
}

func (m *memMessageStore) CreateCitations(_ context.Context, citations []conversation.Citation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.citationErr != nil {
		return m.citationErr
	}
	m.citations = append(m.citations, citations...)
	return nil
}

// memCounter is an in-memory counter.Counter.
type memCounter struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
	calls  int
}

func newMemCounter() *memCounter {
	return &memCounter{values: make(map[string]int64)}
}

func (c *memCounter) Increment(ctx context.Context, key string, _ time.Duration, floor int64, seed counter.SeedFunc) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	v, ok := c.values[key]
	if !ok && seed != nil {
		start, err := seed(ctx)
		if err != nil {
			return 0, err
		}
		v = start
	}
	v = max(v, floor) + 1
	c.values[key] = v
	return v, nil
}

// fakeExecutor replays a scripted invoke result or raw event stream.
type fakeExecutor struct {
	mu        sync.Mutex
	result    *agentgraph.Result
	invokeErr error
	events    []agentgraph.RawEvent
	streamErr error
	inputs    []agentgraph.Input

	// beforeEvent runs before the event at the same index is yielded.
	beforeEvent map[int]func()
}

func (f *fakeExecutor) Invoke(_ context.Context, in agentgraph.Input) (*agentgraph.Result, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return f.result, nil
}

func (f *fakeExecutor) StreamEvents(ctx context.Context, in agentgraph.Input) iter.Seq2[agentgraph.RawEvent, error] {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	return func(yield func(agentgraph.RawEvent, error) bool) {
		for i, ev := range f.events {
			if hook := f.beforeEvent[i]; hook != nil {
				hook()
			}
			if err := ctx.Err(); err != nil {
				yield(agentgraph.RawEvent{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(agentgraph.RawEvent{}, f.streamErr)
		}
	}
}

// memQueue records published messages and delivers them to subscribers.
type memQueue struct {
	mu         sync.Mutex
	published  []publishedMsg
	handlers   map[string]messagequeue.Handler
	publishErr error
}

type publishedMsg struct {
	subject string
	data    []byte
}

func newMemQueue() *memQueue {
	return &memQueue{handlers: make(map[string]messagequeue.Handler)}
}

func (q *memQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, publishedMsg{subject: subject, data: data})
	return nil
}

func (q *memQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *memQueue) deliver(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	h := q.handlers[subject]
	q.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no handler for %s", subject)
	}
	return h(ctx, subject, data)
}

func (q *memQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.published))
	for _, m := range q.published {
		out = append(out, m.subject)
	}
	return out
}

func (q *memQueue) Drain() error      { return nil }
func (q *memQueue) Close() error      { return nil }
func (q *memQueue) IsConnected() bool { return true }

// harness wires an orchestrator over in-memory collaborators.
type harness struct {
	repo     *memEventRepo
	messages *memMessageStore
	counter  *memCounter
	store    *service.EventStore
	persist  *service.PersistenceCoordinator
	exec     *fakeExecutor
	queue    *memQueue
	orch     *service.AgentOrchestrator
}

func newHarness(mode string, pcfg config.Persistence) *harness {
	h := &harness{
		repo:     &memEventRepo{},
		messages: &memMessageStore{},
		counter:  newMemCounter(),
		exec:     &fakeExecutor{},
		queue:    newMemQueue(),
	}
	seq := service.NewSequenceAllocator(h.counter, h.repo, 0)
	h.store = service.NewEventStore(h.repo, seq, nil)
	if pcfg.ThinkingMode == "" {
		pcfg.ThinkingMode = config.ThinkingSync
	}
	h.persist = service.NewPersistenceCoordinator(h.store, h.messages, pcfg)
	h.orch = service.NewAgentOrchestrator(h.exec, h.persist, config.Agent{Mode: mode, Provider: "anthropic"}, nil)
	h.orch.SetQueue(h.queue)
	return h
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []event.AgentEvent
}

func (r *recorder) emit(ev event.AgentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type())
	}
	return out
}

// streamChunk builds an on_chat_model_stream event carrying content.
func streamChunk(content string) agentgraph.RawEvent {
	return agentgraph.RawEvent{
		Event: agentgraph.EventChatModelStream,
		Name:  "ChatAnthropic",
		Data:  agentgraph.RawEventData{Chunk: json.RawMessage(`{"content":` + content + `}`)},
	}
}

func textChunk(text string) agentgraph.RawEvent {
	b, _ := json.Marshal([]map[string]any{{"type": "text", "text": text}})
	return streamChunk(string(b))
}

func thinkingChunk(text string) agentgraph.RawEvent {
	b, _ := json.Marshal([]map[string]any{{"type": "thinking", "thinking": text}})
	return streamChunk(string(b))
}

func toolUseChunk(id, name string, input map[string]any) agentgraph.RawEvent {
	b, _ := json.Marshal([]map[string]any{{"type": "tool_use", "id": id, "name": name, "input": input}})
	return streamChunk(string(b))
}

func modelEnd(stopReason string, in, out int) agentgraph.RawEvent {
	body, _ := json.Marshal(map[string]any{
		"content":           "",
		"usage_metadata":    map[string]int{"input_tokens": in, "output_tokens": out},
		"response_metadata": map[string]string{"stop_reason": stopReason},
	})
	return agentgraph.RawEvent{
		Event: agentgraph.EventChatModelEnd,
		Name:  "ChatAnthropic",
		Data:  agentgraph.RawEventData{Output: body},
	}
}

func nodeEnd(node, output string) agentgraph.RawEvent {
	return agentgraph.RawEvent{
		Event: agentgraph.EventChainEnd,
		Name:  node,
		Data:  agentgraph.RawEventData{Output: json.RawMessage(output)},
	}
}
