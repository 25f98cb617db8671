package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/turnforge/internal/adapter/otel"
	"github.com/Strob0t/turnforge/internal/config"
	"github.com/Strob0t/turnforge/internal/domain"
	"github.com/Strob0t/turnforge/internal/domain/conversation"
	"github.com/Strob0t/turnforge/internal/domain/event"
	"github.com/Strob0t/turnforge/internal/domain/stream"
	"github.com/Strob0t/turnforge/internal/logger"
	"github.com/Strob0t/turnforge/internal/port/agentgraph"
	"github.com/Strob0t/turnforge/internal/port/messagequeue"
	"github.com/Strob0t/turnforge/internal/port/streamadapter"
)

// Error codes carried by error events.
const (
	CodeExecution   = "execution_error"
	CodePersistence = "persistence_error"
)

// ExecuteOptions tunes one turn.
type ExecuteOptions struct {
	EnableThinking           bool
	ThinkingBudget           int
	Attachments              []string
	EnableAutoSemanticSearch bool

	// Mode overrides the configured execution mode ("stream" or "invoke").
	Mode string
	// Provider overrides the configured stream adapter.
	Provider stream.Provider
}

// ExecuteResult summarizes a finished turn.
type ExecuteResult struct {
	Success    bool                    `json:"success"`
	SessionID  string                  `json:"sessionId"`
	Response   string                  `json:"response"`
	MessageID  string                  `json:"messageId"`
	StopReason event.CompleteReason    `json:"stopReason"`
	TokenUsage conversation.TokenUsage `json:"tokenUsage"`
}

// AgentOrchestrator runs agent turns and emits their events in contract order:
// session_start, user_message_confirmed, then thinking, tool pairs and chunks
// as they occur, the final message, and complete last.
type AgentOrchestrator struct {
	executor agentgraph.Executor
	persist  *PersistenceCoordinator
	router   *StreamRouter
	clock    *event.Clock
	cfg      config.Agent
	queue    messagequeue.Queue
	metrics  *cfotel.Metrics
}

// NewAgentOrchestrator creates an orchestrator. clock may be nil.
func NewAgentOrchestrator(executor agentgraph.Executor, persist *PersistenceCoordinator, cfg config.Agent, clock *event.Clock) *AgentOrchestrator {
	if clock == nil {
		clock = event.NewClock()
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModeStream
	}
	if cfg.Provider == "" {
		cfg.Provider = string(stream.ProviderAnthropic)
	}
	return &AgentOrchestrator{
		executor: executor,
		persist:  persist,
		router:   NewStreamRouter(cfg.GraphName),
		clock:    clock,
		cfg:      cfg,
	}
}

// SetQueue publishes a turn-completed message to q after every turn.
func (o *AgentOrchestrator) SetQueue(q messagequeue.Queue) { o.queue = q }

// SetMetrics records turn metrics on m.
func (o *AgentOrchestrator) SetMetrics(m *cfotel.Metrics) { o.metrics = m }

// ExecuteAgentSync runs one turn for sessionID and passes every event to emit
// in order. emit may be nil.
//
// Requesting attachments or automatic semantic search without a user ID
// fails with domain.ErrUserIDRequired before any event is emitted. Once
// session_start is out, an execution error yields error and
// complete(error) before it is returned; cancellation yields
// complete(user_cancelled); a failed user or agent message write yields an
// error event and aborts the turn.
func (o *AgentOrchestrator) ExecuteAgentSync(ctx context.Context, prompt, sessionID string, emit event.Emitter, userID string, opts ExecuteOptions) (*ExecuteResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if userID == "" && (len(opts.Attachments) > 0 || opts.EnableAutoSemanticSearch) {
		return nil, domain.ErrUserIDRequired
	}

	mode := opts.Mode
	if mode == "" {
		mode = o.cfg.Mode
	}
	if mode != config.ModeStream && mode != config.ModeInvoke {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrValidation, mode)
	}
	provider := opts.Provider
	if provider == "" {
		provider = stream.Provider(o.cfg.Provider)
	}
	adapter, err := streamadapter.New(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	adapter.Reset()

	ctx = logger.WithSessionID(ctx, sessionID)
	ctx, span := cfotel.StartTurnSpan(ctx, sessionID, mode)
	defer span.End()

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	o.count(ctx, func(m *cfotel.Metrics) metric.Int64Counter { return m.TurnsStarted }, mode)

	r := &turnRun{
		o:         o,
		sessionID: sessionID,
		userID:    userID,
		prompt:    prompt,
		opts:      opts,
		mode:      mode,
		emitFn:    emit,
		adapter:   adapter,
		persist:   o.persist.BeginTurn(sessionID),
		toolCalls: make(map[string]*stream.ToolCall),
	}

	res, err := r.run(ctx)
	if o.metrics != nil {
		o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("turn.mode", mode)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.count(ctx, func(m *cfotel.Metrics) metric.Int64Counter { return m.TurnsFailed }, mode)
	} else {
		o.count(ctx, func(m *cfotel.Metrics) metric.Int64Counter { return m.TurnsCompleted }, mode)
	}
	o.publishCompleted(ctx, r, time.Since(start))
	return res, err
}

func (o *AgentOrchestrator) count(ctx context.Context, pick func(*cfotel.Metrics) metric.Int64Counter, mode string) {
	if o.metrics == nil {
		return
	}
	pick(o.metrics).Add(ctx, 1, metric.WithAttributes(attribute.String("turn.mode", mode)))
}

// publishCompleted notifies queue consumers of a turn that reached a
// terminal event. Publish failures are logged only.
func (o *AgentOrchestrator) publishCompleted(ctx context.Context, r *turnRun, elapsed time.Duration) {
	if o.queue == nil || r.reason == "" {
		return
	}
	data, err := json.Marshal(messagequeue.TurnCompletedPayload{
		SessionID:    r.sessionID,
		MessageID:    r.messageID,
		Reason:       string(r.reason),
		EventCount:   r.index,
		InputTokens:  r.usage.InputTokens,
		OutputTokens: r.usage.OutputTokens,
		DurationMs:   elapsed.Milliseconds(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "encode turn completed", "error", err)
		return
	}
	if err := o.queue.Publish(context.WithoutCancel(ctx), messagequeue.SubjectTurnCompleted, data); err != nil {
		slog.WarnContext(ctx, "publish turn completed failed", "session_id", r.sessionID, "error", err)
	}
}

// turnRun is the state of one ExecuteAgentSync call.
type turnRun struct {
	o         *AgentOrchestrator
	sessionID string
	userID    string
	prompt    string
	opts      ExecuteOptions
	mode      string
	emitFn    event.Emitter
	adapter   streamadapter.Adapter
	persist   *TurnPersistence

	index      int
	content    stream.Accumulator
	thinking   strings.Builder
	toolCalls  map[string]*stream.ToolCall
	citations  []stream.Citation
	usage      conversation.TokenUsage
	stopReason string
	model      string

	messageID string
	reason    event.CompleteReason
}

func (r *turnRun) run(ctx context.Context) (*ExecuteResult, error) {
	if err := r.emit(&event.SessionStart{UserID: r.userID}, event.StateTransient); err != nil {
		return nil, err
	}

	user, err := r.persist.PersistUserMessage(ctx, r.prompt, r.userID)
	if err != nil {
		return nil, r.abort(ctx, err, CodePersistence)
	}
	if err := r.emit(&event.UserMessageConfirmed{
		Content:        r.prompt,
		MessageID:      user.MessageID,
		SequenceNumber: user.SequenceNumber,
	}, event.StatePersisted); err != nil {
		return nil, err
	}

	if r.mode == config.ModeInvoke {
		err = r.invoke(ctx)
	} else {
		err = r.stream(ctx)
	}
	if err == nil {
		err = r.flushThinking(ctx)
	}
	if err != nil {
		return nil, r.executionFailed(ctx, err)
	}

	response := r.content.Content()
	agent, err := r.persist.PersistAgentMessage(ctx, AgentMessage{
		Content:    response,
		StopReason: r.stopReason,
		Model:      r.model,
		Usage:      r.usage,
	})
	if err != nil {
		return nil, r.abort(ctx, err, CodePersistence)
	}
	r.messageID = agent.MessageID
	if err := r.emit(&event.Message{
		Content:        response,
		Role:           string(conversation.RoleAssistant),
		MessageID:      agent.MessageID,
		SequenceNumber: agent.SequenceNumber,
		StopReason:     r.stopReason,
	}, event.StatePersisted); err != nil {
		return nil, err
	}
	r.persist.PersistCitationsAsync(ctx, agent.MessageID, r.citations)

	reason := r.adapter.NormalizeStopReason(r.stopReason)
	if err := r.complete(reason); err != nil {
		return nil, err
	}

	if r.o.persist.AwaitBackground() {
		if err := r.persist.AwaitPersistence(ctx); err != nil {
			slog.WarnContext(ctx, "stopped waiting for background persistence", "error", err)
		}
	}

	return &ExecuteResult{
		Success:    reason != event.ReasonError,
		SessionID:  r.sessionID,
		Response:   response,
		MessageID:  agent.MessageID,
		StopReason: reason,
		TokenUsage: r.usage,
	}, nil
}

// executionFailed terminates a turn whose execution failed. Cancellation
// ends it with complete(user_cancelled); anything else with an error event
// followed by complete(error). The original error is returned.
func (r *turnRun) executionFailed(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		slog.InfoContext(ctx, "turn cancelled", "session_id", r.sessionID)
		if cerr := r.complete(event.ReasonUserCancelled); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}

	slog.ErrorContext(ctx, "agent execution failed", "session_id", r.sessionID, "error", err)
	if eerr := r.emit(&event.Error{Error: err.Error(), Code: CodeExecution}, event.StateTransient); eerr != nil {
		return errors.Join(err, eerr)
	}
	r.persist.PersistErrorAsync(ctx, err.Error(), CodeExecution)
	if cerr := r.complete(event.ReasonError); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// abort reports a fatal persistence failure with an error event only.
func (r *turnRun) abort(ctx context.Context, err error, code string) error {
	slog.ErrorContext(ctx, "turn aborted", "session_id", r.sessionID, "code", code, "error", err)
	if eerr := r.emit(&event.Error{Error: err.Error(), Code: code}, event.StateTransient); eerr != nil {
		return errors.Join(err, eerr)
	}
	r.persist.PersistErrorAsync(ctx, err.Error(), code)
	return err
}

func (r *turnRun) complete(reason event.CompleteReason) error {
	r.reason = reason
	return r.emit(&event.Complete{Reason: reason}, event.StateTransient)
}

// emit stamps the envelope, validates ev and hands it to the sink.
func (r *turnRun) emit(ev event.AgentEvent, state event.PersistenceState) error {
	b := ev.Base()
	b.EventID = uuid.NewString()
	b.SessionID = r.sessionID
	b.Timestamp = r.o.clock.Now()
	b.EventIndex = r.index
	b.PersistenceState = state
	if err := ev.Validate(); err != nil {
		return err
	}
	r.index++
	if r.emitFn != nil {
		r.emitFn(ev)
	}
	return nil
}

func (r *turnRun) input() agentgraph.Input {
	in := agentgraph.Input{
		SessionID:                r.sessionID,
		UserID:                   r.userID,
		Prompt:                   r.prompt,
		EnableThinking:           r.opts.EnableThinking,
		Attachments:              r.opts.Attachments,
		EnableAutoSemanticSearch: r.opts.EnableAutoSemanticSearch,
	}
	if r.opts.EnableThinking {
		in.ThinkingBudget = r.opts.ThinkingBudget
		if in.ThinkingBudget == 0 {
			in.ThinkingBudget = r.o.cfg.ThinkingBudget
		}
	}
	return in
}

func (r *turnRun) stream(ctx context.Context) error {
	raw := r.o.executor.StreamEvents(ctx, r.input())
	for routed, err := range r.o.router.Route(ctx, raw, r.adapter) {
		if err != nil {
			return err
		}
		switch routed.Kind {
		case stream.RoutedNormalized:
			err = r.onNormalized(ctx, routed.Event)
		case stream.RoutedToolExecutions:
			err = r.onToolExecutions(ctx, routed.AgentName, routed.Executions)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *turnRun) onNormalized(ctx context.Context, ev *stream.NormalizedEvent) error {
	switch ev.Type {
	case stream.TypeReasoningDelta:
		if r.opts.EnableThinking {
			r.thinking.WriteString(ev.Reasoning)
		}
	case stream.TypeContentDelta:
		if err := r.flushThinking(ctx); err != nil {
			return err
		}
		r.citations = append(r.citations, ev.Citations...)
		if ev.Content == "" {
			return nil
		}
		r.content.Append(ev.Content)
		return r.emit(&event.MessageChunk{Delta: ev.Content}, event.StateTransient)
	case stream.TypeToolCall:
		if err := r.flushThinking(ctx); err != nil {
			return err
		}
		if ev.ToolCall != nil && ev.ToolCall.ID != "" {
			r.toolCalls[ev.ToolCall.ID] = ev.ToolCall
		}
	case stream.TypeUsage:
		if ev.Usage != nil {
			r.usage.Add(ev.Usage.InputTokens, ev.Usage.OutputTokens)
			if ev.Usage.StopReason != "" {
				r.stopReason = ev.Usage.StopReason
			}
		}
	case stream.TypeCitation:
		if ev.Citation != nil {
			r.citations = append(r.citations, *ev.Citation)
		}
	}
	return nil
}

// onToolExecutions emits each execution as an adjacent tool_use/tool_result
// pair and schedules the batch for background persistence.
func (r *turnRun) onToolExecutions(ctx context.Context, agentName string, execs []stream.ToolExecutionRecord) error {
	if err := r.flushThinking(ctx); err != nil {
		return err
	}
	for i := range execs {
		call, ok := r.toolCalls[execs[i].ToolUseID]
		if !ok {
			continue
		}
		if len(execs[i].Args) == 0 && len(call.Input) > 0 {
			execs[i].Args = call.Input
		}
		if execs[i].ToolName == "" {
			execs[i].ToolName = call.Name
		}
	}

	r.persist.PersistToolEventsAsync(ctx, agentName, execs)

	for _, ex := range execs {
		args := ex.Args
		if args == nil {
			args = map[string]any{}
		}
		if err := r.emit(&event.ToolUse{
			ToolUseID: ex.ToolUseID,
			ToolName:  ex.ToolName,
			Args:      args,
		}, event.StateTransient); err != nil {
			return err
		}
		if err := r.emit(&event.ToolResult{
			ToolUseID: ex.ToolUseID,
			ToolName:  ex.ToolName,
			Result:    ex.Result,
			Success:   ex.Success,
			Error:     ex.Error,
		}, event.StatePending); err != nil {
			return err
		}
	}
	if r.o.metrics != nil && len(execs) > 0 {
		r.o.metrics.ToolExecutions.Add(ctx, int64(len(execs)),
			metric.WithAttributes(attribute.String("agent.name", agentName)))
	}
	return nil
}

// flushThinking emits buffered reasoning as one thinking_complete. A failed
// synchronous write downgrades the event to transient instead of failing the
// turn.
func (r *turnRun) flushThinking(ctx context.Context) error {
	if r.thinking.Len() == 0 {
		return nil
	}
	content := r.thinking.String()
	r.thinking.Reset()

	ev := &event.ThinkingComplete{Content: content}
	state := event.StatePending
	res, err := r.persist.PersistThinking(ctx, content)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "thinking not persisted", "session_id", r.sessionID, "error", err)
		state = event.StateTransient
	case res != nil:
		seq := res.SequenceNumber
		ev.SequenceNumber = &seq
		state = event.StatePersisted
	}
	return r.emit(ev, state)
}

func (r *turnRun) invoke(ctx context.Context) error {
	res, err := r.o.executor.Invoke(ctx, r.input())
	if err != nil {
		return err
	}
	msgs := currentTurn(res.Messages)

	var final *agentgraph.Message
	for i := range msgs {
		m := &msgs[i]
		if m.Role != agentgraph.RoleAI {
			continue
		}
		if r.opts.EnableThinking {
			r.thinking.WriteString(agentgraph.ThinkingOf(m.Content))
		}
		if u := m.UsageMetadata; u != nil {
			r.usage.Add(u.InputTokens, u.OutputTokens)
		} else if u := m.ResponseMetadata.Usage; u != nil {
			r.usage.Add(u.InputTokens, u.OutputTokens)
		}
		if sr := m.ResponseMetadata.StopReason; sr != "" {
			r.stopReason = sr
		} else if fr := m.ResponseMetadata.FinishReason; fr != "" {
			r.stopReason = fr
		}
		if m.ResponseMetadata.Model != "" {
			r.model = m.ResponseMetadata.Model
		}
		final = m
	}

	execs := make([]stream.ToolExecutionRecord, 0, len(res.ToolExecutions))
	for _, raw := range res.ToolExecutions {
		execs = append(execs, toolExecutionRecord(raw))
	}
	if len(execs) == 0 {
		execs = toolExecutionsFromMessages(msgs)
	}
	if len(execs) > 0 {
		if err := r.onToolExecutions(ctx, "", execs); err != nil {
			return err
		}
	}

	if final != nil {
		r.content.Append(agentgraph.TextOf(final.Content))
	}
	return nil
}

// currentTurn returns the messages after the last human message.
func currentTurn(msgs []agentgraph.Message) []agentgraph.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == agentgraph.RoleHuman {
			return msgs[i+1:]
		}
	}
	return msgs
}

// toolExecutionsFromMessages pairs tool_use blocks of assistant messages with
// the tool messages answering them, in request order.
func toolExecutionsFromMessages(msgs []agentgraph.Message) []stream.ToolExecutionRecord {
	results := make(map[string]string)
	for i := range msgs {
		if msgs[i].Role == agentgraph.RoleTool && msgs[i].ToolCallID != "" {
			results[msgs[i].ToolCallID] = agentgraph.TextOf(msgs[i].Content)
		}
	}

	var execs []stream.ToolExecutionRecord
	for i := range msgs {
		if msgs[i].Role != agentgraph.RoleAI {
			continue
		}
		for _, b := range msgs[i].Content.Blocks {
			if b.Type != "tool_use" || b.ID == "" {
				continue
			}
			execs = append(execs, stream.ToolExecutionRecord{
				ToolUseID: b.ID,
				ToolName:  b.Name,
				Args:      agentgraph.DecodeArgs(b.Input),
				Result:    results[b.ID],
				Success:   true,
			})
		}
	}
	return execs
}
