package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	agentctx "github.com/JulianRyder01/resonance/internal/agent/context"
	"github.com/JulianRyder01/resonance/internal/sessions"
	"github.com/JulianRyder01/resonance/pkg/models"
)

// MaxToolIterations bounds the ReAct loop: the number of stream-then-execute
// rounds the orchestrator will run before giving up on a single user turn.
const MaxToolIterations = 15

// MaxSupervisorLoops bounds how many times the supervisor can send the
// ReAct loop back to work before the turn is forced to finalize regardless
// of the verdict, so a misbehaving supervisor can never wedge a turn open
// forever.
const MaxSupervisorLoops = 3

// LoopConfig configures the agentic loop behavior including iteration
// limits, token budgets, and tool execution settings.
type LoopConfig struct {
	// MaxToolIterations limits the number of ReAct stream/execute rounds.
	// Default: MaxToolIterations (15).
	MaxToolIterations int

	// MaxSupervisorLoops limits how many times the supervisor can send the
	// loop back into another round of ReAct iterations.
	// Default: MaxSupervisorLoops (3).
	MaxSupervisorLoops int

	// MaxTokens is the default max tokens for LLM responses.
	// Default: 4096.
	MaxTokens int

	// MaxToolCalls limits the total tool calls per run (0 = unlimited).
	MaxToolCalls int

	// MaxWallTime limits total run duration (0 = no limit).
	MaxWallTime time.Duration

	// ExecutorConfig configures the parallel tool executor.
	ExecutorConfig *ExecutorConfig

	// EnableBackpressure enables backpressure handling for slow tools.
	// Default: true.
	EnableBackpressure bool

	// StreamToolResults streams tool results as they complete.
	// Default: true.
	StreamToolResults bool

	// DisableToolEvents disables streaming ToolEvent chunks.
	DisableToolEvents bool

	// ToolResultGuard redacts tool results before persistence.
	ToolResultGuard ToolResultGuard

	// ToolEvents persists tool call/result events when set.
	ToolEvents ToolEventStore

	// Summarization configures the Finalize-phase periodic history summary.
	// Summarization is skipped entirely when SummaryProvider is nil.
	Summarization   agentctx.SummarizationConfig
	SummaryProvider agentctx.SummaryProvider

	// Supervisor enables the post-turn verdict pass. When nil, the
	// supervisor loop is skipped and the turn finalizes after the first
	// ReAct round that returns no tool calls.
	Supervisor *SupervisorConfig

	// FactExtractor receives the turn's exchange for fire-and-forget memory
	// extraction once the turn finalizes. Nil disables fact extraction.
	FactExtractor FactExtractor

	// BuildPrompt composes the per-turn system prompt. If nil, the loop
	// falls back to the static default system prompt set via
	// SetDefaultSystem.
	BuildPrompt func(ctx context.Context, session *models.Session) PromptContext
}

// SupervisorConfig configures the post-ReAct verdict pass.
type SupervisorConfig struct {
	// Model overrides the model used for the supervisor's verdict call. If
	// empty, the turn's regular model is reused.
	Model string

	// MaxTokens bounds the verdict response. Default: 256.
	MaxTokens int
}

// FactExtractor persists durable facts distilled from a finished turn. The
// loop invokes it in a detached goroutine so extraction never delays the
// user-visible response.
type FactExtractor interface {
	ExtractAndStore(ctx context.Context, session *models.Session, exchange []CompletionMessage)
}

// MemoryIndexer is the subset of memory.Manager's surface FactExtractor
// implementations need; defined here (rather than importing internal/memory)
// so the agent package stays decoupled from the memory backend.
type MemoryIndexer interface {
	Index(ctx context.Context, entries []*models.MemoryEntry) error
}

// llmFactExtractor is the default FactExtractor: a second, cheap LLM call
// summarizing the turn into a single durable fact, stored through a
// MemoryIndexer, matching host_agent.py's _extract_and_save_memory_async.
type llmFactExtractor struct {
	provider LLMProvider
	store    MemoryIndexer
	model    string
}

// NewLLMFactExtractor builds the default fact extractor. Returns nil if
// either dependency is nil, so callers can wire it unconditionally.
func NewLLMFactExtractor(provider LLMProvider, store MemoryIndexer, model string) FactExtractor {
	if provider == nil || store == nil {
		return nil
	}
	return &llmFactExtractor{provider: provider, store: store, model: model}
}

func (f *llmFactExtractor) ExtractAndStore(ctx context.Context, session *models.Session, exchange []CompletionMessage) {
	var transcript strings.Builder
	for _, m := range exchange {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "[%s]: %s\n", m.Role, m.Content)
	}
	if transcript.Len() == 0 {
		return
	}

	req := &CompletionRequest{
		Model:     f.model,
		System:    factExtractionSystem,
		Messages:  []CompletionMessage{{Role: "user", Content: transcript.String()}},
		MaxTokens: 256,
	}

	chunks, err := f.provider.Complete(ctx, req)
	if err != nil {
		return
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk == nil || chunk.Error != nil {
			return
		}
		text.WriteString(chunk.Text)
	}

	fact := strings.TrimSpace(text.String())
	if fact == "" || strings.EqualFold(fact, noInfoSentinel) || strings.Contains(strings.ToUpper(fact), noInfoSentinel) {
		return
	}

	var agentID, sessionID string
	if session != nil {
		agentID = session.AgentID
		sessionID = session.ID
	}

	_ = f.store.Index(ctx, []*models.MemoryEntry{{
		SessionID: sessionID,
		AgentID:   agentID,
		Content:   fact,
		Metadata: models.MemoryMetadata{
			Source: "conversation_insight",
			Role:   "assistant",
			Extra: map[string]any{
				"session": sessionID,
			},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}})
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxToolIterations:  MaxToolIterations,
		MaxSupervisorLoops: MaxSupervisorLoops,
		MaxTokens:          4096,
		ExecutorConfig:     DefaultExecutorConfig(),
		EnableBackpressure: true,
		StreamToolResults:  true,
		Summarization:      agentctx.DefaultSummarizationConfig(),
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = defaults.MaxToolIterations
	}
	if cfg.MaxSupervisorLoops <= 0 {
		cfg.MaxSupervisorLoops = defaults.MaxSupervisorLoops
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.ExecutorConfig == nil {
		cfg.ExecutorConfig = defaults.ExecutorConfig
	}
	if cfg.MaxToolCalls < 0 {
		cfg.MaxToolCalls = 0
	}
	if cfg.MaxWallTime < 0 {
		cfg.MaxWallTime = 0
	}
	if cfg.Summarization == (agentctx.SummarizationConfig{}) {
		cfg.Summarization = defaults.Summarization
	}
	return &cfg
}

// AgenticLoop implements Resonance's turn orchestrator: Enter (load history,
// persist the inbound turn) -> ReAct loop (stream, execute tools, repeat up
// to MaxToolIterations) -> Supervisor loop (verdict, possibly re-entering
// ReAct, up to MaxSupervisorLoops) -> Finalize (periodic summarization,
// fire-and-forget fact extraction) -> Exit.
type AgenticLoop struct {
	provider LLMProvider
	executor *Executor
	sessions sessions.Store
	config   *LoopConfig

	defaultModel  string
	defaultSystem string
}

// NewAgenticLoop creates a new agentic loop with the given provider, tool
// registry, and session store. If config is nil, DefaultLoopConfig is used.
func NewAgenticLoop(provider LLMProvider, registry *ToolRegistry, store sessions.Store, config *LoopConfig) *AgenticLoop {
	config = sanitizeLoopConfig(config)
	if registry == nil {
		registry = NewToolRegistry()
	}

	executor := NewExecutor(registry, config.ExecutorConfig)
	if !config.EnableBackpressure {
		executor.sem = nil
	}

	return &AgenticLoop{
		provider: provider,
		executor: executor,
		sessions: store,
		config:   config,
	}
}

// SetDefaultModel sets the default model used when requests do not specify one.
func (l *AgenticLoop) SetDefaultModel(model string) {
	l.defaultModel = model
}

// SetDefaultSystem sets the fallback system prompt used when LoopConfig.BuildPrompt is nil.
func (l *AgenticLoop) SetDefaultSystem(system string) {
	l.defaultSystem = system
}

// ConfigureTool sets per-tool configuration overrides for timeout, retry, and priority.
func (l *AgenticLoop) ConfigureTool(name string, config *ToolConfig) {
	l.executor.ConfigureTool(name, config)
}

// LoopState tracks the current state of an agentic loop execution.
type LoopState struct {
	Phase              LoopPhase
	Iteration          int
	SupervisorLoops    int
	TotalToolCalls     int
	Messages           []CompletionMessage
	PendingTools       []models.ToolCall
	AccumulatedText    string
	AssistantMsgID     string
	TurnExchange       []CompletionMessage
}

// Run executes the agentic loop and streams results through a channel. The
// channel is closed when the loop completes or an error occurs.
func (l *AgenticLoop) Run(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *ResponseChunk, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if l.config == nil {
		return nil, errors.New("loop config is nil")
	}
	if session == nil {
		return nil, errors.New("session is nil")
	}
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	if l.sessions == nil {
		return nil, errors.New("no session store configured")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if l.config.MaxWallTime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, l.config.MaxWallTime)
	}
	runCtx = WithSession(runCtx, session)

	chunks := make(chan *ResponseChunk, processBufferSize)

	go func() {
		defer close(chunks)
		if cancel != nil {
			defer cancel()
		}

		state := &LoopState{Phase: PhaseInit}

		if err := l.enter(runCtx, session, msg, state); err != nil {
			chunks <- &ResponseChunk{Error: &LoopError{Phase: PhaseInit, Cause: err}}
			return
		}

		if err := l.runReactLoop(runCtx, session, state, chunks); err != nil {
			chunks <- &ResponseChunk{Error: &LoopError{Phase: state.Phase, Iteration: state.Iteration, Cause: err}}
			return
		}

		l.runSupervisorLoop(runCtx, session, state, chunks)

		l.finalize(runCtx, session, state)
	}()

	return chunks, nil
}

// enter loads conversation history, repairs it, and persists the inbound
// message — the orchestrator's fixed entry point before any model call.
func (l *AgenticLoop) enter(ctx context.Context, session *models.Session, msg *models.Message, state *LoopState) error {
	history, err := l.sessions.GetHistory(ctx, session.ID, 50)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}
	history = repairTranscript(history)

	state.Messages = make([]CompletionMessage, 0, len(history)+1)
	for _, m := range history {
		state.Messages = append(state.Messages, historyToCompletionMessage(m))
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = session.ID
	}
	if msg.Channel == "" {
		msg.Channel = session.Channel
	}
	if msg.ChannelID == "" {
		msg.ChannelID = session.ChannelID
	}
	if msg.Role == "" {
		msg.Role = models.RoleUser
	}
	if msg.Direction == "" {
		msg.Direction = models.DirectionInbound
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	if err := l.sessions.AppendMessage(ctx, session.ID, msg); err != nil {
		return err
	}

	inbound := CompletionMessage{Role: string(msg.Role), Content: msg.Content}
	state.Messages = append(state.Messages, inbound)
	state.TurnExchange = append(state.TurnExchange, inbound)
	return nil
}

func historyToCompletionMessage(m *models.Message) CompletionMessage {
	return CompletionMessage{
		Role:        string(m.Role),
		Content:     m.Content,
		ToolCalls:   m.ToolCalls,
		ToolResults: m.ToolResults,
	}
}

// runReactLoop runs stream-then-execute rounds until the model stops
// requesting tools or MaxToolIterations is reached.
func (l *AgenticLoop) runReactLoop(ctx context.Context, session *models.Session, state *LoopState, chunks chan<- *ResponseChunk) error {
	for state.Iteration < l.config.MaxToolIterations {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		state.Phase = PhaseStream
		toolCalls, err := l.streamPhase(ctx, session, state, chunks)
		if err != nil {
			return err
		}

		if l.config.MaxToolCalls > 0 && state.TotalToolCalls+len(toolCalls) > l.config.MaxToolCalls {
			return fmt.Errorf("tool calls exceed maximum of %d for run", l.config.MaxToolCalls)
		}
		state.TotalToolCalls += len(toolCalls)

		assistantMsgID, err := l.persistAssistantMessage(ctx, session, state, toolCalls)
		if err != nil {
			return err
		}
		state.AssistantMsgID = assistantMsgID
		l.persistToolCalls(ctx, session, assistantMsgID, toolCalls)

		if len(toolCalls) == 0 {
			state.Messages = append(state.Messages, CompletionMessage{Role: "assistant", Content: state.AccumulatedText})
			state.TurnExchange = append(state.TurnExchange, CompletionMessage{Role: "assistant", Content: state.AccumulatedText})
			state.AccumulatedText = ""
			state.Phase = PhaseComplete
			return nil
		}

		state.Phase = PhaseExecuteTools
		state.PendingTools = toolCalls

		toolResults, err := l.executeToolsPhase(ctx, session, state, chunks)
		if err != nil {
			return err
		}

		if err := l.persistToolMessage(ctx, session, toolCalls, toolResults); err != nil {
			return err
		}

		state.Phase = PhaseContinue
		l.continuePhase(state, toolCalls, toolResults)

		state.Iteration++
	}

	return &LoopError{Phase: state.Phase, Iteration: state.Iteration, Cause: ErrMaxIterations,
		Message: fmt.Sprintf("reached max tool iterations: %d", l.config.MaxToolIterations)}
}

// runSupervisorLoop asks a second, cheap LLM call to judge whether the ReAct
// loop actually satisfied the user's request. On an INCOMPLETE verdict it
// injects a steering system message and re-enters the ReAct loop, up to
// MaxSupervisorLoops times. Any error in the verdict call is treated the
// same as a COMPLETE verdict so the turn never hangs on a supervisor fault.
func (l *AgenticLoop) runSupervisorLoop(ctx context.Context, session *models.Session, state *LoopState, chunks chan<- *ResponseChunk) {
	if l.config.Supervisor == nil {
		return
	}

	for state.SupervisorLoops < l.config.MaxSupervisorLoops {
		select {
		case <-ctx.Done():
			return
		default:
		}

		state.Phase = PhaseSupervisor
		verdict := l.evaluateSupervisor(ctx, state)
		if verdict.Status != "INCOMPLETE" {
			return
		}

		state.SupervisorLoops++
		steering := supervisorInterventionMessage(verdict.Instruction)
		state.Messages = append(state.Messages, CompletionMessage{Role: string(models.RoleSystem), Content: steering})

		_ = l.persistSystemMessage(ctx, session, steering)

		if err := l.runReactLoop(ctx, session, state, chunks); err != nil {
			chunks <- &ResponseChunk{Error: &LoopError{Phase: PhaseSupervisor, Iteration: state.Iteration, Cause: err}}
			return
		}
	}
}

func (l *AgenticLoop) evaluateSupervisor(ctx context.Context, state *LoopState) SupervisorVerdict {
	model := l.config.Supervisor.Model
	if model == "" {
		model = l.defaultModel
	}
	maxTokens := l.config.Supervisor.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}

	req := &CompletionRequest{
		Model:     model,
		System:    supervisorProtocolSystem,
		Messages:  state.Messages,
		MaxTokens: maxTokens,
	}

	completion, err := l.provider.Complete(ctx, req)
	if err != nil {
		return SupervisorVerdict{Status: "COMPLETE"}
	}

	var text strings.Builder
	for chunk := range completion {
		if chunk == nil || chunk.Error != nil {
			return SupervisorVerdict{Status: "COMPLETE"}
		}
		text.WriteString(chunk.Text)
	}

	return parseSupervisorVerdict(text.String())
}

// finalize runs end-of-turn housekeeping: periodic history summarization and
// fire-and-forget fact extraction. Neither can fail the turn — both are
// best-effort follow-ups, matching host_agent.py's detached post-turn tasks.
func (l *AgenticLoop) finalize(ctx context.Context, session *models.Session, state *LoopState) {
	state.Phase = PhaseFinalize

	if l.config.SummaryProvider != nil {
		l.runSummarization(ctx, session)
	}

	if l.config.FactExtractor != nil && len(state.TurnExchange) > 0 {
		exchange := append([]CompletionMessage(nil), state.TurnExchange...)
		go l.config.FactExtractor.ExtractAndStore(context.Background(), session, exchange)
	}
}

func (l *AgenticLoop) runSummarization(ctx context.Context, session *models.Session) {
	history, err := l.sessions.GetHistory(ctx, session.ID, 0)
	if err != nil {
		return
	}
	summarizer := agentctx.NewSummarizer(l.config.SummaryProvider, l.config.Summarization)
	currentSummary := agentctx.FindLatestSummary(history)
	summaryMsg, err := summarizer.Summarize(ctx, session.ID, history, currentSummary)
	if err != nil || summaryMsg == nil {
		return
	}
	_ = l.sessions.AppendMessage(ctx, session.ID, summaryMsg)
}

// streamPhase streams from the LLM and collects any tool calls.
func (l *AgenticLoop) streamPhase(ctx context.Context, session *models.Session, state *LoopState, chunks chan<- *ResponseChunk) ([]models.ToolCall, error) {
	tools := l.executor.registry.AsLLMTools()
	if policy := toolGroupPolicyFromContext(ctx); policy != nil {
		tools = filterToolsByGroupPolicy(policy, tools)
	}

	system := l.defaultSystem
	if l.config.BuildPrompt != nil {
		system = BuildSystemPrompt(l.config.BuildPrompt(ctx, session))
	}
	if override, ok := systemPromptFromContext(ctx); ok {
		system = override
	}

	model := l.defaultModel
	if override, ok := modelFromContext(ctx); ok {
		model = override
	}

	req := &CompletionRequest{
		Model:     model,
		System:    system,
		Messages:  state.Messages,
		Tools:     tools,
		MaxTokens: l.config.MaxTokens,
	}

	completion, err := l.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var toolCalls []models.ToolCall
	var textBuilder strings.Builder

	for chunk := range completion {
		if chunk.Error != nil {
			return nil, chunk.Error
		}

		if chunk.ThinkingStart {
			chunks <- &ResponseChunk{ThinkingStart: true}
		}
		if chunk.Thinking != "" {
			chunks <- &ResponseChunk{Thinking: chunk.Thinking}
		}
		if chunk.ThinkingEnd {
			chunks <- &ResponseChunk{ThinkingEnd: true}
		}

		if chunk.Text != "" {
			if textBuilder.Len()+len(chunk.Text) > MaxResponseTextSize {
				return nil, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			textBuilder.WriteString(chunk.Text)
			chunks <- &ResponseChunk{Text: chunk.Text}
		}

		if chunk.ToolCall != nil {
			if len(toolCalls) >= MaxToolCallsPerIteration {
				return nil, fmt.Errorf("tool calls exceed maximum of %d per iteration", MaxToolCallsPerIteration)
			}
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
	}

	state.AccumulatedText = textBuilder.String()
	return toolCalls, nil
}

// filterToolsByGroupPolicy drops tools whose declared group the policy
// rejects. Tools not tagged with a recognizable group prefix always pass.
func filterToolsByGroupPolicy(policy ToolGroupPolicy, tools []Tool) []Tool {
	if policy == nil {
		return tools
	}
	filtered := make([]Tool, 0, len(tools))
	for _, t := range tools {
		group, hasGroup := toolGroup(t.Name())
		if hasGroup && !policy.IsGroupAllowed(group) {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered
}

// toolGroup extracts the "group." prefix from a tool name ("fs.read_file" ->
// "fs"), matching the convention skill gating declares groups under.
func toolGroup(name string) (string, bool) {
	idx := strings.IndexByte(name, '.')
	if idx <= 0 {
		return "", false
	}
	return name[:idx], true
}

// executeToolsPhase executes pending tool calls in parallel, applying the
// tool result guard before persistence/streaming.
func (l *AgenticLoop) executeToolsPhase(ctx context.Context, session *models.Session, state *LoopState, chunks chan<- *ResponseChunk) ([]models.ToolResult, error) {
	if len(state.PendingTools) == 0 {
		return nil, nil
	}

	for i := range state.PendingTools {
		tc := state.PendingTools[i]
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      models.ToolEventRequested,
			Input:      tc.Arguments,
		})
	}
	for i := range state.PendingTools {
		tc := state.PendingTools[i]
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      models.ToolEventStarted,
			StartedAt:  time.Now(),
		})
	}

	execResults := l.executor.ExecuteAll(ctx, state.PendingTools)
	results := make([]models.ToolResult, len(state.PendingTools))
	artifacts := make([][]Artifact, len(state.PendingTools))

	for i, r := range execResults {
		tc := state.PendingTools[i]
		switch {
		case r == nil:
			results[i] = models.ToolResult{ToolCallID: tc.ID, Content: "tool execution failed", IsError: true}
		case r.Error != nil:
			results[i] = models.ToolResult{ToolCallID: tc.ID, Content: r.Error.Error(), IsError: true}
		case r.Result != nil:
			results[i] = models.ToolResult{
				ToolCallID:  tc.ID,
				Content:     r.Result.Content,
				IsError:     r.Result.IsError,
				Attachments: artifactsToAttachments(r.Result.Artifacts),
			}
			artifacts[i] = r.Result.Artifacts
		default:
			results[i] = models.ToolResult{ToolCallID: tc.ID, Content: "tool returned no result", IsError: true}
		}

		stage := models.ToolEventSucceeded
		if results[i].IsError {
			stage = models.ToolEventFailed
		}
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      stage,
			Output:     results[i].Content,
			Error:      errorIfFailed(results[i]),
			FinishedAt: time.Now(),
		})
		l.persistToolResult(ctx, session, state.AssistantMsgID, tc, results[i])
	}

	if l.config.StreamToolResults {
		for i := range results {
			chunk := &ResponseChunk{ToolResult: &results[i]}
			if len(artifacts[i]) > 0 {
				chunk.Artifacts = artifacts[i]
			}
			chunks <- chunk
		}
	}

	return results, nil
}

func errorIfFailed(result models.ToolResult) string {
	if result.IsError {
		return result.Content
	}
	return ""
}

// artifactsToAttachments converts tool-produced artifacts into the
// persisted message shape so files a tool writes survive in transcript
// history and can be re-sent to a client that reconnects mid-session.
func artifactsToAttachments(artifacts []Artifact) []models.Attachment {
	if len(artifacts) == 0 {
		return nil
	}
	out := make([]models.Attachment, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, models.Attachment{
			ID:       a.ID,
			Type:     a.Type,
			URL:      a.URL,
			Filename: a.Filename,
			MimeType: a.MimeType,
			Size:     int64(len(a.Data)),
		})
	}
	return out
}

// continuePhase adds the assistant message with tool calls and tool results
// (with the LLM-facing reminder suffix appended) to the in-memory message
// window, without mutating the persisted copy.
func (l *AgenticLoop) continuePhase(state *LoopState, toolCalls []models.ToolCall, toolResults []models.ToolResult) {
	state.Messages = append(state.Messages, CompletionMessage{
		Role:      "assistant",
		Content:   state.AccumulatedText,
		ToolCalls: toolCalls,
	})
	state.TurnExchange = append(state.TurnExchange, CompletionMessage{
		Role:      "assistant",
		Content:   state.AccumulatedText,
		ToolCalls: toolCalls,
	})

	llmFacing := make([]models.ToolResult, len(toolResults))
	for i, tr := range toolResults {
		llmFacing[i] = tr
		if !tr.IsError {
			llmFacing[i].Content += toolResultReminderSuffix
		}
	}
	state.Messages = append(state.Messages, CompletionMessage{Role: "tool", ToolResults: llmFacing})

	state.AccumulatedText = ""
	state.PendingTools = nil
}

func (l *AgenticLoop) persistAssistantMessage(ctx context.Context, session *models.Session, state *LoopState, toolCalls []models.ToolCall) (string, error) {
	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   session.Channel,
		ChannelID: session.ChannelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   state.AccumulatedText,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
	if err := l.sessions.AppendMessage(ctx, session.ID, assistantMsg); err != nil {
		return "", err
	}
	return assistantMsg.ID, nil
}

func (l *AgenticLoop) persistToolMessage(ctx context.Context, session *models.Session, toolCalls []models.ToolCall, toolResults []models.ToolResult) error {
	if len(toolResults) == 0 {
		return nil
	}
	stored := make([]models.ToolResult, len(toolResults))
	for i, tr := range toolResults {
		toolName := ""
		if i < len(toolCalls) {
			toolName = toolCalls[i].Name
		}
		stored[i] = l.config.ToolResultGuard.Apply(toolName, tr)
	}
	toolMsg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Channel:     session.Channel,
		ChannelID:   session.ChannelID,
		Direction:   models.DirectionInbound,
		Role:        models.RoleTool,
		ToolResults: stored,
		CreatedAt:   time.Now(),
	}
	return l.sessions.AppendMessage(ctx, session.ID, toolMsg)
}

func (l *AgenticLoop) persistSystemMessage(ctx context.Context, session *models.Session, content string) error {
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   session.Channel,
		ChannelID: session.ChannelID,
		Direction: models.DirectionInbound,
		Role:      models.RoleSystem,
		Content:   content,
		CreatedAt: time.Now(),
	}
	return l.sessions.AppendMessage(ctx, session.ID, msg)
}

func (l *AgenticLoop) emitToolEvent(chunks chan<- *ResponseChunk, event *models.ToolEvent) {
	if l.config.DisableToolEvents || event == nil {
		return
	}
	chunks <- &ResponseChunk{ToolEvent: event}
}

func (l *AgenticLoop) persistToolCalls(ctx context.Context, session *models.Session, assistantMsgID string, toolCalls []models.ToolCall) {
	if l.config.ToolEvents == nil || session == nil {
		return
	}
	for i := range toolCalls {
		tc := toolCalls[i]
		_ = l.config.ToolEvents.AddToolCall(ctx, session.ID, assistantMsgID, &tc)
	}
}

func (l *AgenticLoop) persistToolResult(ctx context.Context, session *models.Session, assistantMsgID string, tc models.ToolCall, res models.ToolResult) {
	if l.config.ToolEvents == nil || session == nil {
		return
	}
	guarded := l.config.ToolResultGuard.Apply(tc.Name, res)
	_ = l.config.ToolEvents.AddToolResult(ctx, session.ID, assistantMsgID, &tc, &guarded)
}

// AgenticRuntime wraps the AgenticLoop to provide a Runtime-compatible interface.
type AgenticRuntime struct {
	loop *AgenticLoop
}

// NewAgenticRuntime creates a new agentic runtime wrapping an AgenticLoop.
func NewAgenticRuntime(provider LLMProvider, store sessions.Store, config *LoopConfig) *AgenticRuntime {
	registry := NewToolRegistry()
	loop := NewAgenticLoop(provider, registry, store, config)
	return &AgenticRuntime{loop: loop}
}

// SetDefaultModel configures the fallback model used when not specified in requests.
func (r *AgenticRuntime) SetDefaultModel(model string) {
	r.loop.SetDefaultModel(model)
}

// SetSystemPrompt configures the fallback system prompt used when not specified in requests.
func (r *AgenticRuntime) SetSystemPrompt(system string) {
	r.loop.SetDefaultSystem(system)
}

// RegisterTool adds a tool to the runtime's tool registry.
func (r *AgenticRuntime) RegisterTool(tool Tool) {
	r.loop.executor.registry.Register(tool)
}

// ConfigureTool sets per-tool configuration for timeout, retry, and priority.
func (r *AgenticRuntime) ConfigureTool(name string, config *ToolConfig) {
	r.loop.ConfigureTool(name, config)
}

// Process handles an incoming message using the agentic loop and streams results.
func (r *AgenticRuntime) Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *ResponseChunk, error) {
	return r.loop.Run(ctx, session, msg)
}

// ExecutorMetrics returns a snapshot of metrics from the tool executor.
func (r *AgenticRuntime) ExecutorMetrics() *ExecutorMetricsSnapshot {
	return r.loop.executor.Metrics()
}

// processBufferSize sizes the response-chunk channel so a fast model
// streaming many small chunks doesn't block on a slow consumer mid-tool-call.
const processBufferSize = 64
