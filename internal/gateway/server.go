// Package gateway wires the agentic runtime, session store, tools, and
// workspace context into the local host surfaces Resonance exposes: a CLI
// entry point, a local HTTP API, and the sentinel loop. Unlike the
// multi-channel, gRPC-fronted gateway this package is grounded on, Resonance
// drives exactly those three built-in surfaces — there is no bot-platform
// registry to bridge, so Server owns the runtime directly instead of
// delegating through a channel adapter per platform.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/JulianRyder01/resonance/internal/agent"
	"github.com/JulianRyder01/resonance/internal/agent/providers"
	"github.com/JulianRyder01/resonance/internal/bridge"
	"github.com/JulianRyder01/resonance/internal/config"
	"github.com/JulianRyder01/resonance/internal/cron"
	"github.com/JulianRyder01/resonance/internal/doctor"
	"github.com/JulianRyder01/resonance/internal/hooks"
	"github.com/JulianRyder01/resonance/internal/observability"
	"github.com/JulianRyder01/resonance/internal/sentinel"
	"github.com/JulianRyder01/resonance/internal/sentinel/hotkey"
	"github.com/JulianRyder01/resonance/internal/sessions"
	"github.com/JulianRyder01/resonance/internal/skills"
	"github.com/JulianRyder01/resonance/internal/tools/exec"
	"github.com/JulianRyder01/resonance/internal/tools/files"
	"github.com/JulianRyder01/resonance/internal/tools/profile"
	sentineltools "github.com/JulianRyder01/resonance/internal/tools/sentinel"
	"github.com/JulianRyder01/resonance/internal/tools/websearch"
	"github.com/JulianRyder01/resonance/internal/workspace"
	"github.com/JulianRyder01/resonance/pkg/models"
)

// Server is the assembled host: one agentic runtime, the session store
// backing it, the workspace context feeding its system prompt, and the
// surface probes doctor audits report on. NewServer builds everything
// needed to process a turn; it does not itself listen on a socket — that is
// ManagedServer's job, so that `resonance doctor --probe` can construct a
// Server and call Channels() without binding a port.
type Server struct {
	config *config.Config
	logger *slog.Logger

	sessions sessions.Store
	runtime  *agent.AgenticRuntime
	skills   *skills.Manager
	sentinel *sentinel.Engine
	ws       *workspace.WorkspaceContext
	bridge   *bridge.Bridge
	hooks    *hooks.Registry
	metrics  *observability.Metrics
	cron     *cron.Scheduler
}

// NewServer builds the agentic runtime and its tool set from cfg but does
// not start any background goroutines or listeners.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ws, err := workspace.LoadWorkspace(workspace.LoaderConfigFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build LLM provider: %w", err)
	}

	store := sessions.NewMemoryStore()

	metrics := observability.NewMetrics()

	executorCfg := agent.DefaultExecutorConfig()
	executorCfg.Recorder = metrics

	loopCfg := &agent.LoopConfig{
		MaxToolIterations: agent.MaxToolIterations,
		MaxTokens:         4096,
		ExecutorConfig:    executorCfg,
		EnableBackpressure: true,
		StreamToolResults:  true,
	}
	runtime := agent.NewAgenticRuntime(provider, store, loopCfg)
	if model := cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel; model != "" {
		runtime.SetDefaultModel(model)
	}

	skillsMgr, err := skills.NewManager(&cfg.Skills, workspace.LoaderConfigFromConfig(cfg).Root, userConfigValues(cfg.User))
	if err != nil {
		return nil, fmt.Errorf("build skills manager: %w", err)
	}
	if err := skillsMgr.Discover(context.Background()); err != nil {
		logger.Warn("skill discovery failed", "error", err)
	}

	hk := hotkey.NewLogBackend(logger)
	sentinelEngine := sentinel.NewEngine(filepath.Join(cfg.Workspace.Path, "sentinels.json"), hk, logger)

	hookRegistry := hooks.NewRegistry(logger)
	hookSources := hooks.BuildDefaultSources(cfg.Workspace.Path, hooks.DefaultLocalPath(), "", nil)
	if n, err := hooks.RegisterMarkdownHooks(context.Background(), hookRegistry, hookSources, userConfigValues(cfg.User), logger); err != nil {
		logger.Warn("markdown hook discovery failed", "error", err)
	} else {
		logger.Debug("registered markdown hooks", "count", n)
	}

	srv := &Server{
		config:   cfg,
		logger:   logger,
		sessions: store,
		runtime:  runtime,
		skills:   skillsMgr,
		sentinel: sentinelEngine,
		ws:       ws,
		hooks:    hookRegistry,
		metrics:  metrics,
	}

	srv.bridge = bridge.New(srv.Process, bridge.Config{Logger: logger, Recorder: metrics})
	sentinelEngine.SetCallback(srv.dispatchSentinelTurn)

	cronScheduler, err := cron.NewScheduler(cfg.Cron,
		cron.WithLogger(logger),
		cron.WithAgentRunner(cron.AgentRunnerFunc(srv.runCronAgentJob)),
		cron.WithMessageSender(cron.MessageSenderFunc(srv.deliverCronMessage)),
		cron.WithExecutionStore(cron.NewMemoryExecutionStore()),
	)
	if err != nil {
		return nil, fmt.Errorf("build cron scheduler: %w", err)
	}
	srv.cron = cronScheduler

	registerTools(runtime, cfg, skillsMgr, sentinelEngine)

	return srv, nil
}

// dispatchSentinelTurn is the sentinel engine's fire callback: every
// sentinel trigger becomes a synthetic user turn submitted through the
// Bridge against the reserved resonance_main session, so it is serialized
// against any concurrently in-flight human turn on that same session
// instead of racing the agentic runtime directly.
func (s *Server) dispatchSentinelTurn(message string) {
	msg := &models.Message{
		Channel:   models.ChannelSentinel,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   message,
		CreatedAt: time.Now(),
	}
	if err := s.bridge.SubmitTurn(context.Background(), models.MainSessionID, msg); err != nil {
		s.logger.Warn("sentinel turn dispatch failed", "error", err)
	}
}

// runCronAgentJob is the cron scheduler's AgentRunner: a scheduled "agent"
// job becomes a synthetic user turn, submitted through the Bridge the same
// way a sentinel trigger is, against whichever session the job's
// channel/channel_id names (or MainSessionID if it left both blank).
func (s *Server) runCronAgentJob(ctx context.Context, job *cron.Job) error {
	sessionID := models.MainSessionID
	channel := models.ChannelCron
	channelID := ""
	if job.Message != nil && job.Message.ChannelID != "" {
		channelID = job.Message.ChannelID
		sessionID = channelID
	}

	msg := &models.Message{
		Channel:   channel,
		ChannelID: channelID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   job.Message.Content,
		CreatedAt: time.Now(),
	}
	return s.bridge.SubmitTurn(ctx, sessionID, msg)
}

// deliverCronMessage is the cron scheduler's MessageSender: a scheduled
// "message" job has no LLM turn to run, so instead of invoking the agentic
// runtime it appends the rendered content straight to the named channel's
// session history and broadcasts it to any client currently watching that
// session, the same outbound path an assistant reply would take.
func (s *Server) deliverCronMessage(ctx context.Context, message *config.CronMessageConfig) error {
	key := sessions.SessionKey(s.config.Session.DefaultAgentID, models.ChannelCron, message.ChannelID)
	sess, err := s.sessions.GetOrCreate(ctx, key, s.config.Session.DefaultAgentID, models.ChannelCron, message.ChannelID)
	if err != nil {
		return fmt.Errorf("load cron message session: %w", err)
	}

	msg := &models.Message{
		SessionID: sess.ID,
		Channel:   models.ChannelCron,
		ChannelID: message.ChannelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   message.Content,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.AppendMessage(ctx, sess.ID, msg); err != nil {
		return fmt.Errorf("append cron message: %w", err)
	}

	s.bridge.Broadcast(sess.ID, bridge.Event{
		SessionID: sess.ID,
		Chunk:     &agent.ResponseChunk{Text: message.Content},
		Done:      true,
	})
	return nil
}

// Bridge exposes the concurrency bridge surfaces submit turns through.
func (s *Server) Bridge() *bridge.Bridge { return s.bridge }

// Cron exposes the cron scheduler so ManagedServer can start/stop it and
// HTTP handlers can inspect job state and execution history.
func (s *Server) Cron() *cron.Scheduler { return s.cron }

// Hooks exposes the event hook registry so HTTP handlers and plugin loading
// can register additional handlers beyond the markdown hooks discovered at
// startup.
func (s *Server) Hooks() *hooks.Registry { return s.hooks }

// Metrics exposes the Prometheus metrics collector, registered against the
// default registerer so the HTTP surface's existing /metrics endpoint serves
// it without any extra wiring.
func (s *Server) Metrics() *observability.Metrics { return s.metrics }

// TriggerStartup fires the gateway.startup event for any registered hook.
// Called once by ManagedServer.Start after every managed component is up.
func (s *Server) TriggerStartup(ctx context.Context) {
	s.hooks.TriggerAsync(ctx, &hooks.Event{Type: hooks.EventGatewayStartup, Timestamp: time.Now()})
}

// TriggerShutdown fires the gateway.shutdown event and waits for every
// registered handler to run, since handlers like the bundled
// memory-consolidation hook are meant to act before the process exits.
func (s *Server) TriggerShutdown(ctx context.Context) error {
	return s.hooks.Trigger(ctx, &hooks.Event{Type: hooks.EventGatewayShutdown, Timestamp: time.Now()})
}

func userConfigValues(u config.UserConfig) map[string]any {
	return map[string]any{
		"user_name":      u.Name,
		"user_address":   u.PreferredAddress,
		"user_pronouns":  u.Pronouns,
		"user_timezone":  u.Timezone,
	}
}

// buildProvider selects and constructs the configured default LLM provider.
// Resonance does not implement the teacher's multi-provider failover chain
// as a wrapping decorator; FallbackChain is recorded but the agentic loop
// always talks to the single configured default, matching how AgenticRuntime
// takes exactly one LLMProvider.
func buildProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	name := cfg.DefaultProvider
	if name == "" {
		name = "anthropic"
	}
	pc := cfg.Providers[name]

	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(pc.APIKey), nil
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			Timeout:      2 * time.Minute,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

// registerTools wires the built-in tool set every surface shares. Template-
// or skill-scoped tool restriction (AgentSpec.AllowedToolGroups) is applied
// by the caller that instantiates an agent from a template, not here.
func registerTools(runtime *agent.AgenticRuntime, cfg *config.Config, skillsMgr *skills.Manager, sentinelEngine *sentinel.Engine) {
	execMgr := exec.NewManager(cfg.Workspace.Path)
	runtime.RegisterTool(exec.NewExecuteShellCommandTool(execMgr))

	filesCfg := files.Config{Workspace: cfg.Workspace.Path}
	runtime.RegisterTool(files.NewReadFileContentTool(filesCfg))
	runtime.RegisterTool(files.NewListDirectoryFilesTool(filesCfg))
	runtime.RegisterTool(files.NewSearchFilesByKeywordTool(filesCfg))

	runtime.RegisterTool(profile.NewRememberUserFactTool(filepath.Join(cfg.Workspace.Path, cfg.Workspace.UserFile), func(updated *config.UserConfig) {
		cfg.User = *updated
	}))

	runtime.RegisterTool(sentineltools.NewAddTimeSentinelTool(sentinelEngine))
	runtime.RegisterTool(sentineltools.NewAddFileSentinelTool(sentinelEngine))
	runtime.RegisterTool(sentineltools.NewAddBehaviorSentinelTool(sentinelEngine))
	runtime.RegisterTool(sentineltools.NewListActiveSentinelsTool(sentinelEngine))
	runtime.RegisterTool(sentineltools.NewRemoveSentinelTool(sentinelEngine))

	runtime.RegisterTool(websearch.NewBrowseURLTool(&websearch.BrowseConfig{}))

	runtime.RegisterTool(skills.NewManageSkillsTool(skillsMgr))
	runtime.RegisterTool(skills.NewLearnNewSkillTool(skillsMgr))
}

// Channels returns the built-in surface probes doctor audits. Unlike the
// plugin-extensible channels.Registry, these three are always present: the
// CLI and local API surfaces are always reachable once the process is up,
// and the sentinel surface reports whatever the engine's last tick found.
func (s *Server) Channels() []doctor.SurfaceProbe {
	return []doctor.SurfaceProbe{
		cliProbe{},
		apiProbe{cfg: s.config},
		sentinelProbe{engine: s.sentinel},
	}
}

// Runtime exposes the underlying agentic runtime for HTTP handlers.
func (s *Server) Runtime() *agent.AgenticRuntime { return s.runtime }

// Sessions exposes the session store for HTTP handlers.
func (s *Server) Sessions() sessions.Store { return s.sessions }

// Workspace exposes the workspace context loaded at startup (identity,
// user profile, AGENTS.md/SOUL.md content) for diagnostic commands.
func (s *Server) Workspace() *workspace.WorkspaceContext { return s.ws }

// Process loads sessionID (creating it if new) and runs msg through the
// agentic runtime. It applies no turn-ordering policy of its own — that is
// the Concurrency Bridge's job (internal/bridge): Process is the Bridge's
// Processor callback as well as the function CLI/debug commands that don't
// need cross-session scheduling can call directly.
func (s *Server) Process(ctx context.Context, sessionID string, msg *models.Message) (<-chan *agent.ResponseChunk, error) {
	key := sessions.SessionKey(s.config.Session.DefaultAgentID, msg.Channel, sessionID)
	sess, err := s.sessions.GetOrCreate(ctx, key, s.config.Session.DefaultAgentID, msg.Channel, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	s.hooks.TriggerAsync(ctx, &hooks.Event{
		Type:        hooks.EventMessageReceived,
		SessionKey:  key,
		ChannelID:   msg.ChannelID,
		ChannelType: msg.Channel,
		Message:     msg,
		Timestamp:   time.Now(),
	})
	s.metrics.MessageReceived(string(msg.Channel), "inbound")

	return s.runtime.Process(ctx, sess, msg)
}
