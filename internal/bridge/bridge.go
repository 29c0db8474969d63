// Package bridge serializes turns per session while letting unrelated
// sessions run concurrently, and fans each turn's streamed chunks out to
// every client watching that session. It is the Concurrency Bridge: the
// layer between a surface handler (HTTP, CLI, sentinel) and the agentic
// runtime that owns cancellation, turn ordering, and multi-client
// broadcast, grounded on internal/infra/workers.go's generic WorkerPool and
// the teacher's internal/gateway/broadcast.go fan-out pattern.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/JulianRyder01/resonance/internal/agent"
	"github.com/JulianRyder01/resonance/internal/infra"
	"github.com/JulianRyder01/resonance/pkg/models"
)

// ErrSessionBusy is returned by SubmitTurn when a turn is already running
// for the given session. Resonance resolves the per-session
// queue-or-reject-Busy choice by rejecting: a session only ever has one
// turn in flight, and a caller that wants the next turn queued can retry
// once the prior one's "done" event has been broadcast.
var ErrSessionBusy = errors.New("bridge: a turn is already running for this session")

// Processor runs one turn to completion, streaming its response chunks.
// Implementations wrap agent.AgenticRuntime.Process (see gateway.Server.Process);
// kept as a function type here so this package does not import gateway,
// which would create an import cycle.
type Processor func(ctx context.Context, sessionID string, msg *models.Message) (<-chan *agent.ResponseChunk, error)

// turnJob is the unit of work submitted to the worker pool.
type turnJob struct {
	sessionID string
	msg       *models.Message
}

// Bridge owns per-session cancellation, the bounded worker pool that runs
// turns, and the client registry turns broadcast their chunks to.
type Bridge struct {
	processor Processor
	pool      *infra.WorkerPool[turnJob, struct{}]
	registry  *ClientRegistry
	logger    *slog.Logger
	recorder  RunAttemptRecorder

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// Config configures a Bridge.
type Config struct {
	// Workers bounds how many turns run concurrently across all sessions.
	// Default: 10.
	Workers int
	Logger  *slog.Logger

	// Recorder, if set, receives a RecordRunAttempt call for every turn the
	// bridge drives to completion, letting a caller wire in a Prometheus
	// metrics sink without this package importing one directly.
	Recorder RunAttemptRecorder
}

// RunAttemptRecorder receives a per-turn outcome measurement.
// *observability.Metrics satisfies this structurally.
type RunAttemptRecorder interface {
	RecordRunAttempt(status string)
}

// New builds a Bridge backed by processor. Start must be called before
// SubmitTurn will make progress.
func New(processor Processor, cfg Config) *Bridge {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		processor: processor,
		registry:  NewClientRegistry(),
		logger:    logger,
		recorder:  cfg.Recorder,
		running:   make(map[string]context.CancelFunc),
	}

	b.pool = infra.NewWorkerPool(infra.WorkerPoolConfig[turnJob, struct{}]{
		Workers:   cfg.Workers,
		QueueSize: cfg.Workers * 4,
		Processor: b.runTurn,
	})

	return b
}

// Start begins running the worker pool.
func (b *Bridge) Start() { b.pool.Start() }

// Stop drains in-flight turns and stops the worker pool.
func (b *Bridge) Stop() { b.pool.Stop() }

// Registry exposes the client registry so surfaces can Register/Unregister
// handles before submitting turns on sessions they want to watch.
func (b *Bridge) Registry() *ClientRegistry { return b.registry }

// SubmitTurn enqueues msg to run against sessionID. It returns
// ErrSessionBusy if a turn is already running for that session — sessions
// are never interleaved, but distinct sessions run concurrently up to the
// pool's worker count.
func (b *Bridge) SubmitTurn(ctx context.Context, sessionID string, msg *models.Message) error {
	turnCtx, cancel, err := b.beginTurn(ctx, sessionID)
	if err != nil {
		return err
	}

	job := infra.Job[turnJob]{
		ID:      sessionID,
		Data:    turnJob{sessionID: sessionID, msg: msg},
		Context: turnCtx,
	}

	if !b.pool.Submit(job) {
		b.mu.Lock()
		delete(b.running, sessionID)
		b.mu.Unlock()
		cancel()
		return fmt.Errorf("bridge: turn queue full for session %q", sessionID)
	}
	return nil
}

// Cancel cancels the in-flight turn for sessionID, if any. Idempotent: a
// cancel with nothing running is a no-op.
func (b *Bridge) Cancel(sessionID string) {
	b.mu.Lock()
	cancel, ok := b.running[sessionID]
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

// Broadcast sends event to every client registered for sessionID.
func (b *Bridge) Broadcast(sessionID string, event Event) {
	b.registry.Broadcast(sessionID, event)
}

// beginTurn claims the serialization slot for sessionID, replacing any
// stale cancel func with a fresh context.WithCancel — the "clear before
// each turn" rule a sentinel-synthesized turn and a human turn on the same
// session both rely on.
func (b *Bridge) beginTurn(ctx context.Context, sessionID string) (context.Context, context.CancelFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, running := b.running[sessionID]; running {
		return nil, nil, ErrSessionBusy
	}

	turnCtx, cancel := context.WithCancel(ctx)
	b.running[sessionID] = cancel
	return turnCtx, cancel, nil
}

// runTurn is the WorkerPool processor: it drives one turn to completion,
// broadcasting each chunk, and always releases the session's serialization
// slot on return.
func (b *Bridge) runTurn(ctx context.Context, job turnJob) (struct{}, error) {
	defer func() {
		b.mu.Lock()
		delete(b.running, job.sessionID)
		b.mu.Unlock()
	}()

	chunks, err := b.processor(ctx, job.sessionID, job.msg)
	if err != nil {
		if b.recorder != nil {
			b.recorder.RecordRunAttempt("error")
		}
		b.Broadcast(job.sessionID, Event{SessionID: job.sessionID, Chunk: &agent.ResponseChunk{Error: err}, Done: true})
		return struct{}{}, err
	}

	turnErr := false
	for chunk := range chunks {
		if chunk.Error != nil {
			turnErr = true
		}
		b.Broadcast(job.sessionID, Event{SessionID: job.sessionID, Chunk: chunk})
	}
	if b.recorder != nil {
		status := "success"
		if turnErr {
			status = "error"
		}
		b.recorder.RecordRunAttempt(status)
	}
	b.Broadcast(job.sessionID, Event{SessionID: job.sessionID, Done: true})
	return struct{}{}, nil
}
