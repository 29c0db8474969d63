package sentinel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/JulianRyder01/resonance/internal/sentinel/hotkey"
)

// debounceWindow matches the Python original's 1.0s SentinelEventHandler
// debounce for file events.
const debounceWindow = time.Second

// Engine manages the lifecycle of time, file, and behavior sentinels,
// persisting registrations to disk so they survive a restart. Grounded on
// original_source/backend/core/sentinel_engine.py's SentinelEngine.
type Engine struct {
	configPath string
	logger     *slog.Logger
	hotkeys    hotkey.Backend

	mu       sync.Mutex
	state    State
	callback func(message string)
	running  bool

	cronSched   *cron.Cron
	cronEntries map[string]cron.EntryID

	watcher      *fsnotify.Watcher
	watchCancel  context.CancelFunc
	watchedDirs  map[string][]string // directory -> sentinel IDs watching it
	lastTrigger  map[string]time.Time
	lastTriggerMu sync.Mutex
}

// NewEngine creates a Sentinel Engine persisting to configPath. A nil
// hotkey.Backend defaults to hotkey.NewLogBackend.
func NewEngine(configPath string, hk hotkey.Backend, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if hk == nil {
		hk = hotkey.NewLogBackend(logger)
	}
	return &Engine{
		configPath:  configPath,
		logger:      logger.With("component", "sentinel-engine"),
		hotkeys:     hk,
		state:       newState(),
		cronEntries: make(map[string]cron.EntryID),
		watchedDirs: make(map[string][]string),
		lastTrigger: make(map[string]time.Time),
	}
}

// SetCallback sets the function invoked whenever any sentinel fires.
func (e *Engine) SetCallback(fn func(message string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callback = fn
}

func (e *Engine) trigger(message string) {
	e.logger.Info("sentinel triggered", "message", message)
	e.mu.Lock()
	cb := e.callback
	e.mu.Unlock()
	if cb != nil {
		cb(message)
	}
}

// Start loads persisted sentinels and begins watching/scheduling all three
// kinds. Calling Start twice is a no-op, matching the Python original.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	state, err := loadState(e.configPath)
	if err != nil {
		e.logger.Warn("failed to load sentinel config", "error", err)
	}
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	e.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	e.watchCancel = cancel
	go e.watchLoop(watchCtx)

	e.cronSched = cron.New()
	e.cronSched.Start()

	if err := e.restoreFileSentinels(); err != nil {
		e.logger.Warn("failed to restore file sentinels", "error", err)
	}
	if err := e.restoreTimeSentinels(); err != nil {
		e.logger.Warn("failed to restore time sentinels", "error", err)
	}
	e.restoreBehaviorSentinels()

	e.logger.Info("sentinel engine started")
	return nil
}

// Running reports whether the engine's watchers and scheduler are active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stop halts all watchers and the cron scheduler.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	if e.watchCancel != nil {
		e.watchCancel()
	}
	if e.watcher != nil {
		_ = e.watcher.Close()
	}
	if e.cronSched != nil {
		e.cronSched.Stop()
	}
	_ = e.hotkeys.UnregisterAll()
}

// --- Time sentinels ---

func (e *Engine) restoreTimeSentinels() error {
	e.mu.Lock()
	entries := make(map[string]TimeSentinel, len(e.state.Time))
	for id, s := range e.state.Time {
		entries[id] = s
	}
	for id, entryID := range e.cronEntries {
		e.cronSched.Remove(entryID)
		delete(e.cronEntries, id)
	}
	e.mu.Unlock()

	for id, s := range entries {
		if err := e.scheduleTimeJob(id, s); err != nil {
			e.logger.Warn("failed to schedule time sentinel", "id", id, "error", err)
		}
	}
	return nil
}

func (e *Engine) scheduleTimeJob(id string, s TimeSentinel) error {
	d, err := unitDuration(s.Interval, s.Unit)
	if err != nil {
		return err
	}

	entryID := e.cronSched.Schedule(cron.Every(d), cron.FuncJob(func() {
		e.trigger(fmt.Sprintf("[Time Sentinel Triggered] id=%s, detail=%s, reason=%s", id, s.Unit, s.Description))
	}))

	e.mu.Lock()
	e.cronEntries[id] = entryID
	e.mu.Unlock()
	return nil
}

func unitDuration(interval int, unit string) (time.Duration, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	switch unit {
	case "seconds":
		return time.Duration(interval) * time.Second, nil
	case "minutes":
		return time.Duration(interval) * time.Minute, nil
	case "hours":
		return time.Duration(interval) * time.Hour, nil
	case "days":
		return time.Duration(interval) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}

// AddTimeSentinel registers a recurring time sentinel and returns its ID.
func (e *Engine) AddTimeSentinel(interval int, unit, description string) (string, error) {
	if _, err := unitDuration(interval, unit); err != nil {
		return "", err
	}

	id := fmt.Sprintf("time_%d", time.Now().Unix())
	s := TimeSentinel{Interval: interval, Unit: unit, Description: description}

	e.mu.Lock()
	e.state.Time[id] = s
	st := e.state
	e.mu.Unlock()

	if err := e.scheduleTimeJob(id, s); err != nil {
		return "", err
	}
	if err := saveState(e.configPath, st); err != nil {
		e.logger.Warn("failed to persist sentinel config", "error", err)
	}
	return id, nil
}

// --- File sentinels ---

func (e *Engine) restoreFileSentinels() error {
	e.mu.Lock()
	entries := make(map[string]FileSentinel, len(e.state.File))
	for id, s := range e.state.File {
		entries[id] = s
	}
	for dir := range e.watchedDirs {
		_ = e.watcher.Remove(dir)
	}
	e.watchedDirs = make(map[string][]string)
	e.mu.Unlock()

	for id, s := range entries {
		if err := e.watchFileSentinel(id, s); err != nil {
			e.logger.Warn("failed to restore file watcher", "path", s.Path, "error", err)
		}
	}
	return nil
}

func (e *Engine) watchFileSentinel(id string, s FileSentinel) error {
	info, err := os.Stat(s.Path)
	if err != nil {
		return err
	}

	watchDir := s.Path
	if !info.IsDir() {
		watchDir = filepath.Dir(s.Path)
	}

	e.mu.Lock()
	_, alreadyWatched := e.watchedDirs[watchDir]
	e.watchedDirs[watchDir] = append(e.watchedDirs[watchDir], id)
	e.mu.Unlock()

	if alreadyWatched {
		return nil
	}
	return e.watcher.Add(watchDir)
}

// AddFileSentinel registers a file/directory watcher and returns its ID.
func (e *Engine) AddFileSentinel(path, description string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("path does not exist: %s", path)
	}

	id := fmt.Sprintf("file_%d", time.Now().Unix())
	s := FileSentinel{Path: path, Description: description}

	e.mu.Lock()
	e.state.File[id] = s
	st := e.state
	e.mu.Unlock()

	if err := saveState(e.configPath, st); err != nil {
		e.logger.Warn("failed to persist sentinel config", "error", err)
	}
	if err := e.watchFileSentinel(id, s); err != nil {
		return "", err
	}
	return id, nil
}

func (e *Engine) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			e.handleFileEvent(event)
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			e.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (e *Engine) handleFileEvent(event fsnotify.Event) {
	// Ignore directory-only changes; an entry that still exists and is a
	// directory is not a file content change.
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		return
	}

	dir := filepath.Dir(event.Name)

	e.mu.Lock()
	ids := append([]string(nil), e.watchedDirs[dir]...)
	descriptions := make(map[string]string, len(ids))
	for _, id := range ids {
		descriptions[id] = e.state.File[id].Description
	}
	e.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		e.lastTriggerMu.Lock()
		last, seen := e.lastTrigger[id]
		if seen && now.Sub(last) < debounceWindow {
			e.lastTriggerMu.Unlock()
			continue
		}
		e.lastTrigger[id] = now
		e.lastTriggerMu.Unlock()

		e.trigger(fmt.Sprintf("[File Sentinel Triggered] id=%s, detail=%s, reason=%s", id, event.Name, descriptions[id]))
	}
}

// --- Behavior (hotkey) sentinels ---

func (e *Engine) restoreBehaviorSentinels() {
	_ = e.hotkeys.UnregisterAll()

	e.mu.Lock()
	entries := make(map[string]BehaviorSentinel, len(e.state.Behavior))
	for id, s := range e.state.Behavior {
		entries[id] = s
	}
	e.mu.Unlock()

	for id, s := range entries {
		e.hookBehavior(id, s)
	}
}

func (e *Engine) hookBehavior(id string, s BehaviorSentinel) {
	err := e.hotkeys.Register(id, s.KeyCombo, func() {
		e.trigger(fmt.Sprintf("[Behavior Sentinel Triggered] id=%s, detail=%s, reason=%s", id, s.KeyCombo, s.Description))
	})
	if err != nil {
		e.logger.Warn("failed to register behavior sentinel", "id", id, "error", err)
	}
}

// AddBehaviorSentinel registers a hotkey sentinel and returns its ID.
func (e *Engine) AddBehaviorSentinel(keyCombo, description string) (string, error) {
	id := fmt.Sprintf("behavior_%d", time.Now().Unix())
	s := BehaviorSentinel{KeyCombo: keyCombo, Description: description}

	e.mu.Lock()
	e.state.Behavior[id] = s
	st := e.state
	e.mu.Unlock()

	e.hookBehavior(id, s)
	if err := saveState(e.configPath, st); err != nil {
		e.logger.Warn("failed to persist sentinel config", "error", err)
	}
	return id, nil
}

// --- Shared operations ---

// ListSentinels returns a snapshot of all registered sentinels.
func (e *Engine) ListSentinels() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := newState()
	for id, s := range e.state.Time {
		out.Time[id] = s
	}
	for id, s := range e.state.File {
		out.File[id] = s
	}
	for id, s := range e.state.Behavior {
		out.Behavior[id] = s
	}
	return out
}

// RemoveSentinel deletes a sentinel of the given kind by ID, re-applying
// only the affected kind (matching the Python original's remove_sentinel).
func (e *Engine) RemoveSentinel(kind Kind, id string) (bool, error) {
	e.mu.Lock()
	var existed bool
	switch kind {
	case KindTime:
		_, existed = e.state.Time[id]
		delete(e.state.Time, id)
	case KindFile:
		_, existed = e.state.File[id]
		delete(e.state.File, id)
	case KindBehavior:
		_, existed = e.state.Behavior[id]
		delete(e.state.Behavior, id)
	}
	st := e.state
	e.mu.Unlock()

	if !existed {
		return false, nil
	}

	if err := saveState(e.configPath, st); err != nil {
		e.logger.Warn("failed to persist sentinel config", "error", err)
	}

	switch kind {
	case KindTime:
		return true, e.restoreTimeSentinels()
	case KindFile:
		return true, e.restoreFileSentinels()
	case KindBehavior:
		e.restoreBehaviorSentinels()
	}
	return true, nil
}
