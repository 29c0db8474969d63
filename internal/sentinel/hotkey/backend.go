// Package hotkey abstracts global hotkey capture behind a small interface so
// the Sentinel Engine's behavior kind can run on platforms with no working
// hook, degrading to a logged no-op rather than failing to start.
package hotkey

import "log/slog"

// Backend captures global hotkey presses and invokes onTrigger when the
// given combination fires.
type Backend interface {
	// Register arms a hotkey combination under id. Implementations that
	// cannot hook the platform's input layer may accept the registration
	// and simply never call onTrigger.
	Register(id, keyCombo string, onTrigger func()) error

	// Unregister disarms a previously registered hotkey.
	Unregister(id string) error

	// UnregisterAll disarms every registered hotkey.
	UnregisterAll() error
}

// logBackend is the default Backend: it accepts registrations for
// bookkeeping purposes but never captures real keypresses. No ecosystem Go
// library in the reference pack provides cross-platform global hotkey
// capture (the Python original relies on the `keyboard` package, which has
// no Go equivalent here), so this is the documented stdlib-only fallback —
// see DESIGN.md.
type logBackend struct {
	logger *slog.Logger
}

// NewLogBackend creates the default, capture-less hotkey backend.
func NewLogBackend(logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &logBackend{logger: logger.With("component", "sentinel-hotkey")}
}

func (b *logBackend) Register(id, keyCombo string, onTrigger func()) error {
	b.logger.Info("behavior sentinel registered; hotkey capture is unavailable in this environment",
		"id", id, "key_combo", keyCombo)
	return nil
}

func (b *logBackend) Unregister(id string) error {
	b.logger.Debug("behavior sentinel unregistered", "id", id)
	return nil
}

func (b *logBackend) UnregisterAll() error {
	return nil
}
