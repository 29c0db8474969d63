// Package sentinel implements the three background watcher kinds — time,
// file, and behavior (hotkey) — that fire a trigger message back into the
// host's turn loop without any user action.
package sentinel

// Kind identifies one of the three sentinel watcher types.
type Kind string

const (
	KindTime     Kind = "time"
	KindFile     Kind = "file"
	KindBehavior Kind = "behavior"
)

// TimeSentinel fires on a recurring interval.
type TimeSentinel struct {
	Interval    int    `json:"interval"`
	Unit        string `json:"unit"` // seconds, minutes, hours, days
	Description string `json:"description"`
}

// FileSentinel fires when its watched path (or, for a file target, its
// parent directory) sees any filesystem event.
type FileSentinel struct {
	Path        string `json:"path"`
	Description string `json:"description"`
}

// BehaviorSentinel fires when its hotkey combination is pressed.
type BehaviorSentinel struct {
	KeyCombo    string `json:"key_combo"`
	Description string `json:"description"`
}

// State is the flat, persisted shape of all registered sentinels, mirroring
// the Python original's `{"time": {}, "file": {}, "behavior": {}}` layout.
type State struct {
	Time     map[string]TimeSentinel     `json:"time"`
	File     map[string]FileSentinel     `json:"file"`
	Behavior map[string]BehaviorSentinel `json:"behavior"`
}

func newState() State {
	return State{
		Time:     make(map[string]TimeSentinel),
		File:     make(map[string]FileSentinel),
		Behavior: make(map[string]BehaviorSentinel),
	}
}
