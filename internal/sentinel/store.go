package sentinel

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// loadState reads persisted sentinel state from disk. A missing file yields
// an empty (not nil) state rather than an error, matching the Python
// original's os.path.exists guard.
func loadState(path string) (State, error) {
	state := newState()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, err
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return newState(), err
	}
	if state.Time == nil {
		state.Time = make(map[string]TimeSentinel)
	}
	if state.File == nil {
		state.File = make(map[string]FileSentinel)
	}
	if state.Behavior == nil {
		state.Behavior = make(map[string]BehaviorSentinel)
	}

	return state, nil
}

// saveState persists sentinel state to disk as indented flat JSON.
func saveState(path string, state State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
