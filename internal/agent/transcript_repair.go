package agent

import (
	"github.com/JulianRyder01/resonance/internal/sessions"
	"github.com/JulianRyder01/resonance/pkg/models"
)

// repairTranscript restores Invariant M-1 over a context window before it is
// sent to the LLM. The orchestrator must rebuild and re-sanitize the window
// fresh on every ReAct iteration rather than reuse a cached copy, since a
// prior iteration's append can change what the sanitizer needs to repair.
func repairTranscript(history []*models.Message) []*models.Message {
	return sessions.SanitizeTranscript(history)
}
