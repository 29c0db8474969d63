package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JulianRyder01/resonance/pkg/models"
)

// TranscriptRepairReport contains the results of a sanitize pass.
type TranscriptRepairReport struct {
	// Messages is the repaired message list.
	Messages []*models.Message
	// Added contains synthetic tool messages that were inserted.
	Added []*models.Message
	// DroppedDuplicateCount is the number of duplicate tool messages dropped.
	DroppedDuplicateCount int
	// DroppedOrphanCount is the number of orphan tool messages dropped.
	DroppedOrphanCount int
}

// RepairToolCallPairing restores Invariant M-1 (Chain Integrity): every
// assistant message with tool_calls must be immediately followed, in call
// order, by exactly one tool message per call_id.
//
// It is a pure fold over the message slice:
//   - pending tracks the call_ids of the most recent assistant turn that
//     have not yet seen a matching tool message.
//   - a tool message whose tool_call_id matches a pending id is kept and
//     clears that id.
//   - a tool message whose tool_call_id does not match any pending id is an
//     orphan and is dropped.
//   - a tool message repeating an id already satisfied in this turn is a
//     duplicate and is dropped.
//   - any other role (user, assistant, system) encountered while pending is
//     non-empty closes the window: a synthetic tool message is inserted for
//     every remaining pending id.
//
// Running RepairToolCallPairing on its own output is a no-op (idempotent):
// a repaired sequence has no orphans, no duplicates, and no open pending
// set to close.
func RepairToolCallPairing(messages []*models.Message) TranscriptRepairReport {
	report := TranscriptRepairReport{
		Messages: make([]*models.Message, 0, len(messages)),
	}

	pending := make(map[string]string) // call_id -> tool name
	pendingOrder := make([]string, 0)
	satisfiedThisTurn := make(map[string]bool)

	closePending := func() {
		for _, id := range pendingOrder {
			name := pending[id]
			synthetic := makeMissingToolResult(id, name)
			report.Added = append(report.Added, synthetic)
			report.Messages = append(report.Messages, synthetic)
		}
		pending = make(map[string]string)
		pendingOrder = pendingOrder[:0]
		satisfiedThisTurn = make(map[string]bool)
	}

	for _, msg := range messages {
		if msg == nil {
			continue
		}

		switch msg.Role {
		case models.RoleAssistant:
			if len(pendingOrder) > 0 {
				closePending()
			}
			report.Messages = append(report.Messages, msg)
			if len(msg.ToolCalls) > 0 {
				for _, tc := range msg.ToolCalls {
					if tc.ID == "" {
						continue
					}
					pending[tc.ID] = tc.Name
					pendingOrder = append(pendingOrder, tc.ID)
				}
			}

		case models.RoleTool:
			id := msg.ToolCallID
			if _, ok := pending[id]; !ok || id == "" {
				if satisfiedThisTurn[id] && id != "" {
					report.DroppedDuplicateCount++
				} else {
					report.DroppedOrphanCount++
				}
				continue
			}
			delete(pending, id)
			satisfiedThisTurn[id] = true
			for idx, pid := range pendingOrder {
				if pid == id {
					pendingOrder = append(pendingOrder[:idx], pendingOrder[idx+1:]...)
					break
				}
			}
			report.Messages = append(report.Messages, msg)

		default: // user, system
			if len(pendingOrder) > 0 {
				closePending()
			}
			report.Messages = append(report.Messages, msg)
		}
	}

	if len(pendingOrder) > 0 {
		closePending()
	}

	return report
}

// makeMissingToolResult creates a synthetic tool message for a tool call
// that never received a response, per spec.md Invariant M-1 recovery.
func makeMissingToolResult(toolCallID, toolName string) *models.Message {
	if toolName == "" {
		toolName = "unknown"
	}
	return &models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		ToolCallID: toolCallID,
		Name:       toolName,
		Content:    "interrupted; recovered",
		Metadata: map[string]any{
			"synthetic": true,
			"tool_name": toolName,
		},
		CreatedAt: time.Now(),
	}
}

// SanitizeTranscript repairs tool call/result pairing and returns only the
// messages, discarding counters.
func SanitizeTranscript(messages []*models.Message) []*models.Message {
	return RepairToolCallPairing(messages).Messages
}

// ExtractToolCallIDs extracts tool call IDs from an assistant message.
func ExtractToolCallIDs(msg *models.Message) []string {
	if msg == nil || msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0 {
		return nil
	}
	ids := make([]string, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		ids[i] = tc.ID
	}
	return ids
}

// ExtractToolResultID extracts the tool call ID a tool message answers.
func ExtractToolResultID(msg *models.Message) string {
	if msg == nil || msg.Role != models.RoleTool {
		return ""
	}
	return msg.ToolCallID
}

// ValidateToolCallPairing reports the call_ids of tool calls with no
// matching tool message anywhere in the sequence.
func ValidateToolCallPairing(messages []*models.Message) []string {
	pendingToolCalls := make(map[string]bool)
	var missing []string

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleAssistant:
			for id := range pendingToolCalls {
				missing = append(missing, id)
			}
			pendingToolCalls = make(map[string]bool)
			for _, tc := range msg.ToolCalls {
				pendingToolCalls[tc.ID] = true
			}
		case models.RoleTool:
			delete(pendingToolCalls, msg.ToolCallID)
		}
	}

	for id := range pendingToolCalls {
		missing = append(missing, id)
	}
	return missing
}

// ToolCallGuard provides runtime protection for tool call/result pairing as
// messages are appended one at a time, rather than repaired after the fact.
type ToolCallGuard struct {
	pending map[string]string // call_id -> tool name
}

// NewToolCallGuard creates a new tool call guard.
func NewToolCallGuard() *ToolCallGuard {
	return &ToolCallGuard{pending: make(map[string]string)}
}

// TrackToolCalls records tool calls that need results.
func (g *ToolCallGuard) TrackToolCalls(msg *models.Message) {
	if msg == nil || msg.Role != models.RoleAssistant {
		return
	}
	for _, tc := range msg.ToolCalls {
		g.pending[tc.ID] = tc.Name
	}
}

// RecordToolResult marks a tool call as answered.
func (g *ToolCallGuard) RecordToolResult(toolCallID string) {
	delete(g.pending, toolCallID)
}

// GetPendingIDs returns call_ids still awaiting a tool message.
func (g *ToolCallGuard) GetPendingIDs() []string {
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	return ids
}

// HasPending reports whether any tool call is awaiting a result.
func (g *ToolCallGuard) HasPending() bool {
	return len(g.pending) > 0
}

// FlushPending generates synthetic tool messages for all pending tool calls.
func (g *ToolCallGuard) FlushPending() []*models.Message {
	if len(g.pending) == 0 {
		return nil
	}
	results := make([]*models.Message, 0, len(g.pending))
	for id, name := range g.pending {
		results = append(results, makeMissingToolResult(id, name))
	}
	g.pending = make(map[string]string)
	return results
}

// GuardedSessionStore wraps a session Store, flushing synthetic tool
// messages for any pending tool calls before a non-tool message is appended.
type GuardedSessionStore struct {
	Store
	guard *ToolCallGuard
}

// NewGuardedSessionStore creates a new guarded session store.
func NewGuardedSessionStore(store Store) *GuardedSessionStore {
	return &GuardedSessionStore{Store: store, guard: NewToolCallGuard()}
}

// AppendMessage appends a message with tool call guard protection.
func (s *GuardedSessionStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return nil
	}

	if msg.Role == models.RoleTool {
		s.guard.RecordToolResult(msg.ToolCallID)
		return s.Store.AppendMessage(ctx, sessionID, msg)
	}

	if s.guard.HasPending() && (msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0) {
		for _, synthetic := range s.guard.FlushPending() {
			if err := s.Store.AppendMessage(ctx, sessionID, synthetic); err != nil {
				return err
			}
		}
	}

	if err := s.Store.AppendMessage(ctx, sessionID, msg); err != nil {
		return err
	}
	s.guard.TrackToolCalls(msg)
	return nil
}

// FlushPendingToolResults generates and appends synthetic results for any
// tool calls still pending, e.g. after an interrupted turn.
func (s *GuardedSessionStore) FlushPendingToolResults(ctx context.Context, sessionID string) error {
	for _, synthetic := range s.guard.FlushPending() {
		if err := s.Store.AppendMessage(ctx, sessionID, synthetic); err != nil {
			return err
		}
	}
	return nil
}
