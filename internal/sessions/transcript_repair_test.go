package sessions

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/JulianRyder01/resonance/pkg/models"
)

func makeAssistantMsg(id string, toolCalls ...models.ToolCall) *models.Message {
	return &models.Message{
		ID:        id,
		Role:      models.RoleAssistant,
		Content:   "assistant message",
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
}

func makeToolCall(id, name string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(`{}`)}
}

func makeToolMsg(id, toolCallID, name, content string) *models.Message {
	return &models.Message{
		ID:         id,
		Role:       models.RoleTool,
		ToolCallID: toolCallID,
		Name:       name,
		Content:    content,
		CreatedAt:  time.Now(),
	}
}

func makeUserMsg(id, content string) *models.Message {
	return &models.Message{
		ID:        id,
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

func makeSystemMsg(id, content string) *models.Message {
	return &models.Message{
		ID:        id,
		Role:      models.RoleSystem,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// TestRepairTranscript_NoRepairNeeded covers a well-formed sequence: nothing
// should be added or dropped.
func TestRepairTranscript_NoRepairNeeded(t *testing.T) {
	messages := []*models.Message{
		makeUserMsg("u1", "hello"),
		makeAssistantMsg("a1", makeToolCall("tc1", "read_file")),
		makeToolMsg("t1", "tc1", "read_file", "file contents"),
		makeAssistantMsg("a2"),
	}

	report := RepairToolCallPairing(messages)

	if len(report.Added) != 0 {
		t.Errorf("expected 0 synthetic results, got %d", len(report.Added))
	}
	if report.DroppedDuplicateCount != 0 {
		t.Errorf("expected 0 dropped duplicates, got %d", report.DroppedDuplicateCount)
	}
	if report.DroppedOrphanCount != 0 {
		t.Errorf("expected 0 dropped orphans, got %d", report.DroppedOrphanCount)
	}
	if len(report.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(report.Messages))
	}
}

// Invariant: Gap Synthesis — an assistant-with-tool_calls at the end of the
// window receives one synthesized tool message per missing id.
// Scenario S3 — Chain repair after crash.
func TestRepairTranscript_S3_ChainRepairAfterCrash(t *testing.T) {
	messages := []*models.Message{
		makeUserMsg("u1", "do a thing"),
		makeAssistantMsg("a1", makeToolCall("c1", "do_thing")),
	}

	report := RepairToolCallPairing(messages)

	if len(report.Messages) != 3 {
		t.Fatalf("expected 3 messages (user, assistant, synthetic tool), got %d", len(report.Messages))
	}
	synthetic := report.Messages[2]
	if synthetic.Role != models.RoleTool {
		t.Fatalf("expected synthetic message to be a tool message, got %v", synthetic.Role)
	}
	if synthetic.ToolCallID != "c1" {
		t.Errorf("ToolCallID = %q, want %q", synthetic.ToolCallID, "c1")
	}
	if synthetic.Content != "interrupted; recovered" {
		t.Errorf("Content = %q, want %q", synthetic.Content, "interrupted; recovered")
	}
	if len(report.Added) != 1 {
		t.Errorf("expected 1 added synthetic result, got %d", len(report.Added))
	}
}

// Invariant: Orphan Drop — a tool message whose tool_call_id has no
// preceding assistant call is omitted.
func TestRepairTranscript_OrphanDrop(t *testing.T) {
	messages := []*models.Message{
		makeUserMsg("u1", "hello"),
		makeToolMsg("t1", "no-such-call", "mystery", "orphan result"),
		makeAssistantMsg("a1"),
	}

	report := RepairToolCallPairing(messages)

	if report.DroppedOrphanCount != 1 {
		t.Errorf("expected 1 dropped orphan, got %d", report.DroppedOrphanCount)
	}
	for _, m := range report.Messages {
		if m.Role == models.RoleTool {
			t.Fatalf("orphan tool message should have been dropped, found %+v", m)
		}
	}
}

// Duplicate tool messages answering the same call_id twice: first is kept,
// second is dropped.
func TestRepairTranscript_DuplicateDrop(t *testing.T) {
	messages := []*models.Message{
		makeAssistantMsg("a1", makeToolCall("c1", "search")),
		makeToolMsg("t1", "c1", "search", "first result"),
		makeToolMsg("t2", "c1", "search", "duplicate result"),
		makeAssistantMsg("a2"),
	}

	report := RepairToolCallPairing(messages)

	if report.DroppedDuplicateCount != 1 {
		t.Errorf("expected 1 dropped duplicate, got %d", report.DroppedDuplicateCount)
	}

	toolCount := 0
	for _, m := range report.Messages {
		if m.Role == models.RoleTool {
			toolCount++
			if m.Content != "first result" {
				t.Errorf("expected surviving tool message to be the first one, got %q", m.Content)
			}
		}
	}
	if toolCount != 1 {
		t.Errorf("expected exactly 1 surviving tool message, got %d", toolCount)
	}
}

// Invariant: any other role encountered while tool calls are pending closes
// the window with synthesis, even mid-sequence (not just at the very end).
func TestRepairTranscript_InterruptedByUserMessage(t *testing.T) {
	messages := []*models.Message{
		makeAssistantMsg("a1", makeToolCall("c1", "do_thing"), makeToolCall("c2", "do_other")),
		makeToolMsg("t1", "c1", "do_thing", "ok"),
		makeUserMsg("u1", "never mind"),
	}

	report := RepairToolCallPairing(messages)

	if len(report.Added) != 1 {
		t.Fatalf("expected 1 synthetic message for c2, got %d", len(report.Added))
	}
	if report.Added[0].ToolCallID != "c2" {
		t.Errorf("synthetic ToolCallID = %q, want %q", report.Added[0].ToolCallID, "c2")
	}

	// Order must be: assistant, tool(c1), synthetic tool(c2), user.
	if len(report.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(report.Messages))
	}
	if report.Messages[3].Role != models.RoleUser {
		t.Errorf("expected trailing user message preserved, got role %v", report.Messages[3].Role)
	}
}

// System-injected messages (Supervisor/Sentinel) may appear anywhere and do
// not themselves trigger synthesis unless tool calls are still pending.
func TestRepairTranscript_SystemMessagePassthrough(t *testing.T) {
	messages := []*models.Message{
		makeUserMsg("u1", "hi"),
		makeSystemMsg("s1", "[Supervisor]: keep going"),
		makeAssistantMsg("a1"),
	}

	report := RepairToolCallPairing(messages)
	if len(report.Added) != 0 {
		t.Errorf("expected no synthesis, got %d", len(report.Added))
	}
	if len(report.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(report.Messages))
	}
}

// Invariant: Sanitizer Idempotence — Sanitize(Sanitize(x)) == Sanitize(x).
func TestRepairTranscript_Idempotent(t *testing.T) {
	messages := []*models.Message{
		makeUserMsg("u1", "hello"),
		makeAssistantMsg("a1", makeToolCall("c1", "do_thing"), makeToolCall("c2", "do_other")),
		makeToolMsg("t1", "c1", "do_thing", "ok"),
		makeToolMsg("t2", "c2", "do_other", "dup"),
		makeToolMsg("t3", "c2", "do_other", "dup-again"),
		makeUserMsg("u2", "thanks"),
	}

	once := SanitizeTranscript(messages)
	twice := SanitizeTranscript(once)

	if len(once) != len(twice) {
		t.Fatalf("idempotence violated: len(once)=%d len(twice)=%d", len(once), len(twice))
	}
	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Errorf("idempotence violated at index %d: %q != %q", i, once[i].ID, twice[i].ID)
		}
	}
}

// Invariant: Chain Integrity — for any window length k >= 1 over a
// crash-interleaved log, sanitizing the trailing k messages yields a
// sequence where every assistant tool_calls message is immediately
// followed by exactly one tool message per call_id.
func TestRepairTranscript_ChainIntegrityForAnyWindow(t *testing.T) {
	full := []*models.Message{
		makeUserMsg("u1", "first"),
		makeAssistantMsg("a1", makeToolCall("c1", "t1")),
		makeToolMsg("r1", "c1", "t1", "ok"),
		makeAssistantMsg("a2", makeToolCall("c2", "t2")),
		// r2 for c2 is missing: simulates a crash mid tool call.
		makeUserMsg("u2", "second"),
		makeAssistantMsg("a3", makeToolCall("c3", "t3")),
		makeToolMsg("r3", "c3", "t3", "ok"),
	}

	for k := 1; k <= len(full); k++ {
		window := full[len(full)-k:]
		repaired := SanitizeTranscript(window)
		assertChainIntegrity(t, repaired, k)
	}
}

func assertChainIntegrity(t *testing.T, messages []*models.Message, window int) {
	t.Helper()
	for i, m := range messages {
		if m.Role != models.RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}
		for j, tc := range m.ToolCalls {
			idx := i + 1 + j
			if idx >= len(messages) {
				t.Fatalf("window=%d: missing tool message for call %d (%s) after assistant at %d", window, j, tc.ID, i)
			}
			got := messages[idx]
			if got.Role != models.RoleTool || got.ToolCallID != tc.ID {
				t.Fatalf("window=%d: expected tool message for %q at index %d, got role=%v toolCallID=%q", window, tc.ID, idx, got.Role, got.ToolCallID)
			}
		}
	}
}

func TestToolCallGuard_TrackAndFlush(t *testing.T) {
	guard := NewToolCallGuard()
	guard.TrackToolCalls(makeAssistantMsg("a1", makeToolCall("c1", "search"), makeToolCall("c2", "read")))

	if !guard.HasPending() {
		t.Fatal("expected pending tool calls")
	}
	guard.RecordToolResult("c1")
	ids := guard.GetPendingIDs()
	if len(ids) != 1 || ids[0] != "c2" {
		t.Fatalf("expected only c2 pending, got %v", ids)
	}

	flushed := guard.FlushPending()
	if len(flushed) != 1 {
		t.Fatalf("expected 1 flushed synthetic message, got %d", len(flushed))
	}
	if flushed[0].ToolCallID != "c2" {
		t.Errorf("ToolCallID = %q, want %q", flushed[0].ToolCallID, "c2")
	}
	if guard.HasPending() {
		t.Error("expected no pending tool calls after flush")
	}
}

func TestValidateToolCallPairing(t *testing.T) {
	messages := []*models.Message{
		makeAssistantMsg("a1", makeToolCall("c1", "search")),
		makeToolMsg("t1", "c1", "search", "ok"),
		makeAssistantMsg("a2", makeToolCall("c2", "read")),
	}

	missing := ValidateToolCallPairing(messages)
	if len(missing) != 1 || missing[0] != "c2" {
		t.Fatalf("expected [c2] missing, got %v", missing)
	}
}
