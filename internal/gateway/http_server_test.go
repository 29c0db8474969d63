package gateway

import (
	"strings"
	"testing"

	"github.com/JulianRyder01/resonance/internal/agent"
	"github.com/JulianRyder01/resonance/internal/bridge"
	"github.com/JulianRyder01/resonance/pkg/models"
)

func TestFormatToolEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   *models.ToolEvent
		want string
	}{
		{
			name: "requested includes resolved display",
			ev:   &models.ToolEvent{ToolName: "read", Stage: models.ToolEventRequested, Input: []byte(`{"path":"foo.go"}`)},
			want: "foo.go",
		},
		{
			name: "succeeded is marked done",
			ev:   &models.ToolEvent{ToolName: "read", Stage: models.ToolEventSucceeded},
			want: "(done)",
		},
		{
			name: "failed surfaces the error",
			ev:   &models.ToolEvent{ToolName: "read", Stage: models.ToolEventFailed, Error: "permission denied"},
			want: "permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatToolEvent(tt.ev)
			if !strings.Contains(got, tt.want) {
				t.Errorf("formatToolEvent() = %q, want substring %q", got, tt.want)
			}
		})
	}
}

func TestSyncSink_CollectsToolCalls(t *testing.T) {
	sink := newSyncSink()

	_ = sink.Send(bridge.Event{Chunk: &agent.ResponseChunk{
		ToolEvent: &models.ToolEvent{ToolName: "read", Stage: models.ToolEventSucceeded},
	}})
	_ = sink.Send(bridge.Event{Chunk: &agent.ResponseChunk{Text: "hello"}})

	if len(sink.toolCalls) != 1 {
		t.Fatalf("toolCalls = %v, want 1 entry", sink.toolCalls)
	}
	if !strings.Contains(sink.toolCalls[0], "done") {
		t.Errorf("toolCalls[0] = %q, want to contain %q", sink.toolCalls[0], "done")
	}
}
