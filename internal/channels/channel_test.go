package channels

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JulianRyder01/resonance/internal/debounce"
	"github.com/JulianRyder01/resonance/pkg/models"
)

type fakeOutboundAdapter struct {
	channelType models.ChannelType
	failCount   int32
	calls       int32
}

func (a *fakeOutboundAdapter) Type() models.ChannelType { return a.channelType }

func (a *fakeOutboundAdapter) Send(ctx context.Context, msg *models.Message) error {
	n := atomic.AddInt32(&a.calls, 1)
	if n <= atomic.LoadInt32(&a.failCount) {
		// Message matches the telegram retry pattern (see
		// internal/infra.IsTelegramRetryable) so SendWithRetry actually retries.
		return errors.New("connection reset, timeout talking to telegram")
	}
	return nil
}

// pluginChannelType is a stand-in for a channel type a plugin might
// register (e.g. "telegram", "discord") — ChannelType is just a string, and
// the built-in CLI/API/sentinel values aren't channels a plugin would send
// through a registry for.
const pluginChannelType models.ChannelType = "telegram"

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	adapter := &fakeOutboundAdapter{channelType: pluginChannelType}
	registry.Register(adapter)

	got, ok := registry.Get(pluginChannelType)
	if !ok || got != adapter {
		t.Fatalf("Get() = %v, %v, want registered adapter", got, ok)
	}

	outbound, ok := registry.GetOutbound(pluginChannelType)
	if !ok || outbound != adapter {
		t.Fatalf("GetOutbound() = %v, %v, want registered adapter", outbound, ok)
	}
}

func TestRegistry_SendWithRetry_NoAdapter(t *testing.T) {
	registry := NewRegistry()
	err := registry.SendWithRetry(context.Background(), pluginChannelType, &models.Message{})
	if !errors.Is(err, ErrNoOutboundAdapter) {
		t.Fatalf("SendWithRetry() error = %v, want ErrNoOutboundAdapter", err)
	}
}

func TestRegistry_SendWithRetry_RetriesTransientFailure(t *testing.T) {
	adapter := &fakeOutboundAdapter{channelType: pluginChannelType, failCount: 2}
	registry := NewRegistry()
	registry.Register(adapter)

	err := registry.SendWithRetry(context.Background(), pluginChannelType, &models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("SendWithRetry() error = %v, want nil after retries succeed", err)
	}
	if got := atomic.LoadInt32(&adapter.calls); got != 3 {
		t.Fatalf("adapter.calls = %d, want 3 (2 failures + success)", got)
	}
}

func TestRegistry_SendWithRetry_ExhaustsAttempts(t *testing.T) {
	adapter := &fakeOutboundAdapter{channelType: pluginChannelType, failCount: 100}
	registry := NewRegistry()
	registry.Register(adapter)

	err := registry.SendWithRetry(context.Background(), pluginChannelType, &models.Message{})
	if err == nil {
		t.Fatal("SendWithRetry() error = nil, want error after exhausting retries")
	}
}

func TestRegistry_StartAllStopAll(t *testing.T) {
	registry := NewRegistry()
	adapter := &fakeLifecycleAdapter{channelType: pluginChannelType}
	registry.Register(adapter)

	if err := registry.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if !adapter.started {
		t.Fatal("expected adapter to be started")
	}
	if err := registry.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}
	if !adapter.stopped {
		t.Fatal("expected adapter to be stopped")
	}
}

type fakeInboundAdapter struct {
	channelType models.ChannelType
	messages    chan *models.Message
}

func (a *fakeInboundAdapter) Type() models.ChannelType         { return a.channelType }
func (a *fakeInboundAdapter) Messages() <-chan *models.Message { return a.messages }

func TestRegistry_AggregateMessagesDebounced_CoalescesBurst(t *testing.T) {
	adapter := &fakeInboundAdapter{channelType: pluginChannelType, messages: make(chan *models.Message, 4)}
	registry := NewRegistry()
	registry.Register(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := registry.AggregateMessagesDebounced(ctx, debounce.DebounceConfig{DebounceMs: 30})

	adapter.messages <- &models.Message{Channel: pluginChannelType, ChannelID: "user-1", Content: "hello"}
	adapter.messages <- &models.Message{Channel: pluginChannelType, ChannelID: "user-1", Content: "world"}

	select {
	case msg := <-out:
		if msg.Content != "hello\nworld" {
			t.Fatalf("Content = %q, want %q", msg.Content, "hello\nworld")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced message")
	}
}

func TestRegistry_AggregateMessagesDebounced_ZeroDelayPassesThrough(t *testing.T) {
	adapter := &fakeInboundAdapter{channelType: pluginChannelType, messages: make(chan *models.Message, 1)}
	registry := NewRegistry()
	registry.Register(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := registry.AggregateMessagesDebounced(ctx, debounce.DebounceConfig{DebounceMs: 0})

	adapter.messages <- &models.Message{Channel: pluginChannelType, ChannelID: "user-1", Content: "immediate"}

	select {
	case msg := <-out:
		if msg.Content != "immediate" {
			t.Fatalf("Content = %q, want %q", msg.Content, "immediate")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for passthrough message")
	}
}

type fakeLifecycleAdapter struct {
	channelType models.ChannelType
	started     bool
	stopped     bool
}

func (a *fakeLifecycleAdapter) Type() models.ChannelType { return a.channelType }
func (a *fakeLifecycleAdapter) Start(ctx context.Context) error {
	a.started = true
	return nil
}
func (a *fakeLifecycleAdapter) Stop(ctx context.Context) error {
	a.stopped = true
	return nil
}
