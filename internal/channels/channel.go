// Package channels defines the extension point plugins use to attach an
// additional messaging surface (e.g. a Matrix bridge or email inbox) to the
// host. Resonance itself only drives the CLI, local API, and sentinel
// surfaces built into internal/gateway; this package exists so a plugin can
// register something beyond those without the host knowing its wire format.
package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/JulianRyder01/resonance/internal/debounce"
	"github.com/JulianRyder01/resonance/internal/infra"
	"github.com/JulianRyder01/resonance/pkg/models"
)

// ErrNoOutboundAdapter indicates no adapter registered for a channel type
// supports sending.
var ErrNoOutboundAdapter = errors.New("channels: no outbound adapter registered for channel type")

// Adapter is the minimal contract for a channel connector.
type Adapter interface {
	// Type returns the channel type (e.g. "matrix", "email").
	Type() models.ChannelType
}

// LifecycleAdapter represents adapters that can start and stop.
type LifecycleAdapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboundAdapter represents adapters that can send messages.
type OutboundAdapter interface {
	Send(ctx context.Context, msg *models.Message) error
}

// InboundAdapter represents adapters that emit inbound messages.
type InboundAdapter interface {
	Messages() <-chan *models.Message
}

// HealthAdapter represents adapters that expose status and metrics.
type HealthAdapter interface {
	Status() Status
	HealthCheck(ctx context.Context) HealthStatus
	Metrics() MetricsSnapshot
}

// FullAdapter aggregates all adapter capabilities for convenience.
type FullAdapter interface {
	Adapter
	LifecycleAdapter
	OutboundAdapter
	InboundAdapter
	HealthAdapter
}

// Status represents the connection status of a channel.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"`
}

// HealthStatus represents the health check result for an adapter.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	LastCheck time.Time     `json:"last_check"`
	Degraded  bool          `json:"degraded,omitempty"`
}

// MetricsSnapshot is a point-in-time counter dump for one adapter.
type MetricsSnapshot struct {
	ChannelType      models.ChannelType
	MessagesSent     uint64
	MessagesReceived uint64
	MessagesFailed   uint64
}

// Registry manages the channel adapters plugins have registered.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[models.ChannelType]Adapter
	inbound   map[models.ChannelType]InboundAdapter
	outbound  map[models.ChannelType]OutboundAdapter
	lifecycle map[models.ChannelType]LifecycleAdapter
	health    map[models.ChannelType]HealthAdapter
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:  make(map[models.ChannelType]Adapter),
		inbound:   make(map[models.ChannelType]InboundAdapter),
		outbound:  make(map[models.ChannelType]OutboundAdapter),
		lifecycle: make(map[models.ChannelType]LifecycleAdapter),
		health:    make(map[models.ChannelType]HealthAdapter),
	}
}

// Register adds an adapter to the registry, indexing it under whichever of
// the optional capability interfaces it implements.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channelType := adapter.Type()
	r.adapters[channelType] = adapter

	if inbound, ok := adapter.(InboundAdapter); ok {
		r.inbound[channelType] = inbound
	} else {
		delete(r.inbound, channelType)
	}
	if outbound, ok := adapter.(OutboundAdapter); ok {
		r.outbound[channelType] = outbound
	} else {
		delete(r.outbound, channelType)
	}
	if lifecycle, ok := adapter.(LifecycleAdapter); ok {
		r.lifecycle[channelType] = lifecycle
	} else {
		delete(r.lifecycle, channelType)
	}
	if health, ok := adapter.(HealthAdapter); ok {
		r.health[channelType] = health
	} else {
		delete(r.health, channelType)
	}
}

// Get returns an adapter by channel type.
func (r *Registry) Get(channelType models.ChannelType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[channelType]
	return adapter, ok
}

// GetOutbound returns an adapter that can send messages for the channel.
func (r *Registry) GetOutbound(channelType models.ChannelType) (OutboundAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.outbound[channelType]
	return adapter, ok
}

// SendWithRetry sends msg through the outbound adapter registered for
// channelType, retrying transient failures according to that channel's
// retry policy (see internal/infra.GetChannelRetryPolicy).
func (r *Registry) SendWithRetry(ctx context.Context, channelType models.ChannelType, msg *models.Message) error {
	adapter, ok := r.GetOutbound(channelType)
	if !ok {
		return ErrNoOutboundAdapter
	}

	runner := infra.NewRetryRunner(string(channelType), false)
	return runner.Run(ctx, "channel-send", func(ctx context.Context) error {
		return adapter.Send(ctx, msg)
	})
}

// HealthAdapters returns a copy of registered health adapters.
func (r *Registry) HealthAdapters() map[models.ChannelType]HealthAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.ChannelType]HealthAdapter, len(r.health))
	for channelType, adapter := range r.health {
		out[channelType] = adapter
	}
	return out
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	return adapters
}

// StartAll starts every adapter that implements LifecycleAdapter.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	lifecycle := make([]LifecycleAdapter, 0, len(r.lifecycle))
	for _, adapter := range r.lifecycle {
		lifecycle = append(lifecycle, adapter)
	}
	r.mu.RUnlock()

	for _, adapter := range lifecycle {
		if err := adapter.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every adapter that implements LifecycleAdapter.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	lifecycle := make([]LifecycleAdapter, 0, len(r.lifecycle))
	for _, adapter := range r.lifecycle {
		lifecycle = append(lifecycle, adapter)
	}
	r.mu.RUnlock()

	var lastErr error
	for _, adapter := range lifecycle {
		if err := adapter.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// AggregateMessages fans in every registered inbound adapter's message
// stream into a single channel, closed once ctx is cancelled or every
// adapter stream closes.
func (r *Registry) AggregateMessages(ctx context.Context) <-chan *models.Message {
	r.mu.RLock()
	inbound := make([]InboundAdapter, 0, len(r.inbound))
	for _, adapter := range r.inbound {
		inbound = append(inbound, adapter)
	}
	r.mu.RUnlock()

	out := make(chan *models.Message)
	var wg sync.WaitGroup

	for _, adapter := range inbound {
		wg.Add(1)
		go func(a InboundAdapter) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-a.Messages():
					if !ok {
						return
					}
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(adapter)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// AggregateMessagesDebounced is AggregateMessages with inbound messages from
// the same channel+sender coalesced: a burst of rapid-fire messages (e.g. a
// user sending several short texts in a row) is combined into one message
// joined by newlines instead of triggering a turn per message. cfg controls
// the delay per channel; see debounce.DebounceConfig.
func (r *Registry) AggregateMessagesDebounced(ctx context.Context, cfg debounce.DebounceConfig) <-chan *models.Message {
	in := r.AggregateMessages(ctx)
	out := make(chan *models.Message)

	flush := func(items []**models.Message) error {
		if len(items) == 0 {
			return nil
		}
		merged := *items[0]
		if len(items) > 1 {
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = (*item).Content
			}
			combined := *merged
			combined.Content = strings.Join(parts, "\n")
			merged = &combined
		}
		select {
		case out <- merged:
		case <-ctx.Done():
		}
		return nil
	}
	buildKey := func(msg **models.Message) string {
		m := *msg
		return strings.Join([]string{string(m.Channel), m.ChannelID}, "/")
	}

	// A channel's debounce delay is fixed once resolved, but
	// DebounceConfig.ByChannel lets different channel types use different
	// delays, so each channel type gets its own Debouncer instance built
	// lazily on first message with that channel's resolved delay.
	var mu sync.Mutex
	debouncers := make(map[models.ChannelType]*debounce.Debouncer[*models.Message])

	debouncerFor := func(channel models.ChannelType) *debounce.Debouncer[*models.Message] {
		mu.Lock()
		defer mu.Unlock()
		if d, ok := debouncers[channel]; ok {
			return d
		}
		delay := debounce.ResolveDebounceMs(cfg, string(channel), nil)
		d := debounce.NewDebouncer(
			debounce.WithDebounceDuration[*models.Message](delay),
			debounce.WithBuildKey(buildKey),
			debounce.WithOnFlush(flush),
		)
		debouncers[channel] = d
		return d
	}

	go func() {
		defer close(out)
		defer func() {
			mu.Lock()
			for _, d := range debouncers {
				d.Stop()
			}
			mu.Unlock()
		}()
		for {
			select {
			case msg, ok := <-in:
				if !ok {
					return
				}
				debouncerFor(msg.Channel).Enqueue(&msg)
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
