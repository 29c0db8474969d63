package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JulianRyder01/resonance/internal/config"
	"github.com/JulianRyder01/resonance/internal/infra"
)

// ManagedServerConfig configures a ManagedServer.
type ManagedServerConfig struct {
	Config     *config.Config
	Logger     *slog.Logger
	ConfigPath string
}

// ManagedServer wraps Server with an infra.ComponentManager that owns the
// HTTP surface and, eventually, the sentinel engine's background loop —
// grounded on the teacher's ManagedServer/ComponentManager split, trimmed
// to the handful of components Resonance actually needs to start in order
// and tear down in reverse.
type ManagedServer struct {
	*Server
	configPath string
	components *infra.ComponentManager
	http       *httpSurface
}

// NewManagedServer builds the Server plus its managed HTTP and sentinel
// components, but does not start them.
func NewManagedServer(cfg ManagedServerConfig) (*ManagedServer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv, err := NewServer(cfg.Config, logger)
	if err != nil {
		return nil, fmt.Errorf("build server: %w", err)
	}

	components := infra.NewComponentManager(logger)

	bridgeComponent := infra.NewSimpleComponent("concurrency-bridge", logger,
		func(context.Context) error { srv.Bridge().Start(); return nil },
		func(context.Context) error { srv.Bridge().Stop(); return nil },
	)
	components.Register(bridgeComponent)

	sentinelComponent := infra.NewSimpleComponent("sentinel-engine", logger,
		func(ctx context.Context) error { return srv.sentinel.Start(ctx) },
		func(ctx context.Context) error { srv.sentinel.Stop(); return nil },
	)
	components.Register(sentinelComponent)

	cronComponent := infra.NewSimpleComponent("cron-scheduler", logger,
		func(ctx context.Context) error { return srv.cron.Start(ctx) },
		func(ctx context.Context) error { return srv.cron.Stop(ctx) },
	)
	components.Register(cronComponent)

	http := newHTTPSurface(srv)
	httpComponent := infra.NewSimpleComponent("http-surface", logger,
		http.Start,
		http.Stop,
	)
	components.Register(httpComponent)

	return &ManagedServer{
		Server:     srv,
		configPath: cfg.ConfigPath,
		components: components,
		http:       http,
	}, nil
}

// Start brings up every managed component in registration order: sentinel
// engine and cron scheduler first so their triggers can fire as soon as the
// host is up, then the HTTP surface. The gateway.startup hook event fires
// last, once everything is actually listening.
func (m *ManagedServer) Start(ctx context.Context) error {
	m.logger.Info("starting resonance host", "config", m.configPath)
	if err := m.components.Start(ctx); err != nil {
		return err
	}
	m.Server.TriggerStartup(ctx)
	return nil
}

// Stop fires the gateway.shutdown hook event — giving handlers like the
// bundled memory-consolidation hook a chance to run before anything is torn
// down — then tears down every managed component in reverse registration
// order.
func (m *ManagedServer) Stop(ctx context.Context) error {
	if err := m.Server.TriggerShutdown(ctx); err != nil {
		m.logger.Warn("gateway shutdown hook error", "error", err)
	}
	return m.components.Stop(ctx)
}
