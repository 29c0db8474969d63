package gateway

import (
	"context"
	"fmt"

	"github.com/JulianRyder01/resonance/internal/config"
	"github.com/JulianRyder01/resonance/internal/doctor"
	"github.com/JulianRyder01/resonance/internal/sentinel"
	"github.com/JulianRyder01/resonance/pkg/models"
)

// cliProbe reports the CLI surface healthy whenever the process is up: a
// CLI invocation is a foreground process by definition, so there is nothing
// further to dial.
type cliProbe struct{}

func (cliProbe) Channel() models.ChannelType { return models.ChannelCLI }

func (cliProbe) Probe(context.Context) doctor.ChannelHealth {
	return doctor.ChannelHealth{Healthy: true, Message: "cli surface is always reachable in-process"}
}

// apiProbe reports the local HTTP API surface healthy when it has a port
// configured to bind. It cannot dial itself from inside its own process
// without risking a self-deadlock on startup, so it checks configuration
// rather than reachability.
type apiProbe struct {
	cfg *config.Config
}

func (apiProbe) Channel() models.ChannelType { return models.ChannelAPI }

func (p apiProbe) Probe(context.Context) doctor.ChannelHealth {
	if p.cfg == nil || p.cfg.Server.HTTPPort <= 0 {
		return doctor.ChannelHealth{Healthy: false, Message: "no http_port configured"}
	}
	return doctor.ChannelHealth{Healthy: true, Message: fmt.Sprintf("listening on :%d", p.cfg.Server.HTTPPort)}
}

// sentinelProbe reports the sentinel engine's own running state.
type sentinelProbe struct {
	engine *sentinel.Engine
}

func (sentinelProbe) Channel() models.ChannelType { return models.ChannelSentinel }

func (p sentinelProbe) Probe(context.Context) doctor.ChannelHealth {
	if p.engine == nil {
		return doctor.ChannelHealth{Healthy: false, Message: "sentinel engine not initialized"}
	}
	if !p.engine.Running() {
		return doctor.ChannelHealth{Healthy: false, Degraded: true, Message: "sentinel engine not running"}
	}
	return doctor.ChannelHealth{Healthy: true, Message: "sentinel engine running"}
}
