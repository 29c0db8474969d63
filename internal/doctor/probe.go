package doctor

import (
	"context"
	"sort"
	"time"

	"github.com/JulianRyder01/resonance/pkg/models"
)

// ChannelHealth reports whether a surface registered with the host is reachable.
type ChannelHealth struct {
	Healthy  bool
	Degraded bool
	Message  string
}

// ChannelProbe captures a surface health probe result.
type ChannelProbe struct {
	Channel models.ChannelType
	Status  ChannelHealth
}

// SurfaceProbe is implemented by anything the host exposes as an addressable
// surface (CLI, local HTTP API, sentinel loop) and wants audited by `resonance
// status --probe`.
type SurfaceProbe interface {
	Channel() models.ChannelType
	Probe(ctx context.Context) ChannelHealth
}

// ProbeChannelHealth runs health checks for every registered surface.
func ProbeChannelHealth(ctx context.Context, surfaces []SurfaceProbe) []ChannelProbe {
	if len(surfaces) == 0 {
		return nil
	}

	sorted := make([]SurfaceProbe, len(surfaces))
	copy(sorted, surfaces)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Channel() < sorted[j].Channel()
	})

	results := make([]ChannelProbe, 0, len(sorted))
	for _, surface := range sorted {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status := surface.Probe(probeCtx)
		cancel()
		results = append(results, ChannelProbe{Channel: surface.Channel(), Status: status})
	}

	return results
}
