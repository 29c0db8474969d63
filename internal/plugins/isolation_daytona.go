package plugins

import (
	"fmt"

	"github.com/JulianRyder01/resonance/internal/config"
)

// newDaytonaRuntimePluginLoader reports the daytona isolation backend as
// unavailable. Sandboxed plugin execution needs a real Daytona (or
// firecracker/docker) runner wired up to isolate a plugin's process from the
// host; until one ships, treat it the same as the other unimplemented
// backends rather than run a plugin un-isolated.
func newDaytonaRuntimePluginLoader(cfg config.PluginIsolationConfig) runtimePluginLoader {
	return isolationRuntimePluginLoader{
		backend: "daytona",
		err:     fmt.Errorf("%w: backend \"daytona\" not implemented", ErrIsolationUnavailable),
	}
}
