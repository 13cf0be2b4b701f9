package plugins

import (
	"github.com/sirupsen/logrus"

	"github.com/joshp123/tpanel/internal/blob"
	"github.com/joshp123/tpanel/internal/config"
	"github.com/joshp123/tpanel/internal/core"
	"github.com/joshp123/tpanel/internal/mqtt"
)

// Deps are the shared services handed to every plugin factory. MQTT and
// Store are nil when not configured.
type Deps struct {
	Logger logrus.FieldLogger
	MQTT   mqtt.Publisher
	Store  blob.Store
}

// Factory builds a plugin instance from the loaded config.
type Factory func(*config.Config, Deps) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled returns the configured plugin instances for this build.
func Compiled(cfg *config.Config, deps Deps) []core.Plugin {
	if cfg == nil {
		return nil
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(cfg, deps)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
