//go:build !tpanel_no_crestron

package plugins

import (
	"github.com/joshp123/tpanel/internal/config"
	"github.com/joshp123/tpanel/internal/core"
	"github.com/joshp123/tpanel/plugins/crestron"
)

func init() {
	Register(func(cfg *config.Config, deps Deps) (core.Plugin, bool) {
		opts := crestron.PluginOptions{
			Logger: deps.Logger,
			MQTT:   deps.MQTT,
			Store:  deps.Store,
		}
		if cfg.StateStore != nil {
			opts.Restore = cfg.StateStore.Restore
		}
		plugin, ok := crestron.NewPlugin(cfg.Crestron, opts)
		if !ok {
			return nil, false
		}
		return plugin, true
	})
}
