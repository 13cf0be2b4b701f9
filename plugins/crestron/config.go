package crestron

import (
	"github.com/sirupsen/logrus"

	"github.com/joshp123/tpanel/internal/config"
	"github.com/joshp123/tpanel/internal/rate"
)

func panelConfig(p *config.PanelConfig) PanelConfig {
	port := p.Port
	if port == 0 {
		port = config.DefaultPanelPort
	}
	return PanelConfig{
		Name:     p.Name,
		Host:     p.Host,
		Port:     port,
		Username: p.Username,
		Password: p.Password,
	}
}

func rateLimits(cfg *config.CrestronConfig) rate.Declaration {
	limit := cfg.MaxCommandsPerMinute
	if limit == 0 {
		limit = config.DefaultMaxCommandsPerMinute
	}
	return rate.Target(pluginID).MaxRequestsPer(rate.Minute, limit)
}

// newRunner builds the rate-guarded SSH transport for one panel.
func newRunner(panel PanelConfig, cfg *config.CrestronConfig, log logrus.FieldLogger) Runner {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = config.DefaultConnectTimeout
	}
	command := cfg.CommandTimeout
	if command <= 0 {
		command = config.DefaultCommandTimeout
	}
	ssh := NewSSHRunner(panel, connect, command, log.WithField("panel", panel.Name))
	return NewGuardedRunner(ssh, rate.NewGuard(rateLimits(cfg).For(panel.Name)))
}
