package crestron

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/joshp123/tpanel/internal/blob"
	"github.com/joshp123/tpanel/internal/config"
	"github.com/joshp123/tpanel/internal/core"
	"github.com/joshp123/tpanel/internal/mqtt"
	"github.com/joshp123/tpanel/internal/rate"
)

const pluginID = "crestron"

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

// PluginOptions carries the shared daemon services. MQTT and Store are
// optional.
type PluginOptions struct {
	Logger  logrus.FieldLogger
	MQTT    mqtt.Publisher
	Store   blob.Store
	Restore bool
}

// Plugin implements the tpanel plugin contract for Crestron touch panels.
type Plugin struct {
	cfg     *config.CrestronConfig
	panels  *panelSet
	metrics *Metrics
	mqtt    mqtt.Publisher
	restore bool
	log     logrus.FieldLogger

	mu            sync.RWMutex
	health        core.HealthStatus
	healthMessage string
}

var (
	_ core.Plugin      = (*Plugin)(nil)
	_ core.Runner      = (*Plugin)(nil)
	_ rate.RateLimited = (*Plugin)(nil)
)

// NewPlugin builds a coordinator per configured panel. Panels are not
// activated until Run has tested their connection.
func NewPlugin(cfg *config.CrestronConfig, opts PluginOptions) (*Plugin, bool) {
	if cfg == nil {
		return nil, false
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("plugin", pluginID)

	metrics := NewMetrics()
	coords := make([]*Coordinator, 0, len(cfg.Panels))
	for _, p := range cfg.Panels {
		panel := panelConfig(p)
		c := NewCoordinator(panel, newRunner(panel, cfg, log), Options{
			ScanInterval:              cfg.ScanInterval,
			StrictStandbyConfirmation: cfg.StrictStandbyConfirmation,
			Store:                     opts.Store,
			Metrics:                   metrics,
			Logger:                    log,
		})
		metrics.Track(c)
		coords = append(coords, c)
	}

	return &Plugin{
		cfg:           cfg,
		panels:        newPanelSet(coords),
		metrics:       metrics,
		mqtt:          opts.MQTT,
		restore:       opts.Restore && opts.Store != nil,
		log:           log,
		health:        core.HealthDegraded,
		healthMessage: "panels not yet tested",
	}, true
}

func (p *Plugin) ID() string {
	return pluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    pluginID,
		DisplayName: "Crestron Touch Panels",
		Version:     "0.1.0",
		Services:    []string{PanelServiceDescriptor.FullName()},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "crestron-panels", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) {
	if err := RegisterPanelService(server, p.panels); err != nil {
		p.log.WithError(err).Error("register panel service")
	}
}

func (p *Plugin) Collectors() []prometheus.Collector {
	return []prometheus.Collector{p.metrics}
}

func (p *Plugin) RateLimits() rate.Declaration {
	return rateLimits(p.cfg)
}

func (p *Plugin) Health() core.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *Plugin) HealthMessage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthMessage
}

// Run activates panels that pass a connection test, exposes them to Home
// Assistant and polls them until ctx is cancelled. Entities are removed
// before Run returns.
func (p *Plugin) Run(ctx context.Context) error {
	active := p.activate(ctx)

	var entities []*Entities
	if p.mqtt != nil {
		for _, c := range active {
			e := NewEntities(c, p.mqtt, p.log)
			if err := e.Setup(ctx); err != nil {
				p.log.WithError(err).WithField("panel", c.Name()).Warn("home assistant entity setup failed")
				continue
			}
			entities = append(entities, e)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range active {
		c := c
		g.Go(func() error {
			return c.Run(gctx)
		})
	}
	err := g.Wait()

	for _, e := range entities {
		if terr := e.Teardown(); terr != nil {
			p.log.WithError(terr).Warn("home assistant entity teardown failed")
		}
	}
	return err
}

func (p *Plugin) activate(ctx context.Context) []*Coordinator {
	var g errgroup.Group
	for _, c := range p.panels.all() {
		c := c
		g.Go(func() error {
			if p.restore {
				if err := c.Restore(ctx); err != nil {
					p.log.WithError(err).WithField("panel", c.Name()).Warn("state restore failed")
				}
			}
			if !c.TestConnection(ctx) {
				p.log.WithField("panel", c.Name()).Error("connection test failed, panel not activated")
				return nil
			}
			p.panels.setActive(c)
			p.log.WithField("panel", c.Name()).Info("panel activated")
			return nil
		})
	}
	_ = g.Wait()

	active := make([]*Coordinator, 0, len(p.panels.all()))
	var failed []string
	for _, c := range p.panels.all() {
		if p.panels.isActive(c) {
			active = append(active, c)
		} else {
			failed = append(failed, c.Name())
		}
	}
	p.setHealth(len(active), failed)
	return active
}

func (p *Plugin) setHealth(active int, failed []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := active + len(failed)
	switch {
	case len(failed) == 0:
		p.health = core.HealthHealthy
		p.healthMessage = fmt.Sprintf("%d/%d panels active", active, total)
	case active == 0:
		p.health = core.HealthError
		p.healthMessage = fmt.Sprintf("no panels reachable: %s", strings.Join(failed, ", "))
	default:
		p.health = core.HealthDegraded
		p.healthMessage = fmt.Sprintf("%d/%d panels active, failed: %s", active, total, strings.Join(failed, ", "))
	}
}
