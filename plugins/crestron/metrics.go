package crestron

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK          = "ok"
	resultError       = "error"
	resultUnconfirmed = "unconfirmed"
)

// Metrics exports cached panel state and command outcomes.
type Metrics struct {
	mu     sync.Mutex
	panels []*Coordinator

	brightness      *prometheus.GaugeVec
	power           *prometheus.GaugeVec
	reachable       *prometheus.GaugeVec
	lastSuccess     *prometheus.GaugeVec
	commands        *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	labels := []string{"panel"}
	return &Metrics{
		brightness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpanel_crestron_brightness_percent",
			Help: "Cached LCD brightness per panel",
		}, labels),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpanel_crestron_power_on_bool",
			Help: "Cached power state per panel (1=on, 0=standby)",
		}, labels),
		reachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpanel_crestron_reachable_bool",
			Help: "Last refresh reached the panel (1=yes, 0=no or not yet)",
		}, labels),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpanel_crestron_last_success_timestamp_seconds",
			Help: "Last successful refresh timestamp per panel (epoch seconds)",
		}, labels),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tpanel_crestron_commands_total",
			Help: "Panel commands by outcome",
		}, []string{"panel", "command", "result"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tpanel_crestron_refresh_duration_seconds",
			Help:    "Duration of brightness refreshes, including SSH connect",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"panel", "result"}),
	}
}

// Track adds a coordinator whose cache is exported on every scrape.
func (m *Metrics) Track(c *Coordinator) {
	m.mu.Lock()
	m.panels = append(m.panels, c)
	m.mu.Unlock()
}

func (m *Metrics) observeCommand(panel, command, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(panel, command, result).Inc()
}

func (m *Metrics) observeRefresh(panel string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	result := resultOK
	if !ok {
		result = resultError
	}
	m.refreshDuration.WithLabelValues(panel, result).Observe(d.Seconds())
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.brightness.Describe(ch)
	m.power.Describe(ch)
	m.reachable.Describe(ch)
	m.lastSuccess.Describe(ch)
	m.commands.Describe(ch)
	m.refreshDuration.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	// Concurrent scrapes would race on Reset.
	m.mu.Lock()
	defer m.mu.Unlock()

	m.brightness.Reset()
	m.power.Reset()
	m.reachable.Reset()
	m.lastSuccess.Reset()

	for _, c := range m.panels {
		state, reach := c.Snapshot()
		name := c.Name()
		m.brightness.WithLabelValues(name).Set(float64(state.Brightness))
		m.power.WithLabelValues(name).Set(boolToFloat(state.IsOn))
		m.reachable.WithLabelValues(name).Set(boolToFloat(reach == ReachabilityReachable))
		if last := c.LastSuccess(); !last.IsZero() {
			m.lastSuccess.WithLabelValues(name).Set(float64(last.Unix()))
		}
	}

	m.brightness.Collect(ch)
	m.power.Collect(ch)
	m.reachable.Collect(ch)
	m.lastSuccess.Collect(ch)
	m.commands.Collect(ch)
	m.refreshDuration.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
