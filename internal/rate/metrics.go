package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	tokensGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tpanel_rate_limit_tokens",
			Help: "Tokens left in the command bucket for the target window",
		},
		[]string{"target", "window"},
	)
	deniedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tpanel_rate_limit_denied_total",
			Help: "Commands refused by the rate guard",
		},
		[]string{"target", "reason"},
	)
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		tokensGauge,
		deniedCounter,
	}
}
