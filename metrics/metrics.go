// Package metrics exports the cycle and the controller channels to prometheus
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nasa-jpl/cryocycle/cycle"
)

const namespace = "cryocycle"

// Collectors holds every cryocycle metric
type Collectors struct {
	Outcomes    *prometheus.CounterVec
	LastOutcome *prometheus.GaugeVec
	Held        prometheus.Gauge
	Channel     *prometheus.GaugeVec
}

// New registers the collectors with reg.  running reports whether a cycle
// is live; it is polled on every scrape.
func New(reg prometheus.Registerer, running func() bool) *Collectors {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "running",
		Help:      "1 while the daily cycle is running.",
	}, func() float64 {
		if running != nil && running() {
			return 1
		}
		return 0
	})
	return &Collectors{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Process and guard outcomes by process and outcome name.",
		}, []string{"process", "outcome"}),
		LastOutcome: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_outcome",
			Help:      "Numeric code of the latest outcome of each process.",
		}, []string{"process"}),
		Held: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "held_seconds",
			Help:      "How long the relay stayed cold after the latest evaporation.",
		}),
		Channel: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_value",
			Help:      "Latest value of each controller channel.",
		}, []string{"channel"}),
	}
}

// Observe records ev
func (c *Collectors) Observe(ev cycle.Event) {
	p := string(ev.Process)
	c.Outcomes.WithLabelValues(p, ev.Outcome.String()).Inc()
	c.LastOutcome.WithLabelValues(p).Set(float64(ev.Outcome.Code()))
	if ev.Held > 0 {
		c.Held.Set(ev.Held.Seconds())
	}
}

// ObserveChannels records a snapshot of the controller
func (c *Collectors) ObserveChannels(values map[string]float64) {
	for ch, v := range values {
		c.Channel.WithLabelValues(ch).Set(v)
	}
}

// Consume observes every event from events until it is closed or ctx is done
func (c *Collectors) Consume(ctx context.Context, events <-chan cycle.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
