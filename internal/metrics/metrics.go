// Package metrics records what a run did and can push it to a Prometheus Pushgateway.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Job is the Pushgateway job name.
const Job = "ctfhooks"

// Collector holds the metrics of one run on a private registry. The
// last-success gauge lives on a registry of its own so that it is only
// pushed after a run that succeeded.
type Collector struct {
	registry      *prometheus.Registry
	successReg    *prometheus.Registry
	succeeded     bool
	eventsFetched prometheus.Gauge
	deliveries    *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	suppressed    prometheus.Counter
	runDuration   prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

// NewCollector creates a Collector with all metrics registered.
func NewCollector() *Collector {
	c := &Collector{
		registry:   prometheus.NewRegistry(),
		successReg: prometheus.NewRegistry(),
		eventsFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ctfhooks_events_fetched",
			Help: "Number of events returned by CTFtime in the last run.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctfhooks_webhook_deliveries_total",
			Help: "Webhook posts by result.",
		}, []string{"result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctfhooks_calendar_publishes_total",
			Help: "Calendar publishing attempts by target and result.",
		}, []string{"target", "result"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctfhooks_suppressed_runs_total",
			Help: "Runs that sent nothing because the event list was unchanged.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ctfhooks_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ctfhooks_last_success_timestamp_seconds",
			Help: "Unix time of the last run that finished without errors.",
		}),
	}

	c.registry.MustRegister(
		c.eventsFetched,
		c.deliveries,
		c.publishes,
		c.suppressed,
		c.runDuration,
	)
	c.successReg.MustRegister(c.lastSuccess)
	return c
}

// Registry exposes the run metrics registry, mainly for tests. The
// last-success gauge is not part of it.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) RecordEventsFetched(n int) { c.eventsFetched.Set(float64(n)) }

func (c *Collector) RecordDelivery(err error) {
	if err != nil {
		c.deliveries.WithLabelValues("failure").Inc()
		return
	}
	c.deliveries.WithLabelValues("success").Inc()
}

func (c *Collector) RecordPublish(target string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.publishes.WithLabelValues(target, result).Inc()
}

func (c *Collector) RecordSuppressed() { c.suppressed.Inc() }

// RecordRun stores the run time and, when the run succeeded, its finish time.
func (c *Collector) RecordRun(d time.Duration, finished time.Time, ok bool) {
	c.runDuration.Set(d.Seconds())
	if ok {
		c.succeeded = true
		c.lastSuccess.Set(float64(finished.Unix()))
	}
}

// Push sends the run metrics to the Pushgateway at url. It uses POST, which
// only replaces the metrics being sent, so a failed run leaves the
// last-success timestamp of an earlier run in place.
func (c *Collector) Push(ctx context.Context, url string) error {
	p := push.New(url, Job).Gatherer(c.registry)
	if c.succeeded {
		p = p.Gatherer(c.successReg)
	}
	return p.AddContext(ctx)
}
