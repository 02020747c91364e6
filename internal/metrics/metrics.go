// Package metrics exposes pipeline and provider metrics for Prometheus scraping.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pollenindex/pollenindex/internal/conditions"
	"github.com/pollenindex/pollenindex/internal/provider"
)

const namespace = "pollenindex"

// Outcome labels for provider fetches.
const (
	OutcomeOK      = "ok"
	OutcomeNetwork = "network"
	OutcomeDecode  = "decode"
	OutcomeOther   = "other"
)

// Collector owns a Prometheus registry with the pollen index metrics.
type Collector struct {
	registry *prometheus.Registry

	fetchDuration *prometheus.HistogramVec
	fetchTotal    *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	slots         *prometheus.CounterVec
	discards      *prometheus.CounterVec
	streamClients prometheus.Gauge
	feedMessages  *prometheus.CounterVec
}

// New creates a Collector with Go runtime and process collectors included.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_fetch_duration_seconds",
				Help:      "Histogram of upstream provider round-trip times.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "outcome"},
		),
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_fetch_total",
				Help:      "Upstream provider requests by outcome.",
			},
			[]string{"provider", "outcome"},
		),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "location_cycles_total",
				Help:      "Location cycles started, by location source.",
			},
			[]string{"source"},
		),
		slots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "slot_updates_total",
				Help:      "Slot results stored, by slot and status.",
			},
			[]string{"slot", "status"},
		),
		discards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "superseded_results_total",
				Help:      "Results dropped because a newer location cycle had started.",
			},
			[]string{"slot"},
		),
		streamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_stream_clients",
				Help:      "Connected conditions event stream clients.",
			},
		),
		feedMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_messages_total",
				Help:      "Location feed messages handled, by type and result.",
			},
			[]string{"type", "result"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.fetchDuration,
		c.fetchTotal,
		c.cycles,
		c.slots,
		c.discards,
		c.streamClients,
		c.feedMessages,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveFetch implements provider.Observer.
func (c *Collector) ObserveFetch(_ context.Context, providerName string, elapsed time.Duration, err error) {
	outcome := Outcome(err)
	c.fetchDuration.WithLabelValues(providerName, outcome).Observe(elapsed.Seconds())
	c.fetchTotal.WithLabelValues(providerName, outcome).Inc()
}

// RecordCycle implements conditions.Recorder.
func (c *Collector) RecordCycle(source conditions.LocationSource) {
	c.cycles.WithLabelValues(string(source)).Inc()
}

// RecordSlot implements conditions.Recorder.
func (c *Collector) RecordSlot(slot string, status conditions.SlotStatus) {
	c.slots.WithLabelValues(slot, string(status)).Inc()
}

// RecordDiscard implements conditions.Recorder.
func (c *Collector) RecordDiscard(slot string) {
	c.discards.WithLabelValues(slot).Inc()
}

// StreamOpened increments the event stream client gauge.
func (c *Collector) StreamOpened() {
	c.streamClients.Inc()
}

// StreamClosed decrements the event stream client gauge.
func (c *Collector) StreamClosed() {
	c.streamClients.Dec()
}

// RecordMessage counts a handled location feed message.
func (c *Collector) RecordMessage(messageType, result string) {
	c.feedMessages.WithLabelValues(messageType, result).Inc()
}

// Outcome maps a fetch error to its metric label.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	fe, ok := provider.AsFetchError(err)
	if !ok {
		return OutcomeOther
	}
	if fe.Kind == provider.KindDecode {
		return OutcomeDecode
	}
	return OutcomeNetwork
}

var (
	_ provider.Observer   = (*Collector)(nil)
	_ conditions.Recorder = (*Collector)(nil)
)
