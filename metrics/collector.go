package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bpowers/simlin-sub000/resource"
)

var (
	liveDesc = prometheus.NewDesc(
		"simlin_handles_live",
		"Live (registered, unreleased) wrapper handles.",
		[]string{"kind"}, nil,
	)
	registeredDesc = prometheus.NewDesc(
		"simlin_handles_registered_total",
		"Total wrapper handles registered since process start.",
		[]string{"kind"}, nil,
	)
	releasedDesc = prometheus.NewDesc(
		"simlin_handles_released_total",
		"Total wrapper handles released since process start.",
		[]string{"kind"}, nil,
	)
)

// Collector implements prometheus.Collector over a resource registry.
// Live counts are read from the registry on scrape; cumulative totals
// are accumulated through the registry's observer hook.
type Collector struct {
	registry *resource.Registry

	mu         sync.Mutex
	registered map[string]uint64
	released   map[string]uint64
}

var _ prometheus.Collector = (*Collector)(nil)
var _ resource.Observer = (*Collector)(nil)

// NewCollector creates a collector observing reg and subscribes it for
// lifecycle events. Unsubscribe with Close when done.
func NewCollector(reg *resource.Registry) *Collector {
	c := &Collector{
		registry:   reg,
		registered: make(map[string]uint64),
		released:   make(map[string]uint64),
	}
	reg.Subscribe(c)
	return c
}

// Close detaches the collector from the registry's event stream.
func (c *Collector) Close() {
	c.registry.Unsubscribe(c)
}

// OnHandleEvent implements resource.Observer.
func (c *Collector) OnHandleEvent(e resource.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e.Type {
	case resource.EventRegistered:
		c.registered[e.Kind]++
	case resource.EventReleased:
		c.released[e.Kind]++
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- liveDesc
	ch <- registeredDesc
	ch <- releasedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for kind, n := range c.registry.Counts() {
		ch <- prometheus.MustNewConstMetric(liveDesc, prometheus.GaugeValue, float64(n), kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for kind, n := range c.registered {
		ch <- prometheus.MustNewConstMetric(registeredDesc, prometheus.CounterValue, float64(n), kind)
	}
	for kind, n := range c.released {
		ch <- prometheus.MustNewConstMetric(releasedDesc, prometheus.CounterValue, float64(n), kind)
	}
}
