package metrics

import (
	"time"
)

// NamespaceSource exposes the key counts of a StateBus
type NamespaceSource interface {
	Namespaces() []string
	Len(namespace string) int
}

// Collector periodically samples StateBus namespace sizes
type Collector struct {
	source   NamespaceSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source NamespaceSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, ns := range c.source.Namespaces() {
		BusNamespaceKeys.WithLabelValues(ns).Set(float64(c.source.Len(ns)))
	}
}
