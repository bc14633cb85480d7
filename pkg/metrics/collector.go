package metrics

import (
	"strconv"
	"time"
)

// StatsSource is implemented by the engine façade. It is defined here,
// rather than importing pkg/engine directly, so the metrics package has no
// dependency on the engine package (engine depends on metrics, not the
// other way around).
type StatsSource interface {
	ConceptCountByState() map[string]int64
	AssociationCountByType() map[string]int64
	SegmentCountByLevel() map[int]int64
}

// Collector periodically polls an engine for gauge-shaped statistics that
// aren't naturally updated inline by the operation that changes them
// (concept/association/segment counts).
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
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
	for state, count := range c.source.ConceptCountByState() {
		ConceptsTotal.WithLabelValues(state).Set(float64(count))
	}
	for typ, count := range c.source.AssociationCountByType() {
		AssociationsTotal.WithLabelValues(typ).Set(float64(count))
	}
	for level, count := range c.source.SegmentCountByLevel() {
		SegmentsTotal.WithLabelValues(strconv.Itoa(level)).Set(float64(count))
	}
}
