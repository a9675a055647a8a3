// Package stats tracks distinct-value estimates over the decoded log stream
// using fixed-memory HyperLogLog sketches.
package stats

import (
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"

	"github.com/telemetrygov/logs-governor/internal/logging"
	"github.com/telemetrygov/logs-governor/internal/logrecord"
)

// Collector estimates the number of distinct attribute keys, event names and
// resource ids seen since the last reporting window. Sketches use ~12KB each
// regardless of cardinality, so the collector is safe on unbounded key spaces.
type Collector struct {
	mu         sync.Mutex
	attrKeys   *hyperloglog.Sketch
	eventNames *hyperloglog.Sketch
	records    uint64

	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Snapshot is a point-in-time view of the collector's estimates.
type Snapshot struct {
	DistinctAttributeKeys uint64
	DistinctEventNames    uint64
	Records               uint64
}

// New creates a Collector that logs a summary every interval. An interval of
// zero disables periodic reporting; the collector still accumulates.
func New(interval time.Duration) *Collector {
	return &Collector{
		attrKeys:   hyperloglog.New(),
		eventNames: hyperloglog.New(),
		interval:   interval,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Observe folds a slice of materialized records into the sketches.
func (c *Collector) Observe(records []logrecord.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range records {
		c.records++
		c.eventNames.Insert([]byte(records[i].EventName))
		for _, attr := range records[i].Attributes {
			c.attrKeys.Insert([]byte(attr.Key))
		}
	}
}

// Snapshot returns the current estimates without resetting them.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		DistinctAttributeKeys: c.attrKeys.Estimate(),
		DistinctEventNames:    c.eventNames.Estimate(),
		Records:               c.records,
	}
}

// Reset clears the sketches for a new window.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrKeys = hyperloglog.New()
	c.eventNames = hyperloglog.New()
	c.records = 0
}

// Start launches the periodic reporting loop.
func (c *Collector) Start() {
	if c.interval <= 0 {
		close(c.doneCh)
		return
	}
	go c.reportLoop()
}

// Stop terminates the reporting loop and waits for it to exit.
func (c *Collector) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.doneCh
}

func (c *Collector) reportLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.report()
		case <-c.stopCh:
			c.report()
			return
		}
	}
}

func (c *Collector) report() {
	snap := c.Snapshot()
	if snap.Records == 0 {
		return
	}

	distinctAttributeKeys.Set(float64(snap.DistinctAttributeKeys))
	distinctEventNames.Set(float64(snap.DistinctEventNames))

	logging.Info("log stream statistics", logging.F(
		"records", snap.Records,
		"distinct_attribute_keys", snap.DistinctAttributeKeys,
		"distinct_event_names", snap.DistinctEventNames,
	))
	c.Reset()
}
