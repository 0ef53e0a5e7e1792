// Package metrics provides a lightweight in-process counter collector.
// Counters are reported in the shutdown log and by tests; there is no
// exposition endpoint.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewCollector()

// MetricsCollector aggregates named counters.
type MetricsCollector struct {
	counters  sync.Map // name -> *Counter
	startTime time.Time
}

// NewCollector creates a new collector.
func NewCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help string) *Counter {
	if v, ok := c.counters.Load(name); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help}
	actual, _ := c.counters.LoadOrStore(name, ctr)
	return actual.(*Counter)
}

// Render returns all counters as "name value" lines, sorted by name.
func (c *MetricsCollector) Render() string {
	var lines []string
	c.counters.Range(func(key, value any) bool {
		ctr := value.(*Counter)
		lines = append(lines, fmt.Sprintf("%s %d", ctr.name, ctr.Value()))
		return true
	})
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
