package performance

import (
	"sync"
	"sync/atomic"
)

// RecordObserver is notified of every record accepted by a Collector.
// Observers run on the appending worker's goroutine while the collector is
// locked, so none runs after Seal returns. They must not call back into the
// collector.
type RecordObserver func(ExecutionRecord)

// Collector is the append-only record store for one run.
//
// Any number of workers may Append concurrently. Once Seal is called the
// collector is frozen: later appends are counted as dropped and discarded, so
// the sealed slice can be aggregated while stragglers are still winding down.
type Collector struct {
	mu      sync.Mutex
	records []ExecutionRecord
	sealed  bool

	dropped   atomic.Int64
	observers []RecordObserver
}

// NewCollector creates an empty collector. sizeHint pre-allocates capacity.
func NewCollector(sizeHint int, observers ...RecordObserver) *Collector {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Collector{
		records:   make([]ExecutionRecord, 0, sizeHint),
		observers: observers,
	}
}

// Append adds a record. It returns false if the collector was already sealed.
func (c *Collector) Append(rec ExecutionRecord) bool {
	c.mu.Lock()
	if c.sealed {
		c.mu.Unlock()
		c.dropped.Add(1)
		return false
	}
	defer c.mu.Unlock()

	c.records = append(c.records, rec)
	for _, observe := range c.observers {
		observe(rec)
	}
	return true
}

// Len returns the number of accepted records.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Seal freezes the collector and returns the accepted records. The returned
// slice is never written again. Sealing twice returns the same records.
func (c *Collector) Seal() []ExecutionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sealed = true
	return c.records[:len(c.records):len(c.records)]
}

// Sealed reports whether Seal has been called.
func (c *Collector) Sealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}

// Dropped returns how many appends arrived after sealing.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}
