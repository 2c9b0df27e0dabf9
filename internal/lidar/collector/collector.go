// Package collector aligns sensor measurements arriving asynchronously from
// many agents into per-tick batches.
//
// Producers call Submit from simulator callback goroutines; a single
// consumer drains batches with CollectTick or CollectFor.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/lidarfusion/internal/monitoring"
	"github.com/banshee-data/lidarfusion/internal/timeutil"
)

var logf = monitoring.Tagged("Collector")

// Config contains configuration for a Collector.
type Config struct {
	// Clock drives collection timeouts. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// BacklogWarn logs a warning when the queue reaches this many
	// measurements. Zero disables the warning.
	BacklogWarn int
}

// Collector is an unbounded FIFO of measurements ordered by arrival.
// Submit never blocks and never drops.
type Collector struct {
	clock       timeutil.Clock
	backlogWarn int

	mu     sync.Mutex
	queue  []Measurement
	warned bool

	wake chan struct{}
}

// New creates a Collector.
func New(cfg Config) *Collector {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Collector{
		clock:       clock,
		backlogWarn: cfg.BacklogWarn,
		wake:        make(chan struct{}, 1),
	}
}

// Submit enqueues m. Safe for concurrent use by any number of producers.
func (c *Collector) Submit(m Measurement) {
	c.mu.Lock()
	c.queue = append(c.queue, m)
	n := len(c.queue)
	warn := false
	if c.backlogWarn > 0 {
		if n >= c.backlogWarn && !c.warned {
			c.warned = true
			warn = true
		} else if n < c.backlogWarn/2 {
			c.warned = false
		}
	}
	c.mu.Unlock()

	if warn {
		logf("backlog reached %d measurements, consumer is falling behind", n)
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued measurements.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Drain removes and returns everything queued.
func (c *Collector) Drain() []Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

func (c *Collector) pop() (Measurement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Measurement{}, false
	}
	m := c.queue[0]
	c.queue[0] = Measurement{}
	c.queue = c.queue[1:]
	return m, true
}

// requeue puts ms back at the head of the queue in their original order.
func (c *Collector) requeue(ms []Measurement) {
	if len(ms) == 0 {
		return
	}
	c.mu.Lock()
	q := make([]Measurement, 0, len(ms)+len(c.queue))
	q = append(q, ms...)
	q = append(q, c.queue...)
	c.queue = q
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// CollectTick drains up to expected measurements in arrival order. It returns
// when expected measurements have been taken, when timeout elapses, or when
// ctx is done, whichever comes first. missing is expected minus the number
// collected. Tick ids are not inspected; see Batch.TickMismatches.
func (c *Collector) CollectTick(ctx context.Context, expected int, timeout time.Duration) (Batch, int) {
	var b Batch
	if expected <= 0 {
		return b, 0
	}

	c.drainInto(ctx, timeout, func(m Measurement) bool {
		b.Measurements = append(b.Measurements, m)
		return len(b.Measurements) >= expected
	})

	b.Missing = expected - len(b.Measurements)
	return b, b.Missing
}

// CollectFor drains measurements for tickID until expected distinct agents
// have reported, timeout elapses, or ctx is done.
//
// Measurements from earlier ticks are discarded; measurements from later ticks
// are put back at the head of the queue when the drain ends. Both appear in
// Batch.Mismatched. A second measurement from an agent already in the batch
// goes to Batch.Duplicates.
func (c *Collector) CollectFor(ctx context.Context, tickID uint64, expected int, timeout time.Duration) Batch {
	b := Batch{TickID: tickID}
	if expected <= 0 {
		return b
	}

	seen := make(map[int]bool, expected)
	var early []Measurement
	c.drainInto(ctx, timeout, func(m Measurement) bool {
		switch {
		case m.TickID < tickID:
			b.Mismatched = append(b.Mismatched, m)
		case m.TickID > tickID:
			b.Mismatched = append(b.Mismatched, m)
			early = append(early, m)
		case seen[m.AgentID]:
			b.Duplicates = append(b.Duplicates, m)
		default:
			seen[m.AgentID] = true
			b.Measurements = append(b.Measurements, m)
		}
		return len(b.Measurements) >= expected
	})
	c.requeue(early)

	b.Missing = expected - len(b.Measurements)
	if n := len(b.Mismatched); n > 0 {
		logf("tick %d: %d measurements with mismatched tick ids (%d held for later ticks)", tickID, n, len(early))
	}
	return b
}

// drainInto feeds queued measurements to take until it returns true, the
// timeout fires, or ctx is done.
func (c *Collector) drainInto(ctx context.Context, timeout time.Duration, take func(Measurement) bool) {
	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	for {
		if m, ok := c.pop(); ok {
			if take(m) {
				return
			}
			continue
		}

		select {
		case <-c.wake:
		case <-timer.C():
			return
		case <-ctx.Done():
			return
		}
	}
}
