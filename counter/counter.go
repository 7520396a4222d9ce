// Package counter implements the compact per-key time-series accumulator
// described for a document database's counter engine: an in-RAM cache of
// pending sum/min/max deltas, debounce-flushed to a single text file and
// merged with whatever another flush already wrote.
package counter

import (
	"fmt"
	"sync"
	"time"
)

// kind is the two aggregate families a counter id can track. A given id
// is either a running sum (hit) or a running min/max pair (min/max); an
// id is not expected to be used as both.
type kind int

const (
	kindSum kind = iota
	kindMinMax
)

func (k kind) prefix() string {
	if k == kindSum {
		return "sum"
	}
	return "mma"
}

// delta is one pending, unflushed mutation for a single id within a
// single year.
type delta struct {
	kind     kind
	sum      float64
	hasSum   bool
	min, max float64
	hasMM    bool
	removed  bool
	day      string // "MMdd" of the day the mutation was recorded on
}

// Counter is one open counter file. Mutating methods (Hit/Min/Max/
// Remove) only ever touch the in-RAM cache; Flush is what reconciles the
// cache against disk.
type Counter struct {
	path          string
	flushInterval time.Duration

	mu      sync.Mutex
	pending map[string]*delta // key: kind-prefix + year + id
	timer   *time.Timer
}

// Open returns a Counter bound to path. No file is read until the first
// Flush or Read call.
func Open(path string, flushInterval time.Duration) *Counter {
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	return &Counter{path: path, flushInterval: flushInterval, pending: map[string]*delta{}}
}

func cacheKey(k kind, year int, id string) string {
	return fmt.Sprintf("%s%04d%s", k.prefix(), year, id)
}

// Hit adds n (default 1: an n of 0 counts as 1) to id's running sum for
// the current year and today's daily bucket.
func (c *Counter) Hit(id string, n float64) {
	if n == 0 {
		n = 1
	}
	c.mutate(kindSum, id, func(d *delta) {
		d.sum += n
		d.hasSum = true
	})
}

// Min records a candidate minimum for id.
func (c *Counter) Min(id string, n float64) {
	c.mutate(kindMinMax, id, func(d *delta) {
		if !d.hasMM {
			d.min, d.max = n, n
		} else if n < d.min {
			d.min = n
		}
		d.hasMM = true
	})
}

// Max records a candidate maximum for id.
func (c *Counter) Max(id string, n float64) {
	c.mutate(kindMinMax, id, func(d *delta) {
		if !d.hasMM {
			d.min, d.max = n, n
		} else if n > d.max {
			d.max = n
		}
		d.hasMM = true
	})
}

// Remove marks id for deletion on the next flush, for both aggregate
// families.
func (c *Counter) Remove(id string) {
	year := time.Now().Year()
	c.mu.Lock()
	for _, k := range []kind{kindSum, kindMinMax} {
		key := cacheKey(k, year, id)
		d := c.pendingFor(key, k)
		d.removed = true
	}
	c.scheduleFlush()
	c.mu.Unlock()
}

func (c *Counter) mutate(k kind, id string, apply func(d *delta)) {
	now := time.Now()
	key := cacheKey(k, now.Year(), id)
	c.mu.Lock()
	d := c.pendingFor(key, k)
	d.day = now.Format("0102")
	apply(d)
	c.scheduleFlush()
	c.mu.Unlock()
}

func (c *Counter) pendingFor(key string, k kind) *delta {
	d, ok := c.pending[key]
	if !ok {
		d = &delta{kind: k}
		c.pending[key] = d
	}
	return d
}

// scheduleFlush arms a Flush call flushInterval after the first mutation
// since the previous flush; later mutations before it fires join that same
// flush and do not push it back.
// Callers holding c.mu must not block on the timer.
func (c *Counter) scheduleFlush() {
	if c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.flushInterval, func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()
		_ = c.Flush()
	})
}
