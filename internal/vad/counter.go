package vad

// Counter tracks how many consecutive frames satisfied a trigger condition.
// A non-trigger frame resets the count to zero (never decrements), so only
// unbroken runs activate the counter — flicker around the probability
// threshold cannot accumulate.
type Counter struct {
	count     int
	threshold int
}

// NewCounter creates a counter that activates once threshold consecutive
// trigger frames have been observed. Thresholds below 1 are raised to 1.
func NewCounter(threshold int) *Counter {
	if threshold < 1 {
		threshold = 1
	}
	return &Counter{threshold: threshold}
}

// Observe records one frame and reports whether the counter is active
// (count ≥ threshold). trigger=false resets the count.
func (c *Counter) Observe(trigger bool) bool {
	if !trigger {
		c.count = 0
		return false
	}
	c.count++
	return c.count >= c.threshold
}

// Reset clears the accumulated count.
func (c *Counter) Reset() { c.count = 0 }

// Count returns the current consecutive-trigger count.
func (c *Counter) Count() int { return c.count }
