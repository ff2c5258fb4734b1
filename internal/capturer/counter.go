package capturer

import "time"

// FrameCounter counts persisted frames and the simulation time they spanned.
type FrameCounter struct {
	frames   int
	duration time.Duration
}

// Reset zeroes the counter.
func (c *FrameCounter) Reset() {
	c.frames = 0
	c.duration = 0
}

// Increment counts one frame.
func (c *FrameCounter) Increment() {
	c.frames++
}

// AddDuration accumulates the time since the previous capture.
func (c *FrameCounter) AddDuration(d time.Duration) {
	if d > 0 {
		c.duration += d
	}
}

// Total returns the number of counted frames.
func (c *FrameCounter) Total() int {
	return c.frames
}

// Duration returns the accumulated simulation time.
func (c *FrameCounter) Duration() time.Duration {
	return c.duration
}
