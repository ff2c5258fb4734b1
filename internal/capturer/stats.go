package capturer

import "time"

// Stats summarize the progress of the current session.
type Stats struct {
	State       State         `json:"state"`
	Frames      int           `json:"frames"`
	FramesLeft  int           `json:"framesLeft"`
	Progress    float64       `json:"progress"`
	CapturedFPS float64       `json:"capturedFps"`
	Elapsed     time.Duration `json:"elapsed"`
	Remaining   time.Duration `json:"remaining"`
	SimTime     time.Duration `json:"simTime"`
}

// FrameCount returns the frames counted towards the limit.
func (c *Capturer) FrameCount() int {
	return c.counter.Total()
}

// CapturedDuration returns the wall time since the session started.
func (c *Capturer) CapturedDuration() time.Duration {
	return c.capturedFor
}

// CapturedFPS returns counted frames per wall-clock second.
func (c *Capturer) CapturedFPS() float64 {
	secs := c.capturedFor.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(c.counter.Total()) / secs
}

// FramesLeft returns the frames still to capture, or -1 when unbounded.
func (c *Capturer) FramesLeft() int {
	if c.settings.MaxFrames <= 0 {
		return -1
	}
	return max(c.settings.MaxFrames-c.counter.Total(), 0)
}

// Progress returns the completed fraction in [0, 1]. Unbounded sessions
// report 0.
func (c *Capturer) Progress() float64 {
	if c.settings.MaxFrames <= 0 {
		return 0
	}
	return min(float64(c.counter.Total())/float64(c.settings.MaxFrames), 1)
}

// EstimatedTimeRemaining extrapolates the current capture rate. It is 0
// when the rate is unknown or the session is unbounded.
func (c *Capturer) EstimatedTimeRemaining() time.Duration {
	left := c.FramesLeft()
	fps := c.CapturedFPS()
	if left <= 0 || fps <= 0 {
		return 0
	}
	return time.Duration(float64(left) / fps * float64(time.Second))
}

// Stats returns a snapshot of the session statistics.
func (c *Capturer) Stats() Stats {
	return Stats{
		State:       c.state,
		Frames:      c.counter.Total(),
		FramesLeft:  c.FramesLeft(),
		Progress:    c.Progress(),
		CapturedFPS: c.CapturedFPS(),
		Elapsed:     c.capturedFor,
		Remaining:   c.EstimatedTimeRemaining(),
		SimTime:     c.counter.Duration(),
	}
}
