package domain

// StepCounter translates a cumulative, sensor-process-lifetime counter into a
// per-session delta. The sensor counter never resets itself; the counter
// instead captures a baseline at session start and subtracts it from every
// subsequent reading.
type StepCounter struct {
	armNext  bool
	armed    bool
	baseline int64
	last     int64
}

// Begin prepares the counter for a session segment. For a new session (or
// when no baseline was ever captured) the next reading becomes the baseline,
// so the delta at that instant is zero. On resume the previous baseline is
// retained: the sensor keeps counting through the pause, and steps taken
// while paused count toward the session total.
func (c *StepCounter) Begin(newSession bool) {
	if newSession || !c.armed {
		c.armNext = true
		c.armed = false
		c.last = 0
	}
}

// OnReading folds one cumulative reading into the session delta. The delta is
// clamped at zero so sensor resets can never drive the count negative.
func (c *StepCounter) OnReading(raw int64) int64 {
	if c.armNext {
		c.baseline = raw
		c.armNext = false
		c.armed = true
	}
	delta := raw - c.baseline
	if delta < 0 {
		delta = 0
	}
	c.last = delta
	return delta
}

// Steps returns the last known session delta. When the sensor is unavailable
// this simply stays at its last value (possibly zero) and never blocks
// completing the walk.
func (c *StepCounter) Steps() int64 { return c.last }
