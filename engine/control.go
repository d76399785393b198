package engine

import "sync"

// Controls is the signal path between external producers (API handlers,
// hotkey listeners) and one run's worker goroutine. Any number of producers
// may signal concurrently; no call ever blocks. Stop and EmergencyStop are
// idempotent, Pause while paused and Resume while running are no-ops.
//
// Stop-class signals are closed channels so wait loops can select on them;
// pause is a gate channel recreated on every Pause and closed on Resume.
type Controls struct {
	stopOnce  sync.Once
	estopOnce sync.Once
	stop      chan struct{}
	estop     chan struct{}

	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func newControls() *Controls {
	return &Controls{
		stop:  make(chan struct{}),
		estop: make(chan struct{}),
	}
}

// Stop requests an orderly stop: the in-flight action finishes, no new
// action starts.
func (c *Controls) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// EmergencyStop requests immediate abandonment of the run.
func (c *Controls) EmergencyStop() {
	c.estopOnce.Do(func() { close(c.estop) })
}

// Pause parks the run before its next action or wait granule.
func (c *Controls) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resume = make(chan struct{})
	}
}

// Resume releases a paused run.
func (c *Controls) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resume)
	}
}

func (c *Controls) stopRequested() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Controls) emergencyRequested() bool {
	select {
	case <-c.estop:
		return true
	default:
		return false
	}
}

// pauseGate returns the channel a paused worker must wait on, or nil when
// the run is not paused.
func (c *Controls) pauseGate() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return nil
	}
	return c.resume
}
