package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStopIsIdempotent(t *testing.T) {
	c := newControls()
	assert.False(t, c.stopRequested())

	c.Stop()
	c.Stop()
	assert.True(t, c.stopRequested())
	assert.False(t, c.emergencyRequested())
}

func TestEmergencyStopIsIdempotent(t *testing.T) {
	c := newControls()

	c.EmergencyStop()
	c.EmergencyStop()
	assert.True(t, c.emergencyRequested())
	assert.False(t, c.stopRequested())
}

func TestPauseAndResumeGate(t *testing.T) {
	c := newControls()
	assert.Nil(t, c.pauseGate())

	// Resume without a pause is a no-op
	c.Resume()
	assert.Nil(t, c.pauseGate())

	c.Pause()
	gate := c.pauseGate()
	assert.NotNil(t, gate)

	// Pause while paused keeps the same gate
	c.Pause()
	assert.Equal(t, gate, c.pauseGate())

	c.Resume()
	assert.Nil(t, c.pauseGate())

	// The released gate is closed, so a parked worker wakes up
	select {
	case <-gate:
	default:
		t.Fatal("resume did not close the pause gate")
	}
}

func TestConcurrentProducersNeverBlock(t *testing.T) {
	c := newControls()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			switch n % 4 {
			case 0:
				c.Pause()
			case 1:
				c.Resume()
			case 2:
				c.Stop()
			case 3:
				c.EmergencyStop()
			}
		}(i)
	}
	wg.Wait()

	assert.True(t, c.stopRequested())
	assert.True(t, c.emergencyRequested())
}
