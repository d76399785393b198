// Package engine executes validated macro definitions against the input and
// image gateways, one run at a time, under external pause/stop control.
package engine

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"macrostudio/macro"
	"macrostudio/models"
)

// ErrAlreadyRunning is returned by Start while a run is active. Runs are
// never queued or merged.
var ErrAlreadyRunning = errors.New("a run is already active")

// Control-flow sentinels used to unwind the action walk.
var (
	errStopRequested = errors.New("stop requested")
	errEmergencyStop = errors.New("emergency stop")
	errMaxSteps      = errors.New("max steps reached")
	errImageNotFound = errors.New("image not found")
)

// fatalError marks an unrecoverable gateway fault that fails the whole run.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

const (
	// waitGranule bounds how long Pause/Stop/EmergencyStop can go unnoticed
	// inside a plain wait.
	waitGranule = 50 * time.Millisecond

	// defaultPollInterval is used by image waits that do not set interval_ms.
	defaultPollInterval = 200 * time.Millisecond

	// minPollInterval keeps image polling from busy-spinning.
	minPollInterval = 10 * time.Millisecond
)

// Engine drives macro runs. Exactly one background worker exists per run;
// that worker is the only writer of run state and the step counter.
type Engine struct {
	input   InputGateway
	image   ImageGateway
	sink    EventSink
	granule time.Duration

	mu  sync.Mutex
	run *run
}

func NewEngine(input InputGateway, image ImageGateway, sink EventSink) *Engine {
	return &Engine{
		input:   input,
		image:   image,
		sink:    sink,
		granule: waitGranule,
	}
}

// run is the engine-owned state of one active run.
type run struct {
	id        string
	macro     *models.MacroDefinition
	controls  *Controls
	done      chan struct{}
	startedAt time.Time

	state atomic.Int32
	steps atomic.Int64

	// Input held down by key_down/mouse_down without a matching release,
	// tracked so EmergencyStop can let go of it. Worker-only.
	heldKeys    []string
	heldButtons []string
}

func (r *run) currentState() models.RunState {
	return models.RunState(r.state.Load())
}

// Start validates nothing: it expects a definition that already passed the
// validator. It rejects a second concurrent run and spawns the worker.
func (e *Engine) Start(def *models.MacroDefinition) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return "", ErrAlreadyRunning
	}

	r := &run{
		id:        uuid.NewString(),
		macro:     def,
		controls:  newControls(),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	e.run = r

	go e.runMacro(r)
	return r.id, nil
}

// Pause parks the active run; no-op when idle or already paused.
func (e *Engine) Pause() {
	if r := e.activeRun(); r != nil {
		r.controls.Pause()
	}
}

// Resume releases a paused run; no-op otherwise.
func (e *Engine) Resume() {
	if r := e.activeRun(); r != nil {
		r.controls.Resume()
	}
}

// Stop requests an orderly stop of the active run; no-op when idle.
func (e *Engine) Stop() {
	if r := e.activeRun(); r != nil {
		r.controls.Stop()
	}
}

// EmergencyStop abandons the active run as fast as one wait granule allows
// and releases any held input; no-op when idle.
func (e *Engine) EmergencyStop() {
	if r := e.activeRun(); r != nil {
		r.controls.EmergencyStop()
	}
}

// Status reports the read-only mirror of the active run.
func (e *Engine) Status() models.RunStatus {
	r := e.activeRun()
	if r == nil {
		return models.RunStatus{State: models.StateIdle}
	}
	return models.RunStatus{
		RunID:         r.id,
		State:         r.currentState(),
		MacroName:     r.macro.Name,
		StepsExecuted: int(r.steps.Load()),
		StartedAt:     r.startedAt.Unix(),
	}
}

// Shutdown stops the active run and waits up to timeout for the worker to
// finish.
func (e *Engine) Shutdown(timeout time.Duration) {
	r := e.activeRun()
	if r == nil {
		return
	}
	r.controls.Stop()
	select {
	case <-r.done:
	case <-time.After(timeout):
		log.Printf("run %s: shutdown timed out after %v", r.id, timeout)
	}
}

func (e *Engine) activeRun() *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run
}

// runMacro is the worker goroutine body: execute, then settle terminal
// state, release held input if needed, and emit run_finished.
func (e *Engine) runMacro(r *run) {
	defer close(r.done)

	e.setState(r, models.StateRunning)
	log.Printf("run %s: macro %q started", r.id, r.macro.Name)

	reason, runErr := e.executeMacro(r)

	if reason == models.ReasonEmergencyStop {
		e.releaseHeld(r)
	}

	switch reason {
	case models.ReasonFailed:
		e.setState(r, models.StateFailed)
	case models.ReasonStopped:
		e.setState(r, models.StateStopping)
		e.setState(r, models.StateStopped)
	default:
		e.setState(r, models.StateStopped)
	}

	ev := models.NewRunEvent(models.EventRunFinished, r.id)
	ev.Reason = reason
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	e.publish(ev)
	log.Printf("run %s: finished (%s) after %d steps in %v",
		r.id, reason, r.steps.Load(), time.Since(r.startedAt).Round(time.Millisecond))

	e.mu.Lock()
	if e.run == r {
		e.run = nil
	}
	e.mu.Unlock()
}

func (e *Engine) executeMacro(r *run) (string, error) {
	repeat := r.macro.Settings.Repeat

	for pass := 1; ; pass++ {
		if repeat > 0 {
			e.logEvent(r, fmt.Sprintf("pass %d/%d", pass, repeat))
		} else {
			e.logEvent(r, fmt.Sprintf("pass %d (repeat until stopped)", pass))
		}

		if err := e.executeActions(r, r.macro.Actions); err != nil {
			switch {
			case errors.Is(err, errStopRequested):
				return models.ReasonStopped, nil
			case errors.Is(err, errEmergencyStop):
				return models.ReasonEmergencyStop, nil
			case errors.Is(err, errMaxSteps):
				e.logEvent(r, "max_steps reached")
				return models.ReasonMaxSteps, nil
			default:
				return models.ReasonFailed, err
			}
		}

		if repeat > 0 && pass >= repeat {
			return models.ReasonCompleted, nil
		}

		// An empty action list with repeat=0 would otherwise spin.
		if len(r.macro.Actions) == 0 {
			if err := e.sleepWithControl(r, e.granule); err != nil {
				return reasonForControl(err), nil
			}
		}
	}
}

func reasonForControl(err error) string {
	if errors.Is(err, errEmergencyStop) {
		return models.ReasonEmergencyStop
	}
	return models.ReasonStopped
}

func (e *Engine) executeActions(r *run, actions []models.Action) error {
	for i := range actions {
		if err := e.executeAction(r, i, &actions[i]); err != nil {
			return err
		}
	}
	return nil
}

// executeAction runs one action and, on success, its post_action chain. Each
// link in the chain is a separately counted step behind its own control
// checkpoint and max_steps check.
func (e *Engine) executeAction(r *run, index int, a *models.Action) error {
	if err := e.checkpoint(r); err != nil {
		return err
	}
	if r.steps.Load() >= int64(r.macro.Settings.MaxSteps) {
		return errMaxSteps
	}
	r.steps.Add(1)

	ev := models.NewRunEvent(models.EventActionStarted, r.id)
	ev.Index = index
	ev.ActionType = a.Type
	e.publish(ev)

	if err := e.dispatch(r, a); err != nil {
		if isControlErr(err) {
			return err
		}
		if errors.Is(err, ErrGatewayUnavailable) {
			return &fatalError{err: err}
		}

		// Per-action failure: report it, skip the post_action, move on.
		fail := models.NewRunEvent(models.EventActionFailed, r.id)
		fail.Index = index
		fail.ActionType = a.Type
		fail.ErrorKind = errorKind(err)
		fail.Error = err.Error()
		e.publish(fail)
		log.Printf("run %s: action %d (%s) failed: %v", r.id, index, a.Type, err)
		return nil
	}

	done := models.NewRunEvent(models.EventActionCompleted, r.id)
	done.Index = index
	done.ActionType = a.Type
	e.publish(done)

	if a.PostAction != nil {
		return e.executeAction(r, index, a.PostAction)
	}
	return nil
}

func isControlErr(err error) bool {
	return errors.Is(err, errStopRequested) ||
		errors.Is(err, errEmergencyStop) ||
		errors.Is(err, errMaxSteps)
}

func errorKind(err error) string {
	if errors.Is(err, errImageNotFound) {
		return models.ErrKindImageNotFound
	}
	return models.ErrKindInputRejected
}

// dispatch maps one action variant to its gateway effect. The validator has
// already guaranteed the fields each case reads.
func (e *Engine) dispatch(r *run, a *models.Action) error {
	switch a.Type {
	case models.ActionClick:
		return e.input.Click(a.ButtonOrDefault(), optionalPoint(a))

	case models.ActionClickAt:
		return e.input.Click(a.ButtonOrDefault(), &Point{X: *a.X, Y: *a.Y})

	case models.ActionKeyPress:
		return e.input.PressKey(a.Key)

	case models.ActionKeyDown:
		if err := e.input.KeyDown(a.Key); err != nil {
			return err
		}
		r.heldKeys = append(r.heldKeys, a.Key)
		return nil

	case models.ActionKeyUp:
		if err := e.input.KeyUp(a.Key); err != nil {
			return err
		}
		r.heldKeys = remove(r.heldKeys, a.Key)
		return nil

	case models.ActionTypeText:
		return e.input.TypeText(*a.Text, msToDuration(a.IntervalMS, 0))

	case models.ActionHotkey:
		keys, err := macro.NormalizeCombo(a.Keys)
		if err != nil {
			return err
		}
		return e.input.Hotkey(keys)

	case models.ActionWait:
		return e.sleepWithControl(r, msToDuration(a.DurationMS, 0))

	case models.ActionWaitRandom:
		return e.sleepWithControl(r, randomDuration(*a.MinMS, *a.MaxMS))

	case models.ActionMouseDown:
		button := a.ButtonOrDefault()
		if err := e.input.MouseDown(button, optionalPoint(a)); err != nil {
			return err
		}
		r.heldButtons = append(r.heldButtons, button)
		return nil

	case models.ActionMouseUp:
		button := a.ButtonOrDefault()
		if err := e.input.MouseUp(button, optionalPoint(a)); err != nil {
			return err
		}
		r.heldButtons = remove(r.heldButtons, button)
		return nil

	case models.ActionMoveMouse:
		return e.input.MoveMouse(Point{X: *a.X, Y: *a.Y}, msToDuration(a.DurationMS, 0))

	case models.ActionMoveMouseRel:
		return e.input.MoveMouseRel(*a.DX, *a.DY, msToDuration(a.DurationMS, 0))

	case models.ActionDragTo:
		return e.input.DragTo(Point{X: *a.X, Y: *a.Y}, a.ButtonOrDefault(), msToDuration(a.DurationMS, 0))

	case models.ActionScroll:
		return e.input.Scroll(*a.Amount, optionalPoint(a))

	case models.ActionWaitForImage:
		_, err := e.waitForImage(r, a)
		return err

	case models.ActionClickImage:
		region, err := e.waitForImage(r, a)
		if err != nil {
			return err
		}
		center := region.Center()
		return e.input.Click(a.ButtonOrDefault(), &center)

	case models.ActionIf:
		return e.executeIf(r, a)

	default:
		return fmt.Errorf("unknown action type: %s", a.Type)
	}
}

// waitForImage polls the image gateway until the template is found, the
// timeout expires, or a stop-class signal arrives. timeout_ms = 0 disables
// the timeout entirely.
func (e *Engine) waitForImage(r *run, a *models.Action) (*Region, error) {
	timeout := msToDuration(a.TimeoutMS, 0)
	interval := pollInterval(a.IntervalMS)
	check := imageCheck(a)

	start := time.Now()
	for {
		if err := e.checkpoint(r); err != nil {
			return nil, err
		}

		region, err := e.image.FindImage(check)
		if err != nil {
			return nil, err
		}
		if region != nil {
			return region, nil
		}

		if timeout > 0 && time.Since(start) >= timeout {
			return nil, fmt.Errorf("%w: %s after %v", errImageNotFound, check.Value, timeout)
		}

		if err := e.sleepWithControl(r, interval); err != nil {
			return nil, err
		}
	}
}

// executeIf evaluates an image condition, optionally waiting for it, then
// walks the matching branch. A timed-out condition is a false branch, not a
// failure.
func (e *Engine) executeIf(r *run, a *models.Action) error {
	timeout := msToDuration(a.TimeoutMS, 0)
	check := imageCheck(a)

	var matched bool
	if timeout <= 0 {
		if err := e.checkpoint(r); err != nil {
			return err
		}
		region, err := e.image.FindImage(check)
		if err != nil {
			return err
		}
		matched = region != nil
	} else {
		region, err := e.waitForImage(r, a)
		if err != nil && !errors.Is(err, errImageNotFound) {
			return err
		}
		matched = region != nil
	}

	e.logEvent(r, fmt.Sprintf("if %s -> %t", check.Value, matched))

	branch := a.OnFalse
	if matched {
		branch = a.OnTrue
	}
	return e.executeActions(r, branch)
}

// sleepWithControl sleeps in bounded granules so a pending signal is
// observed within one granule rather than after the full duration.
func (e *Engine) sleepWithControl(r *run, d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		if err := e.checkpoint(r); err != nil {
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining > e.granule {
			remaining = e.granule
		}

		timer := time.NewTimer(remaining)
		select {
		case <-r.controls.estop:
			timer.Stop()
			return errEmergencyStop
		case <-r.controls.stop:
			timer.Stop()
			return errStopRequested
		case <-timer.C:
		}
	}
}

// checkpoint is the cooperative cancellation point polled before and after
// every action and at every wait granule. It parks the worker while the run
// is paused.
func (e *Engine) checkpoint(r *run) error {
	c := r.controls
	for {
		if c.emergencyRequested() {
			return errEmergencyStop
		}
		if c.stopRequested() {
			return errStopRequested
		}

		gate := c.pauseGate()
		if gate == nil {
			return nil
		}

		e.setState(r, models.StatePaused)
		select {
		case <-c.estop:
			return errEmergencyStop
		case <-c.stop:
			return errStopRequested
		case <-gate:
			e.setState(r, models.StateRunning)
		}
	}
}

// releaseHeld issues best-effort releases for input still held when a run is
// abandoned, so an emergency stop never leaves a key or button stuck down.
func (e *Engine) releaseHeld(r *run) {
	for i := len(r.heldKeys) - 1; i >= 0; i-- {
		if err := e.input.KeyUp(r.heldKeys[i]); err != nil {
			log.Printf("run %s: failed to release key %q: %v", r.id, r.heldKeys[i], err)
		}
	}
	for i := len(r.heldButtons) - 1; i >= 0; i-- {
		if err := e.input.MouseUp(r.heldButtons[i], nil); err != nil {
			log.Printf("run %s: failed to release button %q: %v", r.id, r.heldButtons[i], err)
		}
	}
	r.heldKeys = nil
	r.heldButtons = nil
}

func (e *Engine) setState(r *run, s models.RunState) {
	if r.currentState() == s {
		return
	}
	r.state.Store(int32(s))

	ev := models.NewRunEvent(models.EventStateChanged, r.id)
	ev.State = s.String()
	e.publish(ev)
	log.Printf("run %s: %s", r.id, s)
}

func (e *Engine) logEvent(r *run, message string) {
	ev := models.NewRunEvent(models.EventLog, r.id)
	ev.Message = message
	e.publish(ev)
	log.Printf("run %s: %s", r.id, message)
}

func (e *Engine) publish(ev models.RunEvent) {
	if e.sink != nil {
		e.sink.Publish(ev)
	}
}

func optionalPoint(a *models.Action) *Point {
	if a.X == nil || a.Y == nil {
		return nil
	}
	return &Point{X: *a.X, Y: *a.Y}
}

func imageCheck(a *models.Action) ImageCheck {
	check := ImageCheck{Value: a.Value, Confidence: 0.9}
	if a.Confidence != nil {
		check.Confidence = *a.Confidence
	}
	if len(a.Region) == 4 {
		check.Region = &Region{X: a.Region[0], Y: a.Region[1], W: a.Region[2], H: a.Region[3]}
	}
	return check
}

func msToDuration(ms *int, fallback time.Duration) time.Duration {
	if ms == nil {
		return fallback
	}
	return time.Duration(*ms) * time.Millisecond
}

func pollInterval(ms *int) time.Duration {
	interval := msToDuration(ms, defaultPollInterval)
	if interval < minPollInterval {
		interval = minPollInterval
	}
	return interval
}

func randomDuration(minMS, maxMS int) time.Duration {
	if maxMS < minMS {
		minMS, maxMS = maxMS, minMS
	}
	span := maxMS - minMS + 1
	return time.Duration(minMS+rand.Intn(span)) * time.Millisecond
}

func remove(held []string, value string) []string {
	for i := len(held) - 1; i >= 0; i-- {
		if held[i] == value {
			return append(held[:i], held[i+1:]...)
		}
	}
	return held
}
