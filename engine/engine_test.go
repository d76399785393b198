package engine

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macrostudio/models"
)

// fakeInput records every gateway call and can fail or hook individual ops.
type fakeInput struct {
	mu     sync.Mutex
	calls  []string
	errs   map[string]error
	onCall func(op string)
}

func newFakeInput() *fakeInput {
	return &fakeInput{errs: make(map[string]error)}
}

func (f *fakeInput) record(op string, detail string) error {
	f.mu.Lock()
	call := op
	if detail != "" {
		call = op + " " + detail
	}
	f.calls = append(f.calls, call)
	err := f.errs[op]
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	return err
}

func (f *fakeInput) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeInput) countCalls(op string) int {
	n := 0
	for _, call := range f.callList() {
		if call == op || strings.HasPrefix(call, op+" ") {
			n++
		}
	}
	return n
}

func pointDetail(p *Point) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("@%d,%d", p.X, p.Y)
}

func (f *fakeInput) PressKey(key string) error { return f.record("press", key) }
func (f *fakeInput) KeyDown(key string) error  { return f.record("keydown", key) }
func (f *fakeInput) KeyUp(key string) error    { return f.record("keyup", key) }

func (f *fakeInput) TypeText(text string, _ time.Duration) error {
	return f.record("type", text)
}

func (f *fakeInput) Hotkey(keys []string) error {
	return f.record("hotkey", strings.Join(keys, "+"))
}

func (f *fakeInput) MoveMouse(p Point, _ time.Duration) error {
	return f.record("move", fmt.Sprintf("@%d,%d", p.X, p.Y))
}

func (f *fakeInput) MoveMouseRel(dx, dy int, _ time.Duration) error {
	return f.record("moverel", fmt.Sprintf("%d,%d", dx, dy))
}

func (f *fakeInput) MouseDown(button string, p *Point) error {
	return f.record("mousedown", strings.TrimSpace(button+" "+pointDetail(p)))
}

func (f *fakeInput) MouseUp(button string, p *Point) error {
	return f.record("mouseup", strings.TrimSpace(button+" "+pointDetail(p)))
}

func (f *fakeInput) Click(button string, p *Point) error {
	return f.record("click", strings.TrimSpace(button+" "+pointDetail(p)))
}

func (f *fakeInput) DragTo(p Point, button string, _ time.Duration) error {
	return f.record("drag", fmt.Sprintf("%s @%d,%d", button, p.X, p.Y))
}

func (f *fakeInput) Scroll(amount int, p *Point) error {
	return f.record("scroll", strings.TrimSpace(fmt.Sprintf("%d %s", amount, pointDetail(p))))
}

// fakeImage answers probes with a fixed result and can hook each probe.
type fakeImage struct {
	mu      sync.Mutex
	region  *Region
	err     error
	probes  int
	onProbe func(probe int)
}

func (f *fakeImage) FindImage(_ ImageCheck) (*Region, error) {
	f.mu.Lock()
	f.probes++
	probe := f.probes
	region, err := f.region, f.err
	hook := f.onProbe
	f.mu.Unlock()

	if hook != nil {
		hook(probe)
	}
	return region, err
}

// recordingSink buffers published events for test assertions.
type recordingSink struct {
	events chan models.RunEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan models.RunEvent, 1024)}
}

func (s *recordingSink) Publish(ev models.RunEvent) {
	s.events <- ev
}

// waitFor drains events until one matches, failing the test on timeout.
func (s *recordingSink) waitFor(t *testing.T, eventType string, timeout time.Duration) models.RunEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-s.events:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
			return models.RunEvent{}
		}
	}
}

// collectUntilFinished drains all events through run_finished.
func (s *recordingSink) collectUntilFinished(t *testing.T, timeout time.Duration) []models.RunEvent {
	t.Helper()
	var events []models.RunEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-s.events:
			events = append(events, ev)
			if ev.Type == models.EventRunFinished {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for run_finished (got %d events)", len(events))
			return nil
		}
	}
}

func countEvents(events []models.RunEvent, eventType string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func testDef(repeat, maxSteps int, actions ...models.Action) *models.MacroDefinition {
	return &models.MacroDefinition{
		SchemaVersion: models.SchemaVersion,
		Name:          "test macro",
		Settings:      models.MacroSettings{Repeat: repeat, MaxSteps: maxSteps},
		Actions:       actions,
	}
}

func newTestEngine(input *fakeInput, image *fakeImage, sink *recordingSink) *Engine {
	eng := NewEngine(input, image, sink)
	eng.granule = 10 * time.Millisecond
	return eng
}

func TestRunExecutesAllRepeatPasses(t *testing.T) {
	input := newFakeInput()
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	_, err := eng.Start(testDef(2, 100,
		models.Action{Type: models.ActionClick},
		models.Action{Type: models.ActionKeyPress, Key: "a"},
	))
	require.NoError(t, err)

	events := sink.collectUntilFinished(t, 5*time.Second)
	finished := events[len(events)-1]
	assert.Equal(t, models.ReasonCompleted, finished.Reason)
	assert.Equal(t, 4, countEvents(events, models.EventActionCompleted))
	assert.Equal(t, 2, input.countCalls("click"))
	assert.Equal(t, 2, input.countCalls("press"))
}

func TestPostActionChainRunsAsSeparateSteps(t *testing.T) {
	input := newFakeInput()
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	_, err := eng.Start(testDef(1, 100, models.Action{
		Type: models.ActionClick,
		PostAction: &models.Action{
			Type: models.ActionKeyPress,
			Key:  "a",
			PostAction: &models.Action{
				Type: models.ActionTypeText,
				Text: strPtr("hi"),
			},
		},
	}))
	require.NoError(t, err)

	events := sink.collectUntilFinished(t, 5*time.Second)
	assert.Equal(t, 3, countEvents(events, models.EventActionCompleted))
	assert.Equal(t, []string{"click", "press a", "type hi"}, input.callList())

	for _, ev := range events {
		if ev.Type == models.EventActionStarted {
			assert.Equal(t, 0, ev.Index)
		}
	}
}

func TestFailedActionSkipsPostActionAndContinues(t *testing.T) {
	input := newFakeInput()
	input.errs["click"] = ErrInputRejected
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	_, err := eng.Start(testDef(1, 100,
		models.Action{
			Type:       models.ActionClick,
			PostAction: &models.Action{Type: models.ActionKeyPress, Key: "a"},
		},
		models.Action{Type: models.ActionTypeText, Text: strPtr("next")},
	))
	require.NoError(t, err)

	events := sink.collectUntilFinished(t, 5*time.Second)
	finished := events[len(events)-1]
	assert.Equal(t, models.ReasonCompleted, finished.Reason)

	assert.Equal(t, 1, countEvents(events, models.EventActionFailed))
	for _, ev := range events {
		if ev.Type == models.EventActionFailed {
			assert.Equal(t, models.ErrKindInputRejected, ev.ErrorKind)
		}
	}

	// post_action of the failed click never ran; the next action did
	assert.Equal(t, 0, input.countCalls("press"))
	assert.Equal(t, 1, input.countCalls("type"))
}

func TestStopAfterThirdClickYieldsExactlyThreeCompletions(t *testing.T) {
	input := newFakeInput()
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	input.onCall = func(op string) {
		if op == "click" && input.countCalls("click") == 3 {
			eng.Stop()
		}
	}

	_, err := eng.Start(testDef(0, 100, models.Action{Type: models.ActionClick}))
	require.NoError(t, err)

	events := sink.collectUntilFinished(t, 5*time.Second)
	finished := events[len(events)-1]
	assert.Equal(t, models.ReasonStopped, finished.Reason)
	assert.Equal(t, 3, countEvents(events, models.EventActionCompleted))
	assert.Equal(t, 3, input.countCalls("click"))
}

func TestMaxStepsEndsUnboundedRun(t *testing.T) {
	input := newFakeInput()
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	_, err := eng.Start(testDef(0, 5, models.Action{Type: models.ActionClick}))
	require.NoError(t, err)

	events := sink.collectUntilFinished(t, 5*time.Second)
	finished := events[len(events)-1]
	assert.Equal(t, models.ReasonMaxSteps, finished.Reason)
	assert.Equal(t, 5, input.countCalls("click"))
}

func TestImageWaitTimesOutAsActionFailure(t *testing.T) {
	input := newFakeInput()
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	started := time.Now()
	_, err := eng.Start(testDef(1, 100, models.Action{
		Type:       models.ActionWaitForImage,
		Value:      "button.png",
		TimeoutMS:  intPtr(500),
		IntervalMS: intPtr(50),
	}))
	require.NoError(t, err)

	events := sink.collectUntilFinished(t, 5*time.Second)
	elapsed := time.Since(started)

	finished := events[len(events)-1]
	assert.Equal(t, models.ReasonCompleted, finished.Reason)
	assert.Equal(t, 1, countEvents(events, models.EventActionFailed))
	for _, ev := range events {
		if ev.Type == models.EventActionFailed {
			assert.Equal(t, models.ErrKindImageNotFound, ev.ErrorKind)
		}
	}

	assert.GreaterOrEqual(t, elapsed, 450*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestZeroTimeoutImageWaitEndsOnlyByEmergencyStop(t *testing.T) {
	input := newFakeInput()
	image := &fakeImage{}
	sink := newRecordingSink()
	eng := newTestEngine(input, image, sink)

	probed := make(chan struct{})
	var once sync.Once
	image.onProbe = func(int) {
		once.Do(func() { close(probed) })
	}

	_, err := eng.Start(testDef(1, 100, models.Action{
		Type:       models.ActionWaitForImage,
		Value:      "button.png",
		TimeoutMS:  intPtr(0),
		IntervalMS: intPtr(20),
	}))
	require.NoError(t, err)

	<-probed
	signaled := time.Now()
	eng.EmergencyStop()

	events := sink.collectUntilFinished(t, 2*time.Second)
	finished := events[len(events)-1]
	assert.Equal(t, models.ReasonEmergencyStop, finished.Reason)
	assert.Less(t, time.Since(signaled), time.Second)
}

func TestClickImageClicksMatchCenter(t *testing.T) {
	input := newFakeInput()
	image := &fakeImage{region: &Region{X: 10, Y: 20, W: 30, H: 40}}
	sink := newRecordingSink()
	eng := newTestEngine(input, image, sink)

	_, err := eng.Start(testDef(1, 100, models.Action{
		Type:  models.ActionClickImage,
		Value: "button.png",
	}))
	require.NoError(t, err)

	events := sink.collectUntilFinished(t, 5*time.Second)
	assert.Equal(t, models.ReasonCompleted, events[len(events)-1].Reason)
	assert.Equal(t, []string{"click left @25,40"}, input.callList())
}

func TestEmergencyStopReleasesHeldInput(t *testing.T) {
	input := newFakeInput()
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	held := make(chan struct{})
	var once sync.Once
	input.onCall = func(op string) {
		if op == "mousedown" {
			once.Do(func() { close(held) })
		}
	}

	_, err := eng.Start(testDef(1, 100,
		models.Action{Type: models.ActionKeyDown, Key: "shift"},
		models.Action{Type: models.ActionMouseDown, Button: models.ButtonLeft},
		models.Action{Type: models.ActionWait, DurationMS: intPtr(5000)},
	))
	require.NoError(t, err)

	<-held
	eng.EmergencyStop()

	events := sink.collectUntilFinished(t, 2*time.Second)
	assert.Equal(t, models.ReasonEmergencyStop, events[len(events)-1].Reason)

	calls := input.callList()
	assert.Contains(t, calls, "keyup shift")
	assert.Contains(t, calls, "mouseup left")
}

func TestPauseParksRunUntilResume(t *testing.T) {
	input := newFakeInput()
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	input.onCall = func(op string) {
		if op == "click" {
			eng.Pause()
		}
	}

	_, err := eng.Start(testDef(1, 100,
		models.Action{Type: models.ActionClick},
		models.Action{Type: models.ActionKeyPress, Key: "a"},
	))
	require.NoError(t, err)

	paused := sink.waitFor(t, models.EventStateChanged, 2*time.Second)
	for paused.State != models.StatePaused.String() {
		paused = sink.waitFor(t, models.EventStateChanged, 2*time.Second)
	}

	// Parked: the second action must not start
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, input.countCalls("press"))

	eng.Resume()
	events := sink.collectUntilFinished(t, 5*time.Second)
	assert.Equal(t, models.ReasonCompleted, events[len(events)-1].Reason)
	assert.Equal(t, 1, input.countCalls("press"))
}

func TestStopWhilePausedEndsRun(t *testing.T) {
	input := newFakeInput()
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	input.onCall = func(op string) {
		if op == "click" {
			eng.Pause()
		}
	}

	_, err := eng.Start(testDef(1, 100,
		models.Action{Type: models.ActionClick},
		models.Action{Type: models.ActionKeyPress, Key: "a"},
	))
	require.NoError(t, err)

	paused := sink.waitFor(t, models.EventStateChanged, 2*time.Second)
	for paused.State != models.StatePaused.String() {
		paused = sink.waitFor(t, models.EventStateChanged, 2*time.Second)
	}

	eng.Stop()
	events := sink.collectUntilFinished(t, 2*time.Second)
	assert.Equal(t, models.ReasonStopped, events[len(events)-1].Reason)
	assert.Equal(t, 0, input.countCalls("press"))
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	input := newFakeInput()
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	_, err := eng.Start(testDef(1, 100,
		models.Action{Type: models.ActionWait, DurationMS: intPtr(5000)},
	))
	require.NoError(t, err)

	_, err = eng.Start(testDef(1, 100, models.Action{Type: models.ActionClick}))
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	eng.EmergencyStop()
	sink.collectUntilFinished(t, 2*time.Second)
}

func TestIfBranchesOnImagePresence(t *testing.T) {
	conditional := models.Action{
		Type:    models.ActionIf,
		Check:   "image",
		Value:   "dialog.png",
		OnTrue:  []models.Action{{Type: models.ActionKeyPress, Key: "enter"}},
		OnFalse: []models.Action{{Type: models.ActionKeyPress, Key: "escape"}},
	}

	t.Run("found", func(t *testing.T) {
		input := newFakeInput()
		sink := newRecordingSink()
		eng := newTestEngine(input, &fakeImage{region: &Region{X: 1, Y: 1, W: 2, H: 2}}, sink)

		_, err := eng.Start(testDef(1, 100, conditional))
		require.NoError(t, err)

		sink.collectUntilFinished(t, 5*time.Second)
		assert.Equal(t, []string{"press enter"}, input.callList())
	})

	t.Run("not found", func(t *testing.T) {
		input := newFakeInput()
		sink := newRecordingSink()
		eng := newTestEngine(input, &fakeImage{}, sink)

		_, err := eng.Start(testDef(1, 100, conditional))
		require.NoError(t, err)

		sink.collectUntilFinished(t, 5*time.Second)
		assert.Equal(t, []string{"press escape"}, input.callList())
	})
}

func TestUnavailableGatewayFailsRun(t *testing.T) {
	input := newFakeInput()
	input.errs["click"] = fmt.Errorf("%w: xdotool missing", ErrGatewayUnavailable)
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	_, err := eng.Start(testDef(1, 100,
		models.Action{Type: models.ActionClick},
		models.Action{Type: models.ActionKeyPress, Key: "a"},
	))
	require.NoError(t, err)

	events := sink.collectUntilFinished(t, 2*time.Second)
	finished := events[len(events)-1]
	assert.Equal(t, models.ReasonFailed, finished.Reason)
	assert.NotEmpty(t, finished.Error)

	failedState := false
	for _, ev := range events {
		if ev.Type == models.EventStateChanged && ev.State == models.StateFailed.String() {
			failedState = true
		}
	}
	assert.True(t, failedState)
	assert.Equal(t, 0, input.countCalls("press"))
}

func TestStatusReflectsActiveRun(t *testing.T) {
	input := newFakeInput()
	sink := newRecordingSink()
	eng := newTestEngine(input, &fakeImage{}, sink)

	assert.Equal(t, models.StateIdle, eng.Status().State)

	_, err := eng.Start(testDef(1, 100,
		models.Action{Type: models.ActionWait, DurationMS: intPtr(5000)},
	))
	require.NoError(t, err)

	sink.waitFor(t, models.EventActionStarted, 2*time.Second)
	status := eng.Status()
	assert.Equal(t, models.StateRunning, status.State)
	assert.Equal(t, "test macro", status.MacroName)
	assert.Equal(t, 1, status.StepsExecuted)

	eng.EmergencyStop()
	sink.collectUntilFinished(t, 2*time.Second)
	assert.Eventually(t, func() bool {
		return eng.Status().State == models.StateIdle
	}, time.Second, 10*time.Millisecond)
}
