package engine

import (
	"errors"
	"time"

	"macrostudio/models"
)

// Gateway error classes. InputRejected fails the current action and the run
// moves on; GatewayUnavailable is unrecoverable and fails the whole run.
var (
	ErrInputRejected      = errors.New("input rejected")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
)

// Point is a screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Region is a matched screen rectangle.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Center returns the click target for a matched region.
func (r Region) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// ImageCheck describes one template probe.
type ImageCheck struct {
	Value      string
	Confidence float64
	Region     *Region
}

// InputGateway injects keyboard and mouse effects. A nil point means "at the
// current pointer position" where the action allows it.
type InputGateway interface {
	PressKey(key string) error
	KeyDown(key string) error
	KeyUp(key string) error
	TypeText(text string, interval time.Duration) error
	Hotkey(keys []string) error
	MoveMouse(p Point, duration time.Duration) error
	MoveMouseRel(dx, dy int, duration time.Duration) error
	MouseDown(button string, p *Point) error
	MouseUp(button string, p *Point) error
	Click(button string, p *Point) error
	DragTo(p Point, button string, duration time.Duration) error
	Scroll(amount int, p *Point) error
}

// ImageGateway performs one synchronous template probe. (nil, nil) means the
// template was not found; the engine owns all polling and timeouts.
type ImageGateway interface {
	FindImage(check ImageCheck) (*Region, error)
}

// EventSink receives run events in execution order. Publish is called from
// the run's worker goroutine only and should not block for long.
type EventSink interface {
	Publish(event models.RunEvent)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(event models.RunEvent)

func (f SinkFunc) Publish(event models.RunEvent) { f(event) }
