// Package gateway holds the concrete input and image gateways used against a
// live desktop. Each is a thin wrapper around an external tool (xdotool for
// input injection, scrot plus visgrep for template probing); the engine only
// ever sees the interfaces.
package gateway

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"macrostudio/engine"
	"macrostudio/models"
)

// commandRunner executes an external command and returns its stdout.
// Injected so tests can capture argv without a real desktop.
type commandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// XdotoolGateway injects keyboard and mouse input through the xdotool
// binary.
type XdotoolGateway struct {
	path string
	run  commandRunner
}

func NewXdotoolGateway() *XdotoolGateway {
	return &XdotoolGateway{path: "xdotool", run: execRunner}
}

func (g *XdotoolGateway) exec(args ...string) error {
	_, err := g.run(g.path, args...)
	if err == nil {
		return nil
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		// The binary itself is missing or unusable; no action can succeed.
		return fmt.Errorf("%w: %v", engine.ErrGatewayUnavailable, err)
	}
	return fmt.Errorf("%w: xdotool %s: %v", engine.ErrInputRejected, args[0], err)
}

func (g *XdotoolGateway) PressKey(key string) error {
	return g.exec("key", key)
}

func (g *XdotoolGateway) KeyDown(key string) error {
	return g.exec("keydown", key)
}

func (g *XdotoolGateway) KeyUp(key string) error {
	return g.exec("keyup", key)
}

func (g *XdotoolGateway) TypeText(text string, interval time.Duration) error {
	args := []string{"type"}
	if interval > 0 {
		args = append(args, "--delay", strconv.Itoa(int(interval.Milliseconds())))
	}
	args = append(args, "--", text)
	return g.exec(args...)
}

func (g *XdotoolGateway) Hotkey(keys []string) error {
	return g.exec("key", strings.Join(keys, "+"))
}

// MoveMouse warps the pointer. xdotool has no timed glide; the duration is
// honored as a plain delay after the move so macro pacing stays comparable.
func (g *XdotoolGateway) MoveMouse(p engine.Point, duration time.Duration) error {
	if err := g.exec("mousemove", "--sync", strconv.Itoa(p.X), strconv.Itoa(p.Y)); err != nil {
		return err
	}
	if duration > 0 {
		time.Sleep(duration)
	}
	return nil
}

func (g *XdotoolGateway) MoveMouseRel(dx, dy int, duration time.Duration) error {
	if err := g.exec("mousemove_relative", "--sync", "--", strconv.Itoa(dx), strconv.Itoa(dy)); err != nil {
		return err
	}
	if duration > 0 {
		time.Sleep(duration)
	}
	return nil
}

func (g *XdotoolGateway) MouseDown(button string, p *engine.Point) error {
	if err := g.moveTo(p); err != nil {
		return err
	}
	return g.exec("mousedown", buttonNumber(button))
}

func (g *XdotoolGateway) MouseUp(button string, p *engine.Point) error {
	if err := g.moveTo(p); err != nil {
		return err
	}
	return g.exec("mouseup", buttonNumber(button))
}

func (g *XdotoolGateway) Click(button string, p *engine.Point) error {
	if err := g.moveTo(p); err != nil {
		return err
	}
	return g.exec("click", buttonNumber(button))
}

func (g *XdotoolGateway) DragTo(p engine.Point, button string, duration time.Duration) error {
	if err := g.exec("mousedown", buttonNumber(button)); err != nil {
		return err
	}
	if duration > 0 {
		time.Sleep(duration)
	}
	moveErr := g.exec("mousemove", "--sync", strconv.Itoa(p.X), strconv.Itoa(p.Y))
	upErr := g.exec("mouseup", buttonNumber(button))
	if moveErr != nil {
		return moveErr
	}
	return upErr
}

// Scroll maps wheel steps to X11 buttons 4 (up) and 5 (down).
func (g *XdotoolGateway) Scroll(amount int, p *engine.Point) error {
	if err := g.moveTo(p); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}

	wheel := "4"
	if amount < 0 {
		wheel = "5"
		amount = -amount
	}
	return g.exec("click", "--repeat", strconv.Itoa(amount), wheel)
}

func (g *XdotoolGateway) moveTo(p *engine.Point) error {
	if p == nil {
		return nil
	}
	return g.exec("mousemove", "--sync", strconv.Itoa(p.X), strconv.Itoa(p.Y))
}

func buttonNumber(button string) string {
	switch button {
	case models.ButtonMiddle:
		return "2"
	case models.ButtonRight:
		return "3"
	default:
		return "1"
	}
}
