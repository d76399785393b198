package gateway

import (
	"errors"
	"fmt"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"macrostudio/engine"
)

// ScreenGateway answers template probes by capturing the screen with scrot
// and scanning the capture with visgrep. One FindImage call is one probe;
// polling and timeouts belong to the engine.
type ScreenGateway struct {
	scrotPath   string
	visgrepPath string
	run         commandRunner
	searchDirs  []string
	capturePath string
}

// NewScreenGateway builds the gateway. searchDirs are tried in order when a
// template reference is a relative path.
func NewScreenGateway(searchDirs ...string) *ScreenGateway {
	if len(searchDirs) == 0 {
		searchDirs = []string{".", "assets/images", "assets", "macros"}
	}
	return &ScreenGateway{
		scrotPath:   "scrot",
		visgrepPath: "visgrep",
		run:         execRunner,
		searchDirs:  searchDirs,
		capturePath: filepath.Join(os.TempDir(), "macrostudio-capture.png"),
	}
}

func (g *ScreenGateway) FindImage(check engine.ImageCheck) (*engine.Region, error) {
	template, err := g.resolveTemplate(check.Value)
	if err != nil {
		return nil, err
	}

	tw, th, err := pngSize(template)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", template, err)
	}

	if err := g.capture(check.Region); err != nil {
		return nil, err
	}

	out, err := g.run(g.visgrepPath, "-t", strconv.Itoa(tolerance(check.Confidence)), g.capturePath, template)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			// visgrep exits 1 when the pattern is simply not on screen
			return nil, nil
		}
		return nil, fmt.Errorf("%w: visgrep: %v", engine.ErrGatewayUnavailable, err)
	}

	x, y, ok := parseMatch(string(out))
	if !ok {
		return nil, nil
	}

	// Match coordinates are relative to the capture; shift back to screen
	// space when a sub-region was grabbed.
	if check.Region != nil {
		x += check.Region.X
		y += check.Region.Y
	}
	return &engine.Region{X: x, Y: y, W: tw, H: th}, nil
}

func (g *ScreenGateway) capture(region *engine.Region) error {
	args := []string{"-o"}
	if region != nil {
		args = append(args, "-a", fmt.Sprintf("%d,%d,%d,%d", region.X, region.Y, region.W, region.H))
	}
	args = append(args, g.capturePath)

	if _, err := g.run(g.scrotPath, args...); err != nil {
		return fmt.Errorf("%w: screen capture failed: %v", engine.ErrGatewayUnavailable, err)
	}
	return nil
}

func (g *ScreenGateway) resolveTemplate(value string) (string, error) {
	if value == "" {
		return "", errors.New("image reference is empty")
	}

	if filepath.IsAbs(value) {
		if _, err := os.Stat(value); err != nil {
			return "", fmt.Errorf("template image not found: %s", value)
		}
		return value, nil
	}

	for _, dir := range g.searchDirs {
		candidate := filepath.Join(dir, value)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("template image not found: %s", value)
}

// parseMatch reads the first visgrep match line ("x,y index").
func parseMatch(out string) (x, y int, ok bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		coords, _, _ := strings.Cut(line, " ")
		xs, ys, found := strings.Cut(coords, ",")
		if !found {
			continue
		}
		px, errX := strconv.Atoi(xs)
		py, errY := strconv.Atoi(ys)
		if errX != nil || errY != nil {
			continue
		}
		return px, py, true
	}
	return 0, 0, false
}

// tolerance converts the document's confidence (1.0 exact) into visgrep's
// tolerance scale (0 exact, larger is looser).
func tolerance(confidence float64) int {
	if confidence <= 0 || confidence > 1 {
		confidence = 0.9
	}
	return int(math.Round((1.0 - confidence) * 1000))
}

func pngSize(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, err := png.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
