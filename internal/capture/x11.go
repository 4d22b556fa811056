package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ThumbnailWidth is the width thumbnails are scaled to, height follows the aspect ratio.
const ThumbnailWidth = 320

// X11 enumerates monitors with xrandr and top-level windows with wmctrl.
type X11 struct {
	display    string
	thumbnails bool
	run        CommandRunner
}

func NewX11(display string, thumbnails bool) *X11 {
	return &X11{
		display:    display,
		thumbnails: thumbnails,
		run:        execRunner,
	}
}

// ListSources returns screens first, then windows. Missing wmctrl only drops the
// window list; a failing xrandr fails the whole enumeration.
func (x *X11) ListSources(ctx context.Context) ([]RawSource, error) {
	env := x.env()

	output, err := x.run(ctx, env, "xrandr", "--listmonitors")
	if err != nil {
		return nil, fmt.Errorf("failed to list screens: %w", err)
	}
	sources := parseMonitors(string(output))

	output, err = x.run(ctx, env, "wmctrl", "-lG")
	if err != nil {
		slog.Warn("Window listing unavailable, offering screens only", "error", err)
	} else {
		sources = append(sources, parseWindows(string(output))...)
	}

	if x.thumbnails {
		for i := range sources {
			sources[i].Thumbnail = x.thumbnail(ctx, env, sources[i].ID)
		}
	}

	return sources, nil
}

func (x *X11) env() []string {
	env := os.Environ()
	if x.display != "" {
		env = append(env, "DISPLAY="+x.display)
	}
	return env
}

// thumbnail grabs a scaled PNG with ImageMagick. Failures leave the thumbnail empty.
func (x *X11) thumbnail(ctx context.Context, env []string, id string) []byte {
	ref, err := ParseSourceID(id)
	if err != nil {
		return nil
	}

	resize := fmt.Sprintf("%dx", ThumbnailWidth)
	var args []string
	switch ref.Kind {
	case KindScreen:
		args = []string{"-window", "root", "-crop", ref.Geometry.String(), "-resize", resize, "png:-"}
	case KindWindow:
		args = []string{"-window", ref.WindowID, "-resize", resize, "png:-"}
	}

	png, err := x.run(ctx, env, "import", args...)
	if err != nil {
		slog.Debug("Failed to capture thumbnail", "source", id, "error", err)
		return nil
	}
	return png
}

// parseMonitors reads `xrandr --listmonitors` output:
//
//	Monitors: 2
//	 0: +*eDP-1 1920/344x1080/194+0+0  eDP-1
//	 1: +HDMI-1 2560/597x1440/336+1920+0  HDMI-1
func parseMonitors(output string) []RawSource {
	var sources []RawSource

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Monitors:") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		index, err := strconv.Atoi(strings.TrimSuffix(fields[0], ":"))
		if err != nil {
			continue
		}

		g, err := parseMonitorGeometry(fields[2])
		if err != nil {
			slog.Debug("Skipping monitor with unreadable geometry", "line", line, "error", err)
			continue
		}

		connector := strings.TrimLeft(fields[1], "+*")
		sources = append(sources, RawSource{
			ID:   ScreenID(index, g),
			Name: fmt.Sprintf("Screen %d (%s)", index+1, connector),
		})
	}

	return sources
}

// parseMonitorGeometry strips the physical size from "1920/344x1080/194+0+0".
func parseMonitorGeometry(s string) (Geometry, error) {
	var b strings.Builder
	skipping := false
	for _, r := range s {
		switch {
		case r == '/':
			skipping = true
		case r == 'x' || r == '+':
			skipping = false
			b.WriteRune(r)
		case !skipping:
			b.WriteRune(r)
		}
	}
	return ParseGeometry(b.String())
}

// parseWindows reads `wmctrl -lG` output:
//
//	0x04400003  0 100  200  800  600  host Terminal - bash
//
// Sticky windows (desktop -1) such as panels and docks are skipped.
func parseWindows(output string) []RawSource {
	var sources []RawSource

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 8 {
			continue
		}
		if !strings.HasPrefix(fields[0], "0x") || fields[1] == "-1" {
			continue
		}

		title := strings.Join(fields[7:], " ")
		if title == "" {
			continue
		}

		sources = append(sources, RawSource{
			ID:   WindowID(fields[0]),
			Name: title,
		})
	}

	return sources
}
