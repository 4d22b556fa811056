package capture

import (
	"fmt"
	"strconv"
	"strings"
)

type SourceKind string

const (
	KindScreen SourceKind = "screen"
	KindWindow SourceKind = "window"
)

// RawSource is one enumerated source before the host converts it for display.
type RawSource struct {
	ID        string
	Name      string
	Thumbnail []byte // PNG, may be empty
}

// Geometry is an X11 rectangle in pixels.
type Geometry struct {
	Width  int
	Height int
	X      int
	Y      int
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", g.Width, g.Height, g.X, g.Y)
}

// ParseGeometry reads "WxH+X+Y".
func ParseGeometry(s string) (Geometry, error) {
	var g Geometry
	size, offset, ok := strings.Cut(s, "+")
	if !ok {
		return g, fmt.Errorf("invalid geometry: %s", s)
	}
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return g, fmt.Errorf("invalid geometry: %s", s)
	}
	x, y, ok := strings.Cut(offset, "+")
	if !ok {
		return g, fmt.Errorf("invalid geometry: %s", s)
	}

	var err error
	if g.Width, err = strconv.Atoi(w); err != nil {
		return g, fmt.Errorf("invalid geometry width: %s", s)
	}
	if g.Height, err = strconv.Atoi(h); err != nil {
		return g, fmt.Errorf("invalid geometry height: %s", s)
	}
	if g.X, err = strconv.Atoi(x); err != nil {
		return g, fmt.Errorf("invalid geometry x: %s", s)
	}
	if g.Y, err = strconv.Atoi(y); err != nil {
		return g, fmt.Errorf("invalid geometry y: %s", s)
	}
	return g, nil
}

// SourceRef is the decoded form of a source id.
type SourceRef struct {
	Kind     SourceKind
	Index    int      // screens only
	Geometry Geometry // screens only
	WindowID string   // windows only, e.g. "0x04400003"
}

func ScreenID(index int, g Geometry) string {
	return fmt.Sprintf("%s:%d:%s", KindScreen, index, g)
}

func WindowID(id string) string {
	return fmt.Sprintf("%s:%s", KindWindow, id)
}

// ParseSourceID decodes ids produced by ScreenID and WindowID.
func ParseSourceID(id string) (SourceRef, error) {
	kind, rest, ok := strings.Cut(id, ":")
	if !ok || rest == "" {
		return SourceRef{}, fmt.Errorf("invalid source id: %q", id)
	}

	switch SourceKind(kind) {
	case KindScreen:
		index, geometry, ok := strings.Cut(rest, ":")
		if !ok {
			return SourceRef{}, fmt.Errorf("invalid screen id: %q", id)
		}
		n, err := strconv.Atoi(index)
		if err != nil {
			return SourceRef{}, fmt.Errorf("invalid screen index in %q", id)
		}
		g, err := ParseGeometry(geometry)
		if err != nil {
			return SourceRef{}, fmt.Errorf("invalid screen id %q: %w", id, err)
		}
		return SourceRef{Kind: KindScreen, Index: n, Geometry: g}, nil

	case KindWindow:
		if !strings.HasPrefix(rest, "0x") {
			return SourceRef{}, fmt.Errorf("invalid window id: %q", id)
		}
		if _, err := strconv.ParseUint(rest[2:], 16, 64); err != nil {
			return SourceRef{}, fmt.Errorf("invalid window id: %q", id)
		}
		return SourceRef{Kind: KindWindow, WindowID: rest}, nil
	}

	return SourceRef{}, fmt.Errorf("unknown source kind in %q", id)
}
