package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const sampleMonitors = `Monitors: 2
 0: +*eDP-1 1920/344x1080/194+0+0  eDP-1
 1: +HDMI-1 2560/597x1440/336+1920+0  HDMI-1
`

const sampleWindows = `0x01e00003 -1 0    0    1920 32   host xfce4-panel
0x03a00007  0 0    0    1920 1080 host Desktop
0x04400003  0 100  200  800  600  host Terminal - bash  (tmux)
garbage line
`

func TestParseMonitors(t *testing.T) {
	sources := parseMonitors(sampleMonitors)
	if len(sources) != 2 {
		t.Fatalf("Expected 2 monitors, got %d", len(sources))
	}

	if sources[0].ID != "screen:0:1920x1080+0+0" {
		t.Errorf("Unexpected first id: %s", sources[0].ID)
	}
	if sources[0].Name != "Screen 1 (eDP-1)" {
		t.Errorf("Unexpected first name: %s", sources[0].Name)
	}
	if sources[1].ID != "screen:1:2560x1440+1920+0" {
		t.Errorf("Unexpected second id: %s", sources[1].ID)
	}
}

func TestParseWindows(t *testing.T) {
	sources := parseWindows(sampleWindows)
	if len(sources) != 2 {
		t.Fatalf("Expected 2 windows (sticky panel skipped), got %d: %+v", len(sources), sources)
	}

	if sources[1].ID != "window:0x04400003" {
		t.Errorf("Unexpected id: %s", sources[1].ID)
	}
	if sources[1].Name != "Terminal - bash (tmux)" {
		t.Errorf("Unexpected title: %q", sources[1].Name)
	}
}

func TestParseSourceID(t *testing.T) {
	tests := []struct {
		id      string
		want    SourceRef
		wantErr bool
	}{
		{id: "screen:1:2560x1440+1920+0", want: SourceRef{Kind: KindScreen, Index: 1, Geometry: Geometry{2560, 1440, 1920, 0}}},
		{id: "window:0x04400003", want: SourceRef{Kind: KindWindow, WindowID: "0x04400003"}},
		{id: "window:1234", wantErr: true},
		{id: "window:0xzz", wantErr: true},
		{id: "screen:a:1x1+0+0", wantErr: true},
		{id: "screen:0:1920x1080", wantErr: true},
		{id: "tab:3", wantErr: true},
		{id: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := ParseSourceID(tt.id)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q, got %+v", tt.id, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSourceID(%q) = %+v, want %+v", tt.id, got, tt.want)
			}
		})
	}
}

func TestScreenIDRoundTrip(t *testing.T) {
	g := Geometry{Width: 1280, Height: 720, X: 10, Y: 20}
	ref, err := ParseSourceID(ScreenID(3, g))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if ref.Index != 3 || ref.Geometry != g {
		t.Errorf("Round trip lost data: %+v", ref)
	}
}

// fakeRunner answers commands from a table instead of running them
func fakeRunner(outputs map[string]string, failures map[string]error) CommandRunner {
	return func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		if err, ok := failures[name]; ok {
			return nil, err
		}
		if out, ok := outputs[name]; ok {
			return []byte(out), nil
		}
		return nil, errors.New("unexpected command: " + name + " " + strings.Join(args, " "))
	}
}

func TestX11_ListSources(t *testing.T) {
	x := NewX11(":0", true)
	x.run = fakeRunner(map[string]string{
		"xrandr": sampleMonitors,
		"wmctrl": sampleWindows,
		"import": "\x89PNG",
	}, nil)

	sources, err := x.ListSources(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(sources) != 4 {
		t.Fatalf("Expected 4 sources, got %d", len(sources))
	}
	for _, s := range sources {
		if string(s.Thumbnail) != "\x89PNG" {
			t.Errorf("Expected thumbnail for %s", s.ID)
		}
	}
}

func TestX11_ListSources_NoWmctrl(t *testing.T) {
	x := NewX11(":0", false)
	x.run = fakeRunner(map[string]string{"xrandr": sampleMonitors}, map[string]error{"wmctrl": errors.New("not found")})

	sources, err := x.ListSources(context.Background())
	if err != nil {
		t.Fatalf("Expected screens despite missing wmctrl, got: %v", err)
	}
	if len(sources) != 2 {
		t.Errorf("Expected 2 screens, got %d", len(sources))
	}
	if sources[0].Thumbnail != nil {
		t.Error("Thumbnails are disabled, expected none")
	}
}

func TestX11_ListSources_ThumbnailFailure(t *testing.T) {
	x := NewX11(":0", true)
	x.run = fakeRunner(map[string]string{"xrandr": sampleMonitors, "wmctrl": ""}, map[string]error{"import": errors.New("no imagemagick")})

	sources, err := x.ListSources(context.Background())
	if err != nil {
		t.Fatalf("Thumbnail failures must not fail enumeration, got: %v", err)
	}
	if len(sources) != 2 || sources[0].Thumbnail != nil {
		t.Errorf("Unexpected sources: %+v", sources)
	}
}

func TestX11_ListSources_XrandrFailure(t *testing.T) {
	x := NewX11(":0", false)
	x.run = fakeRunner(nil, map[string]error{"xrandr": errors.New("cannot open display")})

	_, err := x.ListSources(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to list screens") {
		t.Errorf("Expected 'failed to list screens', got: %v", err)
	}
}
